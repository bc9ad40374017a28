package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config captures process-level configuration. Values come from SIGNGW_*
// environment variables so main stays lean.
type Config struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	RedisURL    string `envconfig:"REDIS_URL"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"signing.events"`

	// JWTSigningKey verifies bearer tokens on the HTTP surface.
	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	JWTIssuer     string `envconfig:"JWT_ISSUER" default:"sign-gateway"`
	JWTAudience   string `envconfig:"JWT_AUDIENCE" default:"sign-gateway-clients"`

	// AdminToken guards the routing rule admin endpoints. Empty disables
	// admin access entirely.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	// PseudonymKey is the HMAC key for customer id pseudonymization. In
	// production it is injected from a secret store, never checked in.
	PseudonymKey string `envconfig:"PSEUDONYM_KEY" default:"dev-pseudonym-key-change-in-production"`

	SignatureTTL   time.Duration `envconfig:"SIGNATURE_TTL" default:"3m"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	DefaultChannel string `envconfig:"DEFAULT_CHANNEL" default:"SMS"`
	// FallbackChains maps primary channel to its single fallback channel.
	// Chains are one hop and must not form cycles.
	FallbackChains map[string]string `envconfig:"FALLBACK_CHAINS" default:"SMS:PUSH,VOICE:SMS"`

	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s"`

	BreakerWindowSize       int           `envconfig:"BREAKER_WINDOW_SIZE" default:"20"`
	BreakerFailureRate      float64       `envconfig:"BREAKER_FAILURE_RATE" default:"0.5"`
	BreakerMinCalls         int           `envconfig:"BREAKER_MIN_CALLS" default:"10"`
	BreakerOpenDuration     time.Duration `envconfig:"BREAKER_OPEN_DURATION" default:"30s"`
	BreakerHalfOpenMaxCalls int           `envconfig:"BREAKER_HALF_OPEN_MAX_CALLS" default:"3"`

	DegradedErrorRate float64       `envconfig:"DEGRADED_ERROR_RATE" default:"0.8"`
	DegradedWindow    time.Duration `envconfig:"DEGRADED_WINDOW" default:"1m"`

	GlobalRateLimit      int           `envconfig:"GLOBAL_RATE_LIMIT" default:"500"`
	GlobalRateWindow     time.Duration `envconfig:"GLOBAL_RATE_WINDOW" default:"1s"`
	CustomerRateLimit    int           `envconfig:"CUSTOMER_RATE_LIMIT" default:"10"`
	CustomerRateWindow   time.Duration `envconfig:"CUSTOMER_RATE_WINDOW" default:"1m"`
	ExpirySweepInterval  time.Duration `envconfig:"EXPIRY_SWEEP_INTERVAL" default:"30s"`
	IdempotencySweep     time.Duration `envconfig:"IDEMPOTENCY_SWEEP_INTERVAL" default:"10m"`
	ResendSweepInterval  time.Duration `envconfig:"RESEND_SWEEP_INTERVAL" default:"1m"`
	OutboxPollInterval   time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize      int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	ShutdownGracePeriod  time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"10s"`
}

// FromEnv builds a Config from SIGNGW_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("SIGNGW", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	return cfg, nil
}
