// Command server wires the signature gateway: stores, resilience, routing,
// the signing service, the HTTP surface, the outbox relay, and the
// background sweeps. Business logic lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"sign-gateway/internal/admission"
	admissionmetrics "sign-gateway/internal/admission/metrics"
	"sign-gateway/internal/challenge"
	"sign-gateway/internal/idempotency"
	"sign-gateway/internal/jwttoken"
	"sign-gateway/internal/outbox"
	outboxmetrics "sign-gateway/internal/outbox/metrics"
	"sign-gateway/internal/platform/config"
	"sign-gateway/internal/platform/httpserver"
	"sign-gateway/internal/platform/kafka"
	"sign-gateway/internal/platform/logger"
	platformredis "sign-gateway/internal/platform/redis"
	"sign-gateway/internal/provider"
	"sign-gateway/internal/pseudonym"
	"sign-gateway/internal/resilience"
	resiliencemetrics "sign-gateway/internal/resilience/metrics"
	"sign-gateway/internal/routing"
	routinghandler "sign-gateway/internal/routing/handler"
	routingmetrics "sign-gateway/internal/routing/metrics"
	routingservice "sign-gateway/internal/routing/service"
	routingstore "sign-gateway/internal/routing/store"
	signinghandler "sign-gateway/internal/signing/handler"
	signingmetrics "sign-gateway/internal/signing/metrics"
	signingservice "sign-gateway/internal/signing/service"
	signingstore "sign-gateway/internal/signing/store"
	httptransport "sign-gateway/internal/transport/http"
	"sign-gateway/pkg/domain"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(rootCtx); err != nil {
			return err
		}
	}

	redisClient, err := platformredis.New(rootCtx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores fall back to memory when postgres is not configured, so the
	// gateway runs self-contained in development.
	var (
		requestStore signingservice.RequestStore
		ruleStore    routingservice.RuleStore
		outboxStore  outbox.Store
		idemStore    idempotency.Store
		txRunner     signingservice.TxRunner
	)
	switch {
	case db != nil:
		requestStore = signingstore.NewPostgresRequestStore(db)
		ruleStore = routingstore.NewPostgresRuleStore(db)
		outboxStore = outbox.NewPostgresStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		txRunner = newPostgresTxRunner(db)
	default:
		requestStore = signingstore.NewMemoryRequestStore()
		ruleStore = routingstore.NewMemoryRuleStore()
		outboxStore = outbox.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore()
		txRunner = signingservice.NewMemoryTxRunner()
	}
	if redisClient != nil {
		idemStore = idempotency.NewRedisStore(redisClient)
	}

	publisher := outbox.NewPublisher(outboxStore, outbox.WithLogger(log))

	fallbacks, err := resilience.ParseFallbackChains(cfg.FallbackChains)
	if err != nil {
		return err
	}
	resMetrics := resiliencemetrics.New()
	coordinator := resilience.NewCoordinator(
		resilience.BreakerConfig{
			WindowSize:           cfg.BreakerWindowSize,
			FailureRateThreshold: cfg.BreakerFailureRate,
			MinCalls:             cfg.BreakerMinCalls,
			OpenDuration:         cfg.BreakerOpenDuration,
			HalfOpenMaxCalls:     cfg.BreakerHalfOpenMaxCalls,
		},
		resilience.DegradedConfig{
			ErrorRateThreshold: cfg.DegradedErrorRate,
			Window:             cfg.DegradedWindow,
		},
		fallbacks,
		stageBreakerEvents(txRunner, publisher, log),
		resilience.WithLogger(log),
		resilience.WithMetrics(resMetrics),
	)

	registry, err := provider.NewRegistry(
		provider.NewStub(domain.ProviderSMS, provider.WithStubLogger(log)),
		provider.NewStub(domain.ProviderPush, provider.WithStubLogger(log)),
		provider.NewStub(domain.ProviderVoice, provider.WithStubLogger(log)),
		provider.NewStub(domain.ProviderBiometric, provider.WithStubLogger(log)),
	)
	if err != nil {
		return err
	}
	orchestrator := challenge.NewOrchestrator(registry, coordinator,
		challenge.WithLogger(log),
		challenge.WithMetrics(resMetrics),
		challenge.WithProviderTimeout(cfg.ProviderTimeout),
	)

	defaultChannel, err := domain.ParseChannelType(cfg.DefaultChannel)
	if err != nil {
		return err
	}
	engine, err := routing.NewEngine(ruleStore, defaultChannel,
		routing.WithLogger(log),
		routing.WithMetrics(routingmetrics.New()),
	)
	if err != nil {
		return err
	}
	ruleService, err := routingservice.New(ruleStore, routingservice.WithLogger(log))
	if err != nil {
		return err
	}

	var limiter admission.Limiter = admission.NewMemoryLimiter()
	if redisClient != nil {
		limiter = admission.NewRedisLimiter(redisClient)
	}
	admitter := admission.NewController(limiter, admission.Config{
		GlobalLimit:    cfg.GlobalRateLimit,
		GlobalWindow:   cfg.GlobalRateWindow,
		CustomerLimit:  cfg.CustomerRateLimit,
		CustomerWindow: cfg.CustomerRateWindow,
	},
		admission.WithLogger(log),
		admission.WithMetrics(admissionmetrics.New()),
	)

	pseudonyms, err := pseudonym.NewService([]byte(cfg.PseudonymKey))
	if err != nil {
		return err
	}
	idemService := idempotency.NewService(idemStore,
		idempotency.WithLogger(log),
		idempotency.WithTTL(cfg.IdempotencyTTL),
	)

	signingService := signingservice.New(
		requestStore, engine, orchestrator, publisher,
		admitter, pseudonyms, idemService, coordinator,
		signingservice.WithLogger(log),
		signingservice.WithMetrics(signingmetrics.New()),
		signingservice.WithTTL(cfg.SignatureTTL),
		signingservice.WithTxRunner(txRunner),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Signing:   signinghandler.New(signingService, log, jwttoken.NewJWTServiceAdapter(jwtService)),
		Routing:   routinghandler.New(ruleService, cfg.AdminToken, log),
		Providers: registry,
		Checks:    healthChecks(db, redisClient),
	})

	srv := httpserver.New(cfg.Addr, router)
	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("starting sign-gateway", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(rootCtx, cfg.KafkaTopic, 6); err != nil {
			return err
		}
		relay := outbox.NewRelay(outboxStore, producer, cfg.KafkaTopic,
			outbox.WithRelayLogger(log),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithRelayMetrics(outboxmetrics.New()),
		)
		g.Go(func() error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(sweep(ctx, cfg.ExpirySweepInterval, func(ctx context.Context) {
		if n, err := signingService.ExpireSweep(ctx); err != nil {
			log.Warn("expiry sweep failed", "error", err)
		} else if n > 0 {
			log.Info("expiry sweep", "expired", n)
		}
	}))
	g.Go(sweep(ctx, cfg.ResendSweepInterval, func(ctx context.Context) {
		if n, err := signingService.ResendDegraded(ctx, 100); err != nil {
			log.Warn("degraded resend failed", "error", err)
		} else if n > 0 {
			log.Info("degraded resend", "sent", n)
		}
	}))
	g.Go(sweep(ctx, cfg.IdempotencySweep, func(ctx context.Context) {
		if _, err := idemService.DeleteExpired(ctx); err != nil {
			log.Warn("idempotency sweep failed", "error", err)
		}
	}))

	return g.Wait()
}

// stageBreakerEvents persists circuit transitions through the outbox so
// downstream consumers see provider health changes alongside domain events.
func stageBreakerEvents(runner signingservice.TxRunner, publisher *outbox.Publisher, log *slog.Logger) resilience.EventSink {
	return func(event resilience.BreakerEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := runner.RunInTx(ctx, func(txc context.Context) error {
			return publisher.Publish(txc, event)
		})
		if err != nil {
			log.Warn("staging breaker event failed",
				"provider", event.Provider.String(),
				"transition", string(event.Type),
				"error", err,
			)
		}
	}
}

func healthChecks(db *sql.DB, redisClient *platformredis.Client) map[string]httptransport.HealthChecker {
	checks := map[string]httptransport.HealthChecker{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	return checks
}

// sweep runs fn on a fixed interval until the context ends.
func sweep(ctx context.Context, interval time.Duration, fn func(context.Context)) func() error {
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	}
}
