// Package provider defines the outbound port for challenge delivery and the
// registry of configured providers. The challenge orchestrator talks to
// providers only through this port; concrete adapters live alongside it.
package provider

import (
	"context"
	"time"

	"sign-gateway/pkg/domain"
)

// Delivery is everything a provider needs to put a challenge in front of the
// customer. The pseudonym stands in for the customer identity; providers
// never see the raw identifier.
type Delivery struct {
	ChallengeID domain.ChallengeID
	RequestID   domain.SignatureRequestID
	Pseudonym   string
	Channel     domain.ChannelType
	Code        string
	ExpiresAt   time.Time
}

// Result is the provider's acknowledgement of an accepted delivery.
type Result struct {
	// ProviderChallengeID is the provider-side reference for the delivery,
	// recorded on the challenge for support lookups.
	ProviderChallengeID string
	Message             string
}

// HealthStatus is a point-in-time provider health probe result.
type HealthStatus struct {
	Healthy   bool
	Detail    string
	CheckedAt time.Time
}

// Provider is the delivery adapter for one channel.
type Provider interface {
	// Type identifies which provider slot this adapter serves.
	Type() domain.ProviderType

	// Send delivers the challenge. An error means the provider did not
	// accept the delivery; the caller decides on fallback.
	Send(ctx context.Context, d Delivery) (Result, error)

	// CheckHealth probes the provider without sending anything.
	CheckHealth(ctx context.Context) HealthStatus
}
