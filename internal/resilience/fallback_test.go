package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

func TestFallbackResolve(t *testing.T) {
	r, err := NewFallbackResolver(map[domain.ChannelType]domain.ChannelType{
		domain.ChannelSMS:   domain.ChannelPush,
		domain.ChannelVoice: domain.ChannelSMS,
	})
	require.NoError(t, err)

	fallback, ok := r.Resolve(domain.ChannelSMS)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelPush, fallback)

	_, ok = r.Resolve(domain.ChannelPush)
	assert.False(t, ok, "PUSH has no configured fallback")
	_, ok = r.Resolve(domain.ChannelBiometric)
	assert.False(t, ok)
}

func TestFallbackRejectsCycles(t *testing.T) {
	tests := []struct {
		name   string
		chains map[domain.ChannelType]domain.ChannelType
	}{
		{
			name:   "self loop",
			chains: map[domain.ChannelType]domain.ChannelType{domain.ChannelSMS: domain.ChannelSMS},
		},
		{
			name: "two-cycle",
			chains: map[domain.ChannelType]domain.ChannelType{
				domain.ChannelSMS:  domain.ChannelPush,
				domain.ChannelPush: domain.ChannelSMS,
			},
		},
		{
			name: "three-cycle",
			chains: map[domain.ChannelType]domain.ChannelType{
				domain.ChannelSMS:   domain.ChannelPush,
				domain.ChannelPush:  domain.ChannelVoice,
				domain.ChannelVoice: domain.ChannelSMS,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFallbackResolver(tt.chains)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestFallbackAllowsChainsThatMerge(t *testing.T) {
	// Two primaries sharing the same fallback is fine as long as no walk
	// returns to its start.
	_, err := NewFallbackResolver(map[domain.ChannelType]domain.ChannelType{
		domain.ChannelSMS:   domain.ChannelVoice,
		domain.ChannelPush:  domain.ChannelVoice,
		domain.ChannelVoice: domain.ChannelBiometric,
	})
	assert.NoError(t, err)
}

func TestParseFallbackChains(t *testing.T) {
	r, err := ParseFallbackChains(map[string]string{"SMS": "PUSH", "VOICE": "SMS"})
	require.NoError(t, err)
	fallback, ok := r.Resolve(domain.ChannelVoice)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelSMS, fallback)

	_, err = ParseFallbackChains(map[string]string{"SMS": "CARRIER_PIGEON"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCoordinatorTracksPerProvider(t *testing.T) {
	fallbacks, err := NewFallbackResolver(map[domain.ChannelType]domain.ChannelType{
		domain.ChannelSMS: domain.ChannelPush,
	})
	require.NoError(t, err)

	var events []BreakerEvent
	c := NewCoordinator(
		BreakerConfig{WindowSize: 10, FailureRateThreshold: 0.5, MinCalls: 4, HalfOpenMaxCalls: 2},
		DegradedConfig{ErrorRateThreshold: 0.8, MinCalls: 4},
		fallbacks,
		func(e BreakerEvent) { events = append(events, e) },
	)

	for loopIdx := 0; loopIdx < 4; loopIdx++ {
		c.RecordFailure(domain.ProviderSMS)
	}
	assert.False(t, c.AllowCall(domain.ProviderSMS))
	assert.True(t, c.AllowCall(domain.ProviderPush), "other providers unaffected")
	assert.Equal(t, StateOpen, c.BreakerState(domain.ProviderSMS))
	assert.Equal(t, StateClosed, c.BreakerState(domain.ProviderPush))

	assert.True(t, c.IsProviderDegraded(domain.ProviderSMS))
	assert.True(t, c.IsSystemDegraded())

	fallback, ok := c.Fallback(domain.ChannelSMS)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelPush, fallback)

	require.NotEmpty(t, events)
	assert.Equal(t, BreakerOpened, events[0].Type)
	assert.Equal(t, domain.ProviderSMS, events[0].Provider)
}
