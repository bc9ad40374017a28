package signing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

func testContext(t *testing.T) TransactionContext {
	t.Helper()
	ctx, err := NewTransactionContext(decimal.RequireFromString("100.00"), "EUR", "merchant-1", "order-1", "test purchase")
	require.NoError(t, err)
	return ctx
}

func testRequest(t *testing.T, now time.Time) *SignatureRequest {
	t.Helper()
	r, err := NewSignatureRequest("pseudo-1", testContext(t), now, 3*time.Minute, false)
	require.NoError(t, err)
	return r
}

func sentChallenge(t *testing.T, r *SignatureRequest, now time.Time) *SignatureChallenge {
	t.Helper()
	c := &SignatureChallenge{
		ID:        domain.NewChallengeID(),
		Channel:   domain.ChannelSMS,
		Provider:  domain.ProviderSMS,
		Status:    ChallengePending,
		Code:      "123456",
		CreatedAt: now,
		ExpiresAt: now.Add(3 * time.Minute),
	}
	require.NoError(t, r.AttachChallenge(c))
	require.NoError(t, r.MarkChallengeSent(c, "provider-ref-1", now))
	return c
}

func TestNewSignatureRequest(t *testing.T) {
	now := time.Now()

	t.Run("starts PENDING with expiry after creation", func(t *testing.T) {
		r := testRequest(t, now)
		assert.Equal(t, StatusPending, r.Status)
		assert.True(t, r.ExpiresAt.After(r.CreatedAt))
		assert.False(t, r.ID.IsNil())
	})

	t.Run("starts PENDING_DEGRADED under degraded mode", func(t *testing.T) {
		r, err := NewSignatureRequest("pseudo-1", testContext(t), now, 3*time.Minute, true)
		require.NoError(t, err)
		assert.Equal(t, StatusPendingDegraded, r.Status)
	})

	t.Run("rejects empty pseudonym", func(t *testing.T) {
		_, err := NewSignatureRequest("", testContext(t), now, 3*time.Minute, false)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects non-positive TTL", func(t *testing.T) {
		_, err := NewSignatureRequest("pseudo-1", testContext(t), now, 0, false)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestTransactionContext(t *testing.T) {
	t.Run("hash is 64 hex chars and stable", func(t *testing.T) {
		a := testContext(t)
		b := testContext(t)
		assert.Len(t, a.Hash, 64)
		assert.Equal(t, a.Hash, b.Hash)
		assert.True(t, a.VerifyHash())
	})

	t.Run("trailing zeros do not change the hash", func(t *testing.T) {
		a, err := NewTransactionContext(decimal.RequireFromString("100.00"), "EUR", "m", "o", "")
		require.NoError(t, err)
		b, err := NewTransactionContext(decimal.RequireFromString("100.000"), "EUR", "m", "o", "")
		require.NoError(t, err)
		assert.Equal(t, a.Hash, b.Hash)
	})

	t.Run("any field change changes the hash", func(t *testing.T) {
		a := testContext(t)
		b, err := NewTransactionContext(decimal.RequireFromString("100.01"), "EUR", "merchant-1", "order-1", "test purchase")
		require.NoError(t, err)
		assert.NotEqual(t, a.Hash, b.Hash)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := NewTransactionContext(decimal.Zero, "EUR", "m", "o", "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = NewTransactionContext(decimal.NewFromInt(1), "EURO", "m", "o", "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = NewTransactionContext(decimal.NewFromInt(1), "EUR", "", "o", "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestAttachChallenge(t *testing.T) {
	now := time.Now()

	t.Run("enforces at most one active challenge", func(t *testing.T) {
		r := testRequest(t, now)
		sentChallenge(t, r, now)

		err := r.AttachChallenge(&SignatureChallenge{ID: domain.NewChallengeID(), Status: ChallengePending})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects attach on terminal request", func(t *testing.T) {
		r := testRequest(t, now)
		require.NoError(t, r.Abort("USER_CANCELLED", now))

		err := r.AttachChallenge(&SignatureChallenge{ID: domain.NewChallengeID(), Status: ChallengePending})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

func TestCompleteChallenge(t *testing.T) {
	now := time.Now()

	t.Run("correct code signs exactly once", func(t *testing.T) {
		r := testRequest(t, now)
		c := sentChallenge(t, r, now)

		mutated, err := r.CompleteChallenge(c.ID, "123456", now)
		require.NoError(t, err)
		assert.True(t, mutated)
		assert.Equal(t, StatusSigned, r.Status)
		assert.Equal(t, ChallengeCompleted, c.Status)
		require.NotNil(t, r.SignedAt)
		require.NotNil(t, c.CompletedAt)

		// Second completion attempt on the same challenge must fail.
		_, err = r.CompleteChallenge(c.ID, "123456", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		assert.Equal(t, StatusSigned, r.Status)
	})

	t.Run("unknown challenge id", func(t *testing.T) {
		r := testRequest(t, now)
		sentChallenge(t, r, now)

		_, err := r.CompleteChallenge(domain.NewChallengeID(), "123456", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeChallengeNotFound))
	})

	t.Run("completion requires SENT and names the actual status", func(t *testing.T) {
		r := testRequest(t, now)
		c := &SignatureChallenge{
			ID:        domain.NewChallengeID(),
			Status:    ChallengePending,
			Code:      "123456",
			ExpiresAt: now.Add(time.Minute),
		}
		require.NoError(t, r.AttachChallenge(c))

		mutated, err := r.CompleteChallenge(c.ID, "123456", now)
		assert.False(t, mutated)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		assert.Contains(t, err.Error(), "PENDING")
	})

	t.Run("three wrong codes exhaust the attempt budget", func(t *testing.T) {
		r := testRequest(t, now)
		c := sentChallenge(t, r, now)

		for attempt := 1; attempt <= 2; attempt++ {
			mutated, err := r.CompleteChallenge(c.ID, "999999", now)
			assert.True(t, mutated, "failed attempts mutate the counter")
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidChallengeCode))
			remaining, ok := dErrors.Detail(err, "remaining_attempts")
			require.True(t, ok)
			assert.Equal(t, MaxCompletionAttempts-attempt, remaining)
			assert.Equal(t, ChallengeSent, c.Status, "non-terminal attempts leave status unchanged")
		}

		mutated, err := r.CompleteChallenge(c.ID, "999999", now)
		assert.True(t, mutated)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidChallengeCode))
		assert.Equal(t, ChallengeFailed, c.Status)
		assert.Equal(t, ErrorCodeMaxAttempts, c.ErrorCode)
		assert.Equal(t, StatusFailed, r.Status)
	})

	t.Run("expired challenge wins over code correctness", func(t *testing.T) {
		r := testRequest(t, now)
		c := sentChallenge(t, r, now)

		late := c.ExpiresAt.Add(time.Second)
		mutated, err := r.CompleteChallenge(c.ID, "123456", late)
		assert.True(t, mutated)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		assert.Equal(t, ChallengeExpired, c.Status)
		assert.Equal(t, StatusExpired, r.Status)
		assert.Zero(t, c.FailedAttempts, "expiry does not consume an attempt")
	})
}

func TestAbort(t *testing.T) {
	now := time.Now()

	t.Run("abort fails open challenges", func(t *testing.T) {
		r := testRequest(t, now)
		c := sentChallenge(t, r, now)

		require.NoError(t, r.Abort("USER_CANCELLED", now))
		assert.Equal(t, StatusAborted, r.Status)
		assert.Equal(t, "USER_CANCELLED", r.AbortReason)
		require.NotNil(t, r.AbortedAt)
		assert.Equal(t, ChallengeFailed, c.Status)
		assert.Equal(t, ErrorCodeAborted, c.ErrorCode)
	})

	t.Run("abort is illegal from terminal states", func(t *testing.T) {
		r := testRequest(t, now)
		c := sentChallenge(t, r, now)
		_, err := r.CompleteChallenge(c.ID, "123456", now)
		require.NoError(t, err)

		err = r.Abort("USER_CANCELLED", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		assert.Equal(t, StatusSigned, r.Status, "state unchanged after illegal transition")
	})
}

func TestMarkExpired(t *testing.T) {
	now := time.Now()

	r := testRequest(t, now)
	c := sentChallenge(t, r, now)

	require.NoError(t, r.MarkExpired(now.Add(5*time.Minute)))
	assert.Equal(t, StatusExpired, r.Status)
	assert.Equal(t, ChallengeExpired, c.Status)

	err := r.MarkExpired(now.Add(6 * time.Minute))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func TestStatusTransitionTable(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusChallenged))
	assert.True(t, StatusPendingDegraded.CanTransition(StatusAborted))
	assert.True(t, StatusChallenged.CanTransition(StatusSigned))

	for _, terminal := range []Status{StatusSigned, StatusFailed, StatusExpired, StatusAborted} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []Status{StatusPending, StatusChallenged, StatusSigned, StatusAborted} {
			assert.False(t, terminal.CanTransition(to), "%s -> %s must be illegal", terminal, to)
		}
	}
}
