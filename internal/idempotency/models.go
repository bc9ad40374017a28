// Package idempotency deduplicates repeated client submissions by
// client-supplied key plus request-body hash, replaying the stored response
// for true retries and rejecting key reuse with a different payload.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL is how long a record shields its key from re-execution.
const DefaultTTL = 24 * time.Hour

// Record is one deduplicated submission. ResponseStatus is zero until the
// response is stored, which marks the request as still in flight.
type Record struct {
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the record's shield has lapsed.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasResponse reports whether a response was stored for replay.
func (r *Record) HasResponse() bool {
	return r.ResponseStatus != 0
}

// HashBody computes the canonical request-body hash.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
