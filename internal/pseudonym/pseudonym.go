// Package pseudonym replaces clear customer identifiers with keyed digests
// before anything touches storage or providers.
package pseudonym

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	dErrors "sign-gateway/pkg/domainerrors"
)

// Service derives deterministic, irreversible pseudonyms with HMAC-SHA256.
// The key comes from configuration and never lives in the codebase.
type Service struct {
	key []byte
}

// NewService validates the key material. Short keys weaken the HMAC and are
// rejected outright.
func NewService(key []byte) (*Service, error) {
	if len(key) < 16 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pseudonymization key must be at least 16 bytes")
	}
	return &Service{key: key}, nil
}

// Pseudonymize maps a clear customer id to its fixed-length hex digest.
func (s *Service) Pseudonymize(customerID string) (string, error) {
	if customerID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "customer id cannot be empty")
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(customerID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the digest and compares in constant time.
func (s *Service) Verify(customerID, pseudonymized string) (bool, error) {
	computed, err := s.Pseudonymize(customerID)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(computed), []byte(pseudonymized)), nil
}
