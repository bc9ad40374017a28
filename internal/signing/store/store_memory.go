// Package store persists signature request aggregates. Both implementations
// enforce optimistic concurrency on the aggregate version so concurrent
// completion attempts serialize instead of double-counting.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sign-gateway/internal/signing"
	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
)

// MemoryRequestStore keeps aggregates in memory. Tests and local
// deployments only.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[domain.SignatureRequestID]*signing.SignatureRequest
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		requests: make(map[domain.SignatureRequestID]*signing.SignatureRequest),
	}
}

// Save persists the aggregate when its version matches the stored one and
// bumps the version on success. A mismatch means a concurrent writer won.
func (s *MemoryRequestStore) Save(ctx context.Context, req *signing.SignatureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.requests[req.ID]
	if ok && existing.Version != req.Version {
		return sentinel.ErrConflict
	}
	if !ok && req.Version != 0 {
		return sentinel.ErrConflict
	}

	copied := cloneRequest(req)
	copied.Version++
	s.requests[req.ID] = copied
	req.Version = copied.Version
	return nil
}

func (s *MemoryRequestStore) FindByID(_ context.Context, id domain.SignatureRequestID) (*signing.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRequest(req), nil
}

// FindByStatus pages through requests in a status, oldest first.
func (s *MemoryRequestStore) FindByStatus(_ context.Context, status signing.Status, limit, offset int) ([]*signing.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*signing.SignatureRequest
	for _, req := range s.requests {
		if req.Status == status {
			matched = append(matched, req)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*signing.SignatureRequest, len(matched))
	for i, req := range matched {
		out[i] = cloneRequest(req)
	}
	return out, nil
}

// FindExpired returns non-terminal requests whose TTL lapsed at the cutoff.
func (s *MemoryRequestStore) FindExpired(_ context.Context, cutoff time.Time) ([]*signing.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*signing.SignatureRequest
	for _, req := range s.requests {
		if !req.Status.IsTerminal() && !req.ExpiresAt.After(cutoff) {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneRequest(req *signing.SignatureRequest) *signing.SignatureRequest {
	copied := *req
	copied.Challenges = make([]*signing.SignatureChallenge, len(req.Challenges))
	for i, c := range req.Challenges {
		cc := *c
		copied.Challenges[i] = &cc
	}
	copied.Timeline = append([]signing.RoutingEvent(nil), req.Timeline...)
	return &copied
}
