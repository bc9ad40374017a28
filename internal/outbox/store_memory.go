package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
)

// MemoryStore keeps staged events in memory. Used in tests and local
// deployments without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[domain.EventID]*OutboxEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[domain.EventID]*OutboxEvent)}
}

func (s *MemoryStore) Insert(_ context.Context, event *OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

// FindUnpublished returns staged events oldest-first, bounded by limit.
func (s *MemoryStore) FindUnpublished(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*OutboxEvent
	for _, e := range s.events {
		if e.PublishedAt == nil {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id domain.EventID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := publishedAt
	e.PublishedAt = &at
	return nil
}
