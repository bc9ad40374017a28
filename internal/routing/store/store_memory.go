package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sign-gateway/internal/routing"
	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
)

// MemoryRuleStore keeps routing rules in memory. Used by tests and
// single-node development setups; production uses PostgresRuleStore.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[domain.RuleID]*routing.Rule
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[domain.RuleID]*routing.Rule)}
}

// FindAllOrderedByPriority returns enabled, non-deleted rules in ascending
// priority order. Equal priorities tie-break on the time-ordered rule id so
// the order is stable across calls.
func (s *MemoryRuleStore) FindAllOrderedByPriority(ctx context.Context) ([]*routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*routing.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled && !r.Deleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		a, b := uuid.UUID(out[i].ID), uuid.UUID(out[j].ID)
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out, nil
}

// FindByID returns a rule by id, deleted ones included (audit reads).
func (s *MemoryRuleStore) FindByID(ctx context.Context, id domain.RuleID) (*routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r, nil
}

// Save upserts a rule.
func (s *MemoryRuleStore) Save(ctx context.Context, rule *routing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}
