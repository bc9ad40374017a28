package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sign-gateway/internal/platform/redis"
	"sign-gateway/pkg/platform/sentinel"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps records in Redis with server-side expiry; DeleteExpired
// is a no-op because the TTL on each key does the sweeping.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	RequestHash    string    `json:"request_hash"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (s *RedisStore) FindByKey(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	var r redisRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &Record{
		Key:            key,
		RequestHash:    r.RequestHash,
		ResponseStatus: r.ResponseStatus,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}, nil
}

// Create reserves the key with SET NX; Redis TTL expiry means a present key
// is always live.
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	raw, err := json.Marshal(redisRecord{
		RequestHash: record.RequestHash,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+record.Key, raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve idempotency record: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, record *Record) error {
	raw, err := json.Marshal(redisRecord{
		RequestHash:    record.RequestHash,
		ResponseStatus: record.ResponseStatus,
		ResponseBody:   record.ResponseBody,
		CreatedAt:      record.CreatedAt,
		ExpiresAt:      record.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, redisKeyPrefix+record.Key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired is satisfied by Redis key TTLs.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
