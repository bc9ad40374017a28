package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sign-gateway/pkg/platform/sentinel"
	txcontext "sign-gateway/pkg/platform/tx"
)

// PostgresStore persists idempotency records in PostgreSQL. The primary key
// on the client key is the uniqueness backstop against concurrent first use.
//
// Schema:
//
//	CREATE TABLE idempotency_records (
//	    key             TEXT PRIMARY KEY,
//	    request_hash    CHAR(64) NOT NULL,
//	    response_status INT NOT NULL DEFAULT 0,
//	    response_body   BYTEA,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    expires_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idempotency_records_expires_idx ON idempotency_records (expires_at);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByKey(ctx context.Context, key string) (*Record, error) {
	query := `
		SELECT key, request_hash, response_status, response_body, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1`

	var r Record
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, key).Scan(
		&r.Key, &r.RequestHash, &r.ResponseStatus, &r.ResponseBody, &r.CreatedAt, &r.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	return &r, nil
}

// Create reserves the key. The update arm only fires when the existing
// record has lapsed, so a live key maps to conflict through zero rows or a
// unique violation.
func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO idempotency_records (key, request_hash, response_status, response_body, created_at, expires_at)
		VALUES ($1, $2, 0, NULL, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response_status = 0,
			response_body = NULL,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at`

	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		record.Key, record.RequestHash, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("reserve idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve idempotency record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Save upserts on key. The update arm only fires for the same request hash
// or an expired record; anything else hits zero rows and maps to conflict.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO idempotency_records (key, request_hash, response_status, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response_status = EXCLUDED.response_status,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.request_hash = EXCLUDED.request_hash
			OR idempotency_records.expires_at <= EXCLUDED.created_at`

	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		record.Key, record.RequestHash, record.ResponseStatus,
		record.ResponseBody, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return int(affected), nil
}
