package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
	txcontext "sign-gateway/pkg/platform/tx"
)

// PostgresStore persists staged events in PostgreSQL. Inserts join the
// transaction carried in context, which is what makes the outbox atomic
// with the state change that produced the event.
//
// Schema:
//
//	CREATE TABLE outbox_events (
//	    id             UUID PRIMARY KEY,
//	    aggregate_type TEXT NOT NULL,
//	    aggregate_id   TEXT NOT NULL,
//	    event_type     TEXT NOT NULL,
//	    payload        JSONB NOT NULL,
//	    payload_hash   CHAR(64) NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    published_at   TIMESTAMPTZ
//	);
//	CREATE INDEX outbox_events_unpublished_idx
//	    ON outbox_events (created_at) WHERE published_at IS NULL;
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	payload_hash, created_at, published_at`

func (s *PostgresStore) Insert(ctx context.Context, event *OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)`

	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(event.ID), event.AggregateType, event.AggregateID,
		event.EventType, event.Payload, event.PayloadHash, event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FindUnpublished returns staged events oldest-first; the time-ordered id
// breaks same-timestamp ties so relay order is deterministic.
func (s *PostgresStore) FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1`

	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()

	var out []*OutboxEvent
	for rows.Next() {
		var (
			e           OutboxEvent
			id          uuid.UUID
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&id, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.PayloadHash, &e.CreatedAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.ID = domain.EventID(id)
		if publishedAt.Valid {
			t := publishedAt.Time
			e.PublishedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id domain.EventID, publishedAt time.Time) error {
	query := `UPDATE outbox_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`

	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query, uuid.UUID(id), publishedAt)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
