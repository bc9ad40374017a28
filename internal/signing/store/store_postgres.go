package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sign-gateway/internal/signing"
	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
	txcontext "sign-gateway/pkg/platform/tx"
)

// PostgresRequestStore persists aggregates in PostgreSQL: scalar columns for
// everything queries filter on, JSON blobs for the context, challenges, and
// timeline. The version column backs the compare-and-swap in Save.
//
// Schema:
//
//	CREATE TABLE signature_requests (
//	    id                 UUID PRIMARY KEY,
//	    customer_pseudonym TEXT NOT NULL,
//	    status             TEXT NOT NULL,
//	    context            JSONB NOT NULL,
//	    challenges         JSONB NOT NULL,
//	    timeline           JSONB NOT NULL,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    expires_at         TIMESTAMPTZ NOT NULL,
//	    signed_at          TIMESTAMPTZ,
//	    aborted_at         TIMESTAMPTZ,
//	    abort_reason       TEXT,
//	    version            BIGINT NOT NULL
//	);
//	CREATE INDEX signature_requests_status_idx ON signature_requests (status, created_at);
//	CREATE INDEX signature_requests_expiry_idx
//	    ON signature_requests (expires_at) WHERE status IN ('PENDING', 'PENDING_DEGRADED', 'CHALLENGED');
type PostgresRequestStore struct {
	db *sql.DB
}

func NewPostgresRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

const requestColumns = `id, customer_pseudonym, status, context, challenges, timeline,
	created_at, expires_at, signed_at, aborted_at, abort_reason, version`

type challengeRow struct {
	ID             uuid.UUID           `json:"id"`
	Channel        domain.ChannelType  `json:"channel"`
	Provider       domain.ProviderType `json:"provider"`
	Status         string              `json:"status"`
	Code           string              `json:"code"`
	CreatedAt      time.Time           `json:"created_at"`
	SentAt         *time.Time          `json:"sent_at,omitempty"`
	ExpiresAt      time.Time           `json:"expires_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	ProviderProof  string              `json:"provider_proof,omitempty"`
	ErrorCode      string              `json:"error_code,omitempty"`
	FailedAttempts int                 `json:"failed_attempts"`
}

// Save inserts new aggregates at version 1 and updates existing ones only
// when the stored version still matches; zero affected rows means a
// concurrent writer got there first.
func (s *PostgresRequestStore) Save(ctx context.Context, req *signing.SignatureRequest) error {
	contextJSON, challengesJSON, timelineJSON, err := marshalBlobs(req)
	if err != nil {
		return err
	}

	exec := txcontext.ExecutorFor(ctx, s.db)

	if req.Version == 0 {
		query := `
			INSERT INTO signature_requests (` + requestColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`
		_, err := exec.ExecContext(ctx, query,
			uuid.UUID(req.ID), req.CustomerPseudonym, string(req.Status),
			contextJSON, challengesJSON, timelineJSON,
			req.CreatedAt, req.ExpiresAt,
			nullTime(req.SignedAt), nullTime(req.AbortedAt), nullString(req.AbortReason),
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert signature request: %w", err)
		}
		req.Version = 1
		return nil
	}

	query := `
		UPDATE signature_requests SET
			status = $2, context = $3, challenges = $4, timeline = $5,
			signed_at = $6, aborted_at = $7, abort_reason = $8,
			version = version + 1
		WHERE id = $1 AND version = $9`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(req.ID), string(req.Status),
		contextJSON, challengesJSON, timelineJSON,
		nullTime(req.SignedAt), nullTime(req.AbortedAt), nullString(req.AbortReason),
		req.Version,
	)
	if err != nil {
		return fmt.Errorf("update signature request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update signature request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	req.Version++
	return nil
}

func (s *PostgresRequestStore) FindByID(ctx context.Context, id domain.SignatureRequestID) (*signing.SignatureRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM signature_requests WHERE id = $1`
	req, err := scanRequest(txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return req, err
}

func (s *PostgresRequestStore) FindByStatus(ctx context.Context, status signing.Status, limit, offset int) ([]*signing.SignatureRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM signature_requests
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	return s.queryRequests(ctx, query, string(status), limit, offset)
}

func (s *PostgresRequestStore) FindExpired(ctx context.Context, cutoff time.Time) ([]*signing.SignatureRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM signature_requests
		WHERE expires_at <= $1
			AND status IN ('PENDING', 'PENDING_DEGRADED', 'CHALLENGED')
		ORDER BY created_at ASC, id ASC`

	return s.queryRequests(ctx, query, cutoff)
}

func (s *PostgresRequestStore) queryRequests(ctx context.Context, query string, args ...any) ([]*signing.SignatureRequest, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signature requests: %w", err)
	}
	defer rows.Close()

	var out []*signing.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*signing.SignatureRequest, error) {
	var (
		req            signing.SignatureRequest
		id             uuid.UUID
		status         string
		contextJSON    []byte
		challengesJSON []byte
		timelineJSON   []byte
		signedAt       sql.NullTime
		abortedAt      sql.NullTime
		abortReason    sql.NullString
	)
	err := row.Scan(&id, &req.CustomerPseudonym, &status,
		&contextJSON, &challengesJSON, &timelineJSON,
		&req.CreatedAt, &req.ExpiresAt, &signedAt, &abortedAt, &abortReason,
		&req.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan signature request: %w", err)
	}

	req.ID = domain.SignatureRequestID(id)
	req.Status = signing.Status(status)
	if signedAt.Valid {
		t := signedAt.Time
		req.SignedAt = &t
	}
	if abortedAt.Valid {
		t := abortedAt.Time
		req.AbortedAt = &t
	}
	req.AbortReason = abortReason.String

	if err := json.Unmarshal(contextJSON, &req.Context); err != nil {
		return nil, fmt.Errorf("decode transaction context: %w", err)
	}
	var rows []challengeRow
	if err := json.Unmarshal(challengesJSON, &rows); err != nil {
		return nil, fmt.Errorf("decode challenges: %w", err)
	}
	req.Challenges = make([]*signing.SignatureChallenge, len(rows))
	for i, cr := range rows {
		req.Challenges[i] = &signing.SignatureChallenge{
			ID:             domain.ChallengeID(cr.ID),
			Channel:        cr.Channel,
			Provider:       cr.Provider,
			Status:         signing.ChallengeStatus(cr.Status),
			Code:           cr.Code,
			CreatedAt:      cr.CreatedAt,
			SentAt:         cr.SentAt,
			ExpiresAt:      cr.ExpiresAt,
			CompletedAt:    cr.CompletedAt,
			ProviderProof:  cr.ProviderProof,
			ErrorCode:      cr.ErrorCode,
			FailedAttempts: cr.FailedAttempts,
		}
	}
	if err := json.Unmarshal(timelineJSON, &req.Timeline); err != nil {
		return nil, fmt.Errorf("decode routing timeline: %w", err)
	}
	return &req, nil
}

func marshalBlobs(req *signing.SignatureRequest) (contextJSON, challengesJSON, timelineJSON []byte, err error) {
	contextJSON, err = json.Marshal(req.Context)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode transaction context: %w", err)
	}

	rows := make([]challengeRow, len(req.Challenges))
	for i, c := range req.Challenges {
		rows[i] = challengeRow{
			ID:             uuid.UUID(c.ID),
			Channel:        c.Channel,
			Provider:       c.Provider,
			Status:         string(c.Status),
			Code:           c.Code,
			CreatedAt:      c.CreatedAt,
			SentAt:         c.SentAt,
			ExpiresAt:      c.ExpiresAt,
			CompletedAt:    c.CompletedAt,
			ProviderProof:  c.ProviderProof,
			ErrorCode:      c.ErrorCode,
			FailedAttempts: c.FailedAttempts,
		}
	}
	challengesJSON, err = json.Marshal(rows)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode challenges: %w", err)
	}

	timelineJSON, err = json.Marshal(req.Timeline)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode routing timeline: %w", err)
	}
	return contextJSON, challengesJSON, timelineJSON, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
