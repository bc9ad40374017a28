package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sign-gateway/internal/routing"
	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
	txcontext "sign-gateway/pkg/platform/tx"
)

// PostgresRuleStore persists routing rules in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE routing_rules (
//	    id             UUID PRIMARY KEY,
//	    name           TEXT NOT NULL UNIQUE,
//	    condition      TEXT NOT NULL,
//	    target_channel TEXT NOT NULL,
//	    priority       INT  NOT NULL,
//	    enabled        BOOLEAN NOT NULL DEFAULT TRUE,
//	    deleted        BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_by     TEXT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    modified_by    TEXT,
//	    modified_at    TIMESTAMPTZ,
//	    deleted_by     TEXT
//	);
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed rule store.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, condition, target_channel, priority, enabled, deleted,
	created_by, created_at, modified_by, modified_at, deleted_by`

// FindAllOrderedByPriority returns enabled, non-deleted rules ordered by
// (priority, id); the time-ordered id keeps equal priorities stable.
func (s *PostgresRuleStore) FindAllOrderedByPriority(ctx context.Context) ([]*routing.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM routing_rules
		WHERE enabled = TRUE AND deleted = FALSE
		ORDER BY priority ASC, id ASC`

	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query routing rules: %w", err)
	}
	defer rows.Close()

	var out []*routing.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// FindByID returns a rule by id, deleted ones included.
func (s *PostgresRuleStore) FindByID(ctx context.Context, id domain.RuleID) (*routing.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules WHERE id = $1`

	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id))
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rule, err
}

// Save upserts a rule. A unique-name violation maps to sentinel.ErrConflict.
func (s *PostgresRuleStore) Save(ctx context.Context, rule *routing.Rule) error {
	query := `
		INSERT INTO routing_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			condition = EXCLUDED.condition,
			target_channel = EXCLUDED.target_channel,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			deleted = EXCLUDED.deleted,
			modified_by = EXCLUDED.modified_by,
			modified_at = EXCLUDED.modified_at,
			deleted_by = EXCLUDED.deleted_by`

	var modifiedBy, deletedBy sql.NullString
	if rule.ModifiedBy != "" {
		modifiedBy = sql.NullString{String: rule.ModifiedBy, Valid: true}
	}
	if rule.DeletedBy != "" {
		deletedBy = sql.NullString{String: rule.DeletedBy, Valid: true}
	}
	var modifiedAt sql.NullTime
	if rule.ModifiedAt != nil {
		modifiedAt = sql.NullTime{Time: *rule.ModifiedAt, Valid: true}
	}

	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(rule.ID), rule.Name, rule.Condition, rule.TargetChannel.String(),
		rule.Priority, rule.Enabled, rule.Deleted,
		rule.CreatedBy, rule.CreatedAt, modifiedBy, modifiedAt, deletedBy,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save routing rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*routing.Rule, error) {
	var (
		id         uuid.UUID
		rule       routing.Rule
		channel    string
		modifiedBy sql.NullString
		modifiedAt sql.NullTime
		deletedBy  sql.NullString
	)
	err := row.Scan(&id, &rule.Name, &rule.Condition, &channel, &rule.Priority,
		&rule.Enabled, &rule.Deleted, &rule.CreatedBy, &rule.CreatedAt,
		&modifiedBy, &modifiedAt, &deletedBy)
	if err != nil {
		return nil, err
	}
	rule.ID = domain.RuleID(id)
	rule.TargetChannel = domain.ChannelType(channel)
	rule.ModifiedBy = modifiedBy.String
	rule.DeletedBy = deletedBy.String
	if modifiedAt.Valid {
		t := modifiedAt.Time
		rule.ModifiedAt = &t
	}
	return &rule, nil
}
