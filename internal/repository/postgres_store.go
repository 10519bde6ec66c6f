package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-approvals/internal/database"
)

// queryRunner is the subset of the database surface shared by the pool
// wrapper and an open transaction, so every query method works in both
// contexts.
type queryRunner interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store over postgres.
//
// Invariants the schema enforces at write time:
//   - unique partial index on approval_workflow_templates
//     (target_entity_type) WHERE is_active — one active template per type
//   - unique partial index on approval_workflow_instances
//     (entity_type, entity_id) WHERE status = 'in_progress'
//   - unique partial index on approval_stage_instances
//     (instance_id) WHERE status = 'active'
//   - unique (stage_instance_id, user_id) on approval_assignments
type PostgresStore struct {
	db *database.DB
	q  queryRunner
	tx pgx.Tx // nil outside a transaction
}

// NewPostgresStore creates a store over the given database.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// WithinTx runs fn in a transaction; nested calls join the open one.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx, tx: tx})
	})
}
