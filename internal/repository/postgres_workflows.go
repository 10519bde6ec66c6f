package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// CreateInstance inserts a workflow instance. The partial unique index on
// (entity_type, entity_id) WHERE status = 'in_progress' backs the
// one-active-workflow-per-target invariant at write time.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *WorkflowInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO approval_workflow_instances
		    (id, template_id, entity_type, entity_id,
		     status, current_stage_template_id, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q.Exec(ctx, query,
		inst.ID,
		inst.TemplateID,
		inst.EntityType,
		inst.EntityID,
		inst.Status,
		inst.CurrentStageTemplateID,
		inst.StartedAt,
		inst.FinishedAt,
	)
	if err != nil {
		// Two concurrent starts can both see no row to lock; the loser
		// trips the partial unique index and must surface the contract
		// error, not an internal one.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.DuplicateWorkflow(inst.EntityType, inst.EntityID)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow instance")
	}
	return nil
}

// UpdateInstance persists status, current stage pointer and finished_at.
func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *WorkflowInstance) error {
	query := `
		UPDATE approval_workflow_instances
		SET status                    = $2,
		    current_stage_template_id = $3,
		    finished_at               = $4
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := s.q.QueryRow(ctx, query,
		inst.ID,
		inst.Status,
		inst.CurrentStageTemplateID,
		inst.FinishedAt,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_instance", inst.ID)
	}
	return err
}

// ActiveInstanceForTarget returns the in-progress instance or (nil, nil).
func (s *PostgresStore) ActiveInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error) {
	return s.activeInstance(ctx, target, false)
}

// ActiveInstanceForUpdate returns the in-progress instance with a row lock
// held until the enclosing transaction ends. Serializes all action
// processing and cancellation on the same target.
func (s *PostgresStore) ActiveInstanceForUpdate(ctx context.Context, target Target) (*WorkflowInstance, error) {
	return s.activeInstance(ctx, target, true)
}

func (s *PostgresStore) activeInstance(ctx context.Context, target Target, lock bool) (*WorkflowInstance, error) {
	query := instanceSelect + `
		WHERE entity_type = $1
		  AND entity_id   = $2
		  AND status      = 'in_progress'
	`
	if lock {
		query += ` FOR UPDATE`
	}

	inst, err := scanInstance(s.q.QueryRow(ctx, query, target.EntityType, target.EntityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// LatestInstanceForTarget returns the most recently started instance in any
// status, or (nil, nil).
func (s *PostgresStore) LatestInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error) {
	query := instanceSelect + `
		WHERE entity_type = $1
		  AND entity_id   = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	inst, err := scanInstance(s.q.QueryRow(ctx, query, target.EntityType, target.EntityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const instanceSelect = `
	SELECT id, template_id, entity_type, entity_id,
	       status, current_stage_template_id, started_at, finished_at
	FROM approval_workflow_instances
`

func scanInstance(row rowScanner) (*WorkflowInstance, error) {
	inst := &WorkflowInstance{}
	err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.EntityType,
		&inst.EntityID,
		&inst.Status,
		&inst.CurrentStageTemplateID,
		&inst.StartedAt,
		&inst.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
