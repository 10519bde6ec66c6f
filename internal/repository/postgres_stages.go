package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// CreateStageInstance inserts a stage instance. The partial unique index on
// (instance_id) WHERE status = 'active' rejects a second active stage for
// the same workflow instance at write time.
func (s *PostgresStore) CreateStageInstance(ctx context.Context, stage *StageInstance) error {
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_stage_instances
		    (id, instance_id, stage_template_id, order_index, name,
		     status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q.Exec(ctx, query,
		stage.ID,
		stage.InstanceID,
		stage.StageTemplateID,
		stage.OrderIndex,
		stage.Name,
		stage.Status,
		stage.StartedAt,
		stage.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create stage instance")
	}
	return nil
}

// UpdateStageInstance persists status and completion timestamps.
func (s *PostgresStore) UpdateStageInstance(ctx context.Context, stage *StageInstance) error {
	query := `
		UPDATE approval_stage_instances
		SET status       = $2,
		    started_at   = $3,
		    completed_at = $4
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := s.q.QueryRow(ctx, query,
		stage.ID,
		stage.Status,
		stage.StartedAt,
		stage.CompletedAt,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("stage_instance", stage.ID)
	}
	return err
}

// ActiveStageForInstance returns the active stage instance or (nil, nil).
func (s *PostgresStore) ActiveStageForInstance(ctx context.Context, instanceID string) (*StageInstance, error) {
	query := stageInstanceSelect + `
		WHERE instance_id = $1
		  AND status      = 'active'
	`

	stage, err := scanStageInstance(s.q.QueryRow(ctx, query, instanceID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return stage, err
}

// StagesForInstance returns all stage instances ordered by order_index.
func (s *PostgresStore) StagesForInstance(ctx context.Context, instanceID string) ([]*StageInstance, error) {
	query := stageInstanceSelect + `
		WHERE instance_id = $1
		ORDER BY order_index ASC
	`

	rows, err := s.q.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get stage instances")
	}
	defer rows.Close()

	var stages []*StageInstance
	for rows.Next() {
		stage, err := scanStageInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan stage instance")
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// CreateAssignment inserts an assignment. Duplicate (stage, user) pairs are
// rejected by the unique constraint.
func (s *PostgresStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO approval_assignments
		    (id, stage_instance_id, user_id, role_snapshot, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q.Exec(ctx, query,
		a.ID,
		a.StageInstanceID,
		a.UserID,
		a.RoleSnapshot,
		a.AssignedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create assignment")
	}
	return nil
}

// AssignmentsForStage returns every assignment on a stage instance.
func (s *PostgresStore) AssignmentsForStage(ctx context.Context, stageInstanceID string) ([]*Assignment, error) {
	query := assignmentSelect + `
		WHERE stage_instance_id = $1
		ORDER BY assigned_at ASC
	`

	rows, err := s.q.Query(ctx, query, stageInstanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignments")
	}
	defer rows.Close()

	var assignments []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// AssignmentForUser returns the user's assignment on a stage or (nil, nil).
func (s *PostgresStore) AssignmentForUser(ctx context.Context, stageInstanceID, userID string) (*Assignment, error) {
	query := assignmentSelect + `
		WHERE stage_instance_id = $1
		  AND user_id           = $2
	`

	a, err := scanAssignment(s.q.QueryRow(ctx, query, stageInstanceID, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// CreateAction appends one immutable audit entry. The table carries a
// delete-prevention trigger; insert is the only mutation.
func (s *PostgresStore) CreateAction(ctx context.Context, a *Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO approval_actions
		    (id, stage_instance_id, user_id, kind, comment,
		     target_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.Exec(ctx, query,
		a.ID,
		a.StageInstanceID,
		a.UserID,
		a.Kind,
		a.Comment,
		a.TargetUserID,
		a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create action")
	}
	return nil
}

// ActionsForStage returns the audit trail for a stage, oldest first.
func (s *PostgresStore) ActionsForStage(ctx context.Context, stageInstanceID string) ([]*Action, error) {
	query := actionSelect + `
		WHERE stage_instance_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.q.Query(ctx, query, stageInstanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get actions")
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan action")
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const stageInstanceSelect = `
	SELECT id, instance_id, stage_template_id, order_index, name,
	       status, started_at, completed_at
	FROM approval_stage_instances
`

const assignmentSelect = `
	SELECT id, stage_instance_id, user_id, role_snapshot, assigned_at
	FROM approval_assignments
`

const actionSelect = `
	SELECT id, stage_instance_id, user_id, kind, comment,
	       target_user_id, created_at
	FROM approval_actions
`

func scanStageInstance(row rowScanner) (*StageInstance, error) {
	stage := &StageInstance{}
	err := row.Scan(
		&stage.ID,
		&stage.InstanceID,
		&stage.StageTemplateID,
		&stage.OrderIndex,
		&stage.Name,
		&stage.Status,
		&stage.StartedAt,
		&stage.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return stage, nil
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	a := &Assignment{}
	err := row.Scan(
		&a.ID,
		&a.StageInstanceID,
		&a.UserID,
		&a.RoleSnapshot,
		&a.AssignedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAction(row rowScanner) (*Action, error) {
	a := &Action{}
	err := row.Scan(
		&a.ID,
		&a.StageInstanceID,
		&a.UserID,
		&a.Kind,
		&a.Comment,
		&a.TargetUserID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
