package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// CreateTemplate inserts a template and its stages in one transaction.
// The partial unique index on (target_entity_type) WHERE is_active rejects
// a second active template for the same type at write time.
func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl *WorkflowTemplate, stages []*StageTemplate) error {
	return s.WithinTx(ctx, func(tx Store) error {
		pg := tx.(*PostgresStore)
		now := time.Now().UTC()

		if tpl.ID == "" {
			tpl.ID = uuid.NewString()
		}
		tpl.CreatedAt = now
		tpl.UpdatedAt = now

		tplQuery := `
			INSERT INTO approval_workflow_templates
			    (id, code, name, description, target_entity_type,
			     version, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := pg.q.Exec(ctx, tplQuery,
			tpl.ID,
			tpl.Code,
			tpl.Name,
			tpl.Description,
			tpl.TargetEntityType,
			tpl.Version,
			tpl.IsActive,
			tpl.CreatedAt,
			tpl.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow template")
		}

		stageQuery := `
			INSERT INTO approval_stage_templates
			    (id, template_id, order_index, name, decision_policy,
			     required_role, allow_reject, allow_delegate,
			     created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for _, st := range stages {
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
			st.TemplateID = tpl.ID
			st.CreatedAt = now
			st.UpdatedAt = now

			_, err := pg.q.Exec(ctx, stageQuery,
				st.ID,
				st.TemplateID,
				st.OrderIndex,
				st.Name,
				st.DecisionPolicy,
				st.RequiredRole,
				st.AllowReject,
				st.AllowDelegate,
				st.CreatedAt,
				st.UpdatedAt,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create stage template")
			}
		}
		return nil
	})
}

// ActivateTemplate activates a template, deactivating any currently active
// template for the same entity type in the same transaction.
func (s *PostgresStore) ActivateTemplate(ctx context.Context, templateID string) error {
	return s.WithinTx(ctx, func(tx Store) error {
		pg := tx.(*PostgresStore)

		tpl, err := pg.TemplateByID(ctx, templateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return errors.NotFound("workflow_template", templateID)
		}

		deactivate := `
			UPDATE approval_workflow_templates
			SET is_active  = FALSE,
			    updated_at = NOW()
			WHERE target_entity_type = $1
			  AND is_active = TRUE
			  AND id <> $2
		`
		if _, err := pg.q.Exec(ctx, deactivate, tpl.TargetEntityType, templateID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate previous template")
		}

		activate := `
			UPDATE approval_workflow_templates
			SET is_active  = TRUE,
			    updated_at = NOW()
			WHERE id = $1
		`
		if _, err := pg.q.Exec(ctx, activate, templateID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to activate template")
		}
		return nil
	})
}

// DeactivateTemplate clears the active flag on a template.
func (s *PostgresStore) DeactivateTemplate(ctx context.Context, templateID string) error {
	query := `
		UPDATE approval_workflow_templates
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := s.q.QueryRow(ctx, query, templateID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_template", templateID)
	}
	return err
}

// TemplateByID returns a template or (nil, nil).
func (s *PostgresStore) TemplateByID(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	query := templateSelect + ` WHERE id = $1`

	tpl, err := scanTemplate(s.q.QueryRow(ctx, query, templateID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return tpl, err
}

// ActiveTemplateForType returns the single active template for an entity
// type, or (nil, nil). The version ordering is a tiebreak only: the partial
// unique index makes two active templates unrepresentable.
func (s *PostgresStore) ActiveTemplateForType(ctx context.Context, entityType string) (*WorkflowTemplate, error) {
	query := templateSelect + `
		WHERE target_entity_type = $1
		  AND is_active = TRUE
		ORDER BY version DESC
		LIMIT 1
	`

	tpl, err := scanTemplate(s.q.QueryRow(ctx, query, entityType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return tpl, err
}

// ListTemplates returns templates, optionally filtered by entity type.
func (s *PostgresStore) ListTemplates(ctx context.Context, entityType string) ([]*WorkflowTemplate, error) {
	query := templateSelect
	args := []any{}
	if entityType != "" {
		query += ` WHERE target_entity_type = $1`
		args = append(args, entityType)
	}
	query += ` ORDER BY target_entity_type ASC, version DESC, code ASC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow template")
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// StagesForTemplate returns the ordered stage templates.
func (s *PostgresStore) StagesForTemplate(ctx context.Context, templateID string) ([]*StageTemplate, error) {
	query := stageTemplateSelect + `
		WHERE template_id = $1
		ORDER BY order_index ASC
	`

	rows, err := s.q.Query(ctx, query, templateID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get stage templates")
	}
	defer rows.Close()

	var stages []*StageTemplate
	for rows.Next() {
		st, err := scanStageTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan stage template")
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// StageTemplateByID returns a stage template or (nil, nil).
func (s *PostgresStore) StageTemplateByID(ctx context.Context, stageTemplateID string) (*StageTemplate, error) {
	query := stageTemplateSelect + ` WHERE id = $1`

	st, err := scanStageTemplate(s.q.QueryRow(ctx, query, stageTemplateID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const templateSelect = `
	SELECT id, code, name, description, target_entity_type,
	       version, is_active, created_at, updated_at
	FROM approval_workflow_templates
`

const stageTemplateSelect = `
	SELECT id, template_id, order_index, name, decision_policy,
	       required_role, allow_reject, allow_delegate,
	       created_at, updated_at
	FROM approval_stage_templates
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*WorkflowTemplate, error) {
	tpl := &WorkflowTemplate{}
	err := row.Scan(
		&tpl.ID,
		&tpl.Code,
		&tpl.Name,
		&tpl.Description,
		&tpl.TargetEntityType,
		&tpl.Version,
		&tpl.IsActive,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

func scanStageTemplate(row rowScanner) (*StageTemplate, error) {
	st := &StageTemplate{}
	err := row.Scan(
		&st.ID,
		&st.TemplateID,
		&st.OrderIndex,
		&st.Name,
		&st.DecisionPolicy,
		&st.RequiredRole,
		&st.AllowReject,
		&st.AllowDelegate,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}
