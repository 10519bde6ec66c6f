package repository

import (
	"context"
	"time"
)

// Store is the persistence surface the approval engine runs against.
//
// Every engine operation executes inside WithinTx; the postgres
// implementation additionally takes a row lock on the workflow instance
// (ActiveInstanceForUpdate) so that two racing approvals cannot both fire
// the same stage transition or double-count an ALL-policy approval.
//
// Read methods that look up a single optional row return (nil, nil) when no
// row matches; callers translate that into the domain error they need.
type Store interface {
	// WithinTx runs fn atomically. The Store passed to fn must be used for
	// every operation inside the transaction. Nested calls join the
	// enclosing transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// ── workflow templates (configuration surface) ──

	// CreateTemplate inserts a template and its stages together.
	CreateTemplate(ctx context.Context, tpl *WorkflowTemplate, stages []*StageTemplate) error
	// ActivateTemplate marks the template active, deactivating any other
	// active template for the same entity type in the same transaction.
	ActivateTemplate(ctx context.Context, templateID string) error
	// DeactivateTemplate clears the active flag.
	DeactivateTemplate(ctx context.Context, templateID string) error
	// TemplateByID returns a template or (nil, nil).
	TemplateByID(ctx context.Context, templateID string) (*WorkflowTemplate, error)
	// ActiveTemplateForType returns the active template for an entity type
	// or (nil, nil).
	ActiveTemplateForType(ctx context.Context, entityType string) (*WorkflowTemplate, error)
	// ListTemplates returns templates, optionally filtered by entity type.
	ListTemplates(ctx context.Context, entityType string) ([]*WorkflowTemplate, error)
	// StagesForTemplate returns the stage templates ordered by order_index.
	StagesForTemplate(ctx context.Context, templateID string) ([]*StageTemplate, error)
	// StageTemplateByID returns a stage template or (nil, nil).
	StageTemplateByID(ctx context.Context, stageTemplateID string) (*StageTemplate, error)

	// ── workflow instances ──

	CreateInstance(ctx context.Context, inst *WorkflowInstance) error
	// UpdateInstance persists status, current stage pointer and finished_at.
	UpdateInstance(ctx context.Context, inst *WorkflowInstance) error
	// ActiveInstanceForTarget returns the in-progress instance for a target
	// or (nil, nil).
	ActiveInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error)
	// ActiveInstanceForUpdate is ActiveInstanceForTarget with a row lock;
	// it must be called inside WithinTx.
	ActiveInstanceForUpdate(ctx context.Context, target Target) (*WorkflowInstance, error)
	// LatestInstanceForTarget returns the most recently started instance in
	// any status, or (nil, nil).
	LatestInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error)

	// ── stage instances ──

	CreateStageInstance(ctx context.Context, stage *StageInstance) error
	UpdateStageInstance(ctx context.Context, stage *StageInstance) error
	// ActiveStageForInstance returns the single active stage instance or
	// (nil, nil).
	ActiveStageForInstance(ctx context.Context, instanceID string) (*StageInstance, error)
	// StagesForInstance returns all stage instances ordered by order_index.
	StagesForInstance(ctx context.Context, instanceID string) ([]*StageInstance, error)

	// ── assignments ──

	CreateAssignment(ctx context.Context, a *Assignment) error
	AssignmentsForStage(ctx context.Context, stageInstanceID string) ([]*Assignment, error)
	// AssignmentForUser returns the user's assignment on a stage instance
	// or (nil, nil).
	AssignmentForUser(ctx context.Context, stageInstanceID, userID string) (*Assignment, error)

	// ── actions (immutable audit log) ──

	CreateAction(ctx context.Context, a *Action) error
	ActionsForStage(ctx context.Context, stageInstanceID string) ([]*Action, error)

	// ── identity / role membership ──

	// UsersWithRoleAt returns users whose role membership for role is
	// effective at t. Role pointers are never cached: this is always a
	// point-in-time query.
	UsersWithRoleAt(ctx context.Context, role string, at time.Time) ([]*UserRef, error)
	// ActiveUsers returns every active user, with their currently effective
	// role when they hold one. Used for open stages.
	ActiveUsers(ctx context.Context) ([]*UserRef, error)

	// ── query surface ──

	// PendingApprovalsForUser returns active stages on in-progress
	// workflows where the user holds an assignment.
	PendingApprovalsForUser(ctx context.Context, userID string) ([]*PendingApproval, error)
}
