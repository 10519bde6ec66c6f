package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// Document statuses the engine writes onto approvable entities.
const (
	DocumentPendingApproval = "pending_approval"
	DocumentApproved        = "approved"
	DocumentRejected        = "rejected"
	DocumentCancelled       = "cancelled"
)

// Approvable is the contract every document type implements to run through
// the approval engine. The engine never branches on the concrete type: all
// type-specific behavior lives behind these hooks.
type Approvable interface {
	// ApprovalTarget identifies the document polymorphically.
	ApprovalTarget() repository.Target

	// SetApprovalStatus overwrites the document's externally visible status
	// at each interim or terminal transition.
	SetApprovalStatus(ctx context.Context, status string) error

	// OnApprovalStarted runs when the workflow starts.
	OnApprovalStarted(ctx context.Context, inst *repository.WorkflowInstance) error
	// OnStageApproved runs when a stage completes, before the next stage
	// activates.
	OnStageApproved(ctx context.Context, stage *repository.StageInstance) error
	// OnFullyApproved runs when the last stage completes.
	OnFullyApproved(ctx context.Context, inst *repository.WorkflowInstance) error
	// OnRejected runs when any stage is rejected.
	OnRejected(ctx context.Context, inst *repository.WorkflowInstance, stage *repository.StageInstance) error
	// OnCancelled runs when the workflow is cancelled administratively.
	OnCancelled(ctx context.Context, inst *repository.WorkflowInstance, reason string) error
}

// ChildResolver is implemented by "parent" documents that carry a more
// specific child record in a separate relation. The engine resolves the
// child after each parent hook and forwards the event to whichever child
// hook interfaces the child implements. ok is false when no child exists;
// that is not an error.
type ChildResolver interface {
	ResolveChild(ctx context.Context) (child any, ok bool, err error)
}

// Per-hook child interfaces. A child implements only the hooks it cares
// about; the engine discovers them by type assertion, so a missing method
// is a no-op rather than a failure.
type (
	// ApprovalStartedChild receives the forwarded workflow-started event.
	ApprovalStartedChild interface {
		OnApprovalStartedChild(ctx context.Context, inst *repository.WorkflowInstance) error
	}

	// StageApprovedChild receives forwarded stage-completion events.
	StageApprovedChild interface {
		OnStageApprovedChild(ctx context.Context, stage *repository.StageInstance) error
	}

	// FullyApprovedChild receives the forwarded final-approval event.
	FullyApprovedChild interface {
		OnFullyApprovedChild(ctx context.Context, inst *repository.WorkflowInstance) error
	}

	// RejectedChild receives the forwarded rejection event.
	RejectedChild interface {
		OnRejectedChild(ctx context.Context, inst *repository.WorkflowInstance, stage *repository.StageInstance) error
	}

	// CancelledChild receives the forwarded cancellation event.
	CancelledChild interface {
		OnCancelledChild(ctx context.Context, inst *repository.WorkflowInstance, reason string) error
	}
)

// Loader materializes an Approvable document from its ID.
type Loader func(ctx context.Context, entityID string) (Approvable, error)

// Registry maps entity type discriminators to document loaders, so the HTTP
// layer can resolve (entity_type, entity_id) pairs without the engine ever
// knowing the concrete types.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register binds a loader to an entity type. Later registrations replace
// earlier ones.
func (r *Registry) Register(entityType string, loader Loader) {
	r.loaders[entityType] = loader
}

// Load resolves an approvable document by type and ID.
func (r *Registry) Load(ctx context.Context, entityType, entityID string) (Approvable, error) {
	loader, ok := r.loaders[entityType]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "entity_type: unknown entity type %q", entityType)
	}
	return loader(ctx, entityID)
}

// EntityTypes returns the registered discriminators.
func (r *Registry) EntityTypes() []string {
	types := make([]string, 0, len(r.loaders))
	for t := range r.loaders {
		types = append(types, t)
	}
	return types
}
