package document

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// EntityTypeRequisition is the polymorphic discriminator for purchase
// requisitions.
const EntityTypeRequisition = "purchase_requisition"

// Requisition statuses written by the child hooks, beyond the engine's own
// document statuses.
const (
	RequisitionReadyToOrder = "ready_to_order"
)

// Requisition is a purchase requisition. It is a parent document: the
// concrete kind lives in a child record (catalog or service) resolved at
// hook time, so the engine and the workflow configuration stay agnostic of
// the split.
type Requisition struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	RequesterID string          `json:"requester_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	store RequisitionStore
}

// CatalogRequisition is the catalog-sourced child: its lines reference
// supplier catalog items, so a fully approved requisition can be turned
// into an order without buyer intervention.
type CatalogRequisition struct {
	RequisitionID string     `json:"requisition_id"`
	CatalogID     string     `json:"catalog_id"`
	OrderedAt     *time.Time `json:"ordered_at,omitempty"`

	parent *Requisition
}

// ServiceRequisition is the free-text child for services; a buyer sources
// it manually after approval, so it carries no approval hooks.
type ServiceRequisition struct {
	RequisitionID string `json:"requisition_id"`
	Description   string `json:"description"`
}

// RequisitionStore persists requisitions and their child records.
type RequisitionStore interface {
	GetRequisition(ctx context.Context, id string) (*Requisition, error)
	SaveRequisition(ctx context.Context, req *Requisition) error
	// GetCatalogChild returns (nil, nil) when the requisition has no
	// catalog child.
	GetCatalogChild(ctx context.Context, requisitionID string) (*CatalogRequisition, error)
	SaveCatalogChild(ctx context.Context, child *CatalogRequisition) error
	// GetServiceChild returns (nil, nil) when the requisition has no
	// service child.
	GetServiceChild(ctx context.Context, requisitionID string) (*ServiceRequisition, error)
}

// NewRequisitionLoader returns a Loader for the engine registry.
func NewRequisitionLoader(store RequisitionStore) service.Loader {
	return func(ctx context.Context, entityID string) (service.Approvable, error) {
		req, err := store.GetRequisition(ctx, entityID)
		if err != nil {
			return nil, err
		}
		req.store = store
		return req, nil
	}
}

// ApprovalTarget identifies the requisition to the engine.
func (r *Requisition) ApprovalTarget() repository.Target {
	return repository.Target{EntityType: EntityTypeRequisition, EntityID: r.ID}
}

// SetApprovalStatus persists the engine-driven status. A child hook may
// have already written a more specific status in the same transition;
// those win.
func (r *Requisition) SetApprovalStatus(ctx context.Context, status string) error {
	if r.Status == RequisitionReadyToOrder && status == service.DocumentApproved {
		return nil
	}
	r.Status = status
	return r.store.SaveRequisition(ctx, r)
}

func (r *Requisition) OnApprovalStarted(_ context.Context, _ *repository.WorkflowInstance) error {
	return nil
}

func (r *Requisition) OnStageApproved(_ context.Context, _ *repository.StageInstance) error {
	return nil
}

func (r *Requisition) OnFullyApproved(_ context.Context, _ *repository.WorkflowInstance) error {
	return nil
}

func (r *Requisition) OnRejected(_ context.Context, _ *repository.WorkflowInstance, _ *repository.StageInstance) error {
	return nil
}

func (r *Requisition) OnCancelled(_ context.Context, _ *repository.WorkflowInstance, _ string) error {
	return nil
}

// ResolveChild probes the catalog child first, then the service child.
// The returned child decides per hook interface what it reacts to.
func (r *Requisition) ResolveChild(ctx context.Context) (any, bool, error) {
	catalog, err := r.store.GetCatalogChild(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	if catalog != nil {
		catalog.parent = r
		return catalog, true, nil
	}

	svc, err := r.store.GetServiceChild(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	if svc != nil {
		return svc, true, nil
	}
	return nil, false, nil
}

// OnFullyApprovedChild marks the catalog requisition orderable and stamps
// the order time. This runs in the same transaction as the final approval.
func (c *CatalogRequisition) OnFullyApprovedChild(ctx context.Context, _ *repository.WorkflowInstance) error {
	now := time.Now().UTC()
	c.OrderedAt = &now
	if err := c.parent.store.SaveCatalogChild(ctx, c); err != nil {
		return err
	}
	c.parent.Status = RequisitionReadyToOrder
	return c.parent.store.SaveRequisition(ctx, c.parent)
}
