// Package document holds the reference document types that run through the
// approval engine. Each type implements service.Approvable; the engine
// itself never imports this package.
package document

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// EntityTypeInvoice is the polymorphic discriminator for invoices.
const EntityTypeInvoice = "invoice"

// Invoice is a vendor invoice awaiting approval. The approval counters and
// timestamps are written by the engine hooks and exist for reporting.
type Invoice struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	VendorName     string          `json:"vendor_name"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	StagesApproved int             `json:"stages_approved"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	store InvoiceStore
}

// InvoiceStore persists invoices. Implemented by PostgresInvoiceStore.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	SaveInvoice(ctx context.Context, inv *Invoice) error
}

// NewInvoiceLoader returns a Loader for the engine registry.
func NewInvoiceLoader(store InvoiceStore) service.Loader {
	return func(ctx context.Context, entityID string) (service.Approvable, error) {
		inv, err := store.GetInvoice(ctx, entityID)
		if err != nil {
			return nil, err
		}
		inv.store = store
		return inv, nil
	}
}

// ApprovalTarget identifies the invoice to the engine.
func (inv *Invoice) ApprovalTarget() repository.Target {
	return repository.Target{EntityType: EntityTypeInvoice, EntityID: inv.ID}
}

// SetApprovalStatus persists the engine-driven status.
func (inv *Invoice) SetApprovalStatus(ctx context.Context, status string) error {
	inv.Status = status
	return inv.store.SaveInvoice(ctx, inv)
}

// OnApprovalStarted stamps the submission time.
func (inv *Invoice) OnApprovalStarted(ctx context.Context, _ *repository.WorkflowInstance) error {
	now := time.Now().UTC()
	inv.SubmittedAt = &now
	inv.StagesApproved = 0
	return inv.store.SaveInvoice(ctx, inv)
}

// OnStageApproved counts completed stages.
func (inv *Invoice) OnStageApproved(ctx context.Context, _ *repository.StageInstance) error {
	inv.StagesApproved++
	return inv.store.SaveInvoice(ctx, inv)
}

// OnFullyApproved stamps the decision time.
func (inv *Invoice) OnFullyApproved(ctx context.Context, _ *repository.WorkflowInstance) error {
	now := time.Now().UTC()
	inv.DecidedAt = &now
	return inv.store.SaveInvoice(ctx, inv)
}

// OnRejected stamps the decision time.
func (inv *Invoice) OnRejected(ctx context.Context, _ *repository.WorkflowInstance, _ *repository.StageInstance) error {
	now := time.Now().UTC()
	inv.DecidedAt = &now
	return inv.store.SaveInvoice(ctx, inv)
}

// OnCancelled stamps the decision time.
func (inv *Invoice) OnCancelled(ctx context.Context, _ *repository.WorkflowInstance, _ string) error {
	now := time.Now().UTC()
	inv.DecidedAt = &now
	return inv.store.SaveInvoice(ctx, inv)
}
