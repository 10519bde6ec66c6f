package document

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

func setupRequisitionFlow(t *testing.T) (*service.ApprovalEngine, *service.Registry, *MemoryDocumentStore) {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	docs := NewMemoryDocumentStore()
	log := logger.New(logger.Config{Level: "disabled"})

	store.AddUser("buyer1")
	role := "buyer"
	store.GrantRole("buyer1", role, time.Now().Add(-time.Hour), nil)

	templates := service.NewTemplateService(store, log)
	_, err := templates.Create(ctx, &service.CreateTemplateInput{
		Code:             "req-standard",
		Name:             "Standard requisition flow",
		TargetEntityType: EntityTypeRequisition,
		Activate:         true,
		Stages: []service.StageDefinition{
			{OrderIndex: 1, Name: "Buyer review", DecisionPolicy: repository.PolicyAny, RequiredRole: &role, AllowReject: true},
		},
	})
	require.NoError(t, err)

	registry := service.NewRegistry()
	registry.Register(EntityTypeRequisition, NewRequisitionLoader(docs))

	return service.NewApprovalEngine(store, nil, log), registry, docs
}

func TestCatalogRequisitionBecomesOrderableOnApproval(t *testing.T) {
	engine, registry, docs := setupRequisitionFlow(t)
	ctx := context.Background()

	req := &Requisition{
		ID:          "req-1",
		Number:      "PR-2026-001",
		RequesterID: "emp-7",
		TotalAmount: decimal.NewFromInt(900),
		Currency:    "EUR",
	}
	require.NoError(t, docs.CreateRequisition(ctx, req, &CatalogRequisition{CatalogID: "cat-42"}, nil))

	entity, err := registry.Load(ctx, EntityTypeRequisition, "req-1")
	require.NoError(t, err)
	_, err = engine.StartWorkflow(ctx, entity)
	require.NoError(t, err)

	entity, err = registry.Load(ctx, EntityTypeRequisition, "req-1")
	require.NoError(t, err)
	result, err := engine.ProcessAction(ctx, entity, "buyer1", repository.ActionApprove, nil, nil)
	require.NoError(t, err)
	require.Equal(t, repository.WorkflowApproved, result.Instance.Status)

	// The catalog child reacted to the forwarded hook: the requisition is
	// orderable, not merely approved.
	got, err := docs.GetRequisition(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, RequisitionReadyToOrder, got.Status)

	child, err := docs.GetCatalogChild(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.NotNil(t, child.OrderedAt)
}

func TestServiceRequisitionApprovalHasNoChildEffect(t *testing.T) {
	engine, registry, docs := setupRequisitionFlow(t)
	ctx := context.Background()

	req := &Requisition{
		ID:          "req-2",
		Number:      "PR-2026-002",
		RequesterID: "emp-7",
		TotalAmount: decimal.NewFromInt(300),
		Currency:    "EUR",
	}
	require.NoError(t, docs.CreateRequisition(ctx, req, nil, &ServiceRequisition{Description: "office cleaning"}))

	entity, err := registry.Load(ctx, EntityTypeRequisition, "req-2")
	require.NoError(t, err)
	_, err = engine.StartWorkflow(ctx, entity)
	require.NoError(t, err)

	entity, err = registry.Load(ctx, EntityTypeRequisition, "req-2")
	require.NoError(t, err)
	result, err := engine.ProcessAction(ctx, entity, "buyer1", repository.ActionApprove, nil, nil)
	require.NoError(t, err)
	require.Equal(t, repository.WorkflowApproved, result.Instance.Status)

	// The service child carries no hooks, so only the engine-driven
	// status lands on the parent.
	got, err := docs.GetRequisition(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, service.DocumentApproved, got.Status)
}

func TestRequisitionRejection(t *testing.T) {
	engine, registry, docs := setupRequisitionFlow(t)
	ctx := context.Background()

	req := &Requisition{ID: "req-3", Number: "PR-2026-003", RequesterID: "emp-7", TotalAmount: decimal.NewFromInt(50), Currency: "EUR"}
	require.NoError(t, docs.CreateRequisition(ctx, req, &CatalogRequisition{CatalogID: "cat-1"}, nil))

	entity, err := registry.Load(ctx, EntityTypeRequisition, "req-3")
	require.NoError(t, err)
	_, err = engine.StartWorkflow(ctx, entity)
	require.NoError(t, err)

	entity, err = registry.Load(ctx, EntityTypeRequisition, "req-3")
	require.NoError(t, err)
	reason := "not budgeted"
	result, err := engine.ProcessAction(ctx, entity, "buyer1", repository.ActionReject, &reason, nil)
	require.NoError(t, err)
	require.Equal(t, repository.WorkflowRejected, result.Instance.Status)

	got, err := docs.GetRequisition(ctx, "req-3")
	require.NoError(t, err)
	assert.Equal(t, service.DocumentRejected, got.Status)

	// The catalog child never became orderable.
	child, err := docs.GetCatalogChild(ctx, "req-3")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Nil(t, child.OrderedAt)
}

func TestInvoiceHookBookkeeping(t *testing.T) {
	ctx := context.Background()

	store := repository.NewMemoryStore()
	docs := NewMemoryDocumentStore()
	log := logger.New(logger.Config{Level: "disabled"})

	role := "accountant"
	store.AddUser("acc1")
	store.GrantRole("acc1", role, time.Now().Add(-time.Hour), nil)

	templates := service.NewTemplateService(store, log)
	_, err := templates.Create(ctx, &service.CreateTemplateInput{
		Code:             "inv-standard",
		Name:             "Standard invoice flow",
		TargetEntityType: EntityTypeInvoice,
		Activate:         true,
		Stages: []service.StageDefinition{
			{OrderIndex: 1, Name: "Accounting", DecisionPolicy: repository.PolicyAny, RequiredRole: &role},
		},
	})
	require.NoError(t, err)

	registry := service.NewRegistry()
	registry.Register(EntityTypeInvoice, NewInvoiceLoader(docs))
	engine := service.NewApprovalEngine(store, nil, log)

	inv := &Invoice{ID: "inv-1", Number: "INV-1", VendorName: "Acme", Amount: decimal.NewFromInt(100), Currency: "EUR"}
	require.NoError(t, docs.CreateInvoice(ctx, inv))

	entity, err := registry.Load(ctx, EntityTypeInvoice, "inv-1")
	require.NoError(t, err)
	_, err = engine.StartWorkflow(ctx, entity)
	require.NoError(t, err)

	got, err := docs.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, service.DocumentPendingApproval, got.Status)
	assert.NotNil(t, got.SubmittedAt)
	assert.Zero(t, got.StagesApproved)

	entity, err = registry.Load(ctx, EntityTypeInvoice, "inv-1")
	require.NoError(t, err)
	_, err = engine.ProcessAction(ctx, entity, "acc1", repository.ActionApprove, nil, nil)
	require.NoError(t, err)

	got, err = docs.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, service.DocumentApproved, got.Status)
	assert.Equal(t, 1, got.StagesApproved)
	assert.NotNil(t, got.DecidedAt)
}
