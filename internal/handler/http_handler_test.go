package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/document"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

type testEnv struct {
	handler *HTTPHandler
	store   *repository.MemoryStore
	docs    *document.MemoryDocumentStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	docs := document.NewMemoryDocumentStore()
	log := logger.New(logger.Config{Level: "disabled"})

	engine := service.NewApprovalEngine(store, nil, log)
	templates := service.NewTemplateService(store, log)

	registry := service.NewRegistry()
	registry.Register(document.EntityTypeInvoice, document.NewInvoiceLoader(docs))
	registry.Register(document.EntityTypeRequisition, document.NewRequisitionLoader(docs))

	return &testEnv{
		handler: NewHTTPHandler(engine, templates, registry, log),
		store:   store,
		docs:    docs,
	}
}

func (e *testEnv) seedInvoiceFlow(t *testing.T) *document.Invoice {
	t.Helper()
	ctx := context.Background()

	e.store.AddUser("alice")
	e.store.AddUser("mark")
	e.store.GrantRole("alice", "accountant", time.Now().Add(-time.Hour), nil)
	e.store.GrantRole("mark", "manager", time.Now().Add(-time.Hour), nil)

	_, err := service.NewTemplateService(e.store, logger.New(logger.Config{Level: "disabled"})).Create(ctx, &service.CreateTemplateInput{
		Code:             "invoice-standard",
		Name:             "Standard invoice flow",
		TargetEntityType: document.EntityTypeInvoice,
		Activate:         true,
		Stages: []service.StageDefinition{
			{OrderIndex: 1, Name: "Accounting", DecisionPolicy: repository.PolicyAny, RequiredRole: roleptr("accountant"), AllowReject: true},
			{OrderIndex: 2, Name: "Management", DecisionPolicy: repository.PolicyAny, RequiredRole: roleptr("manager"), AllowReject: true},
		},
	})
	require.NoError(t, err)

	inv := &document.Invoice{
		ID:         "inv-1",
		Number:     "INV-2026-001",
		VendorName: "Acme Supplies",
		Amount:     decimal.NewFromFloat(1250.50),
		Currency:   "EUR",
	}
	require.NoError(t, e.docs.CreateInvoice(ctx, inv))
	return inv
}

func roleptr(s string) *string { return &s }

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	mux := http.NewServeMux()
	e.handler.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartAndApproveOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice",
		"entity_id":   "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/action", "alice", map[string]string{
		"entity_type": "invoice",
		"entity_id":   "inv-1",
		"action":      repository.ActionApprove,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decodeBody(t, rec)["outcome"])

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/action", "mark", map[string]string{
		"entity_type": "invoice",
		"entity_id":   "inv-1",
		"action":      repository.ActionApprove,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	inv, err := env.docs.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, service.DocumentApproved, inv.Status)
}

func TestDuplicateStartConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	start := map[string]string{"entity_type": "invoice", "entity_id": "inv-1"}
	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", start)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/start", "", start)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_workflow", decodeBody(t, rec)["code"])
}

func TestActionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Missing user header.
	rec = env.do(t, http.MethodPost, "/api/v1/approvals/action", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1", "action": repository.ActionApprove,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The manager is not assigned to the accounting stage.
	rec = env.do(t, http.MethodPost, "/api/v1/approvals/action", "mark", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1", "action": repository.ActionApprove,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "no assignment")
}

func TestGetInstanceAndStages(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodGet, "/api/v1/approvals/instance?entity_type=invoice&entity_id=inv-1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/instance?entity_type=invoice&entity_id=inv-1&active=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotNil(t, body["instance"])
	stages, ok := body["stages"].([]any)
	require.True(t, ok)
	assert.Len(t, stages, 1)
}

func TestPendingApprovalsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/pending", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/pending", "mark", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/cancel", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1", "reason": "duplicate",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A second cancel hits a terminal workflow.
	rec = env.do(t, http.MethodPost, "/api/v1/approvals/cancel", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRestartEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoiceFlow(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	firstID, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, firstID)

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/restart", "", map[string]string{
		"entity_type": "invoice", "entity_id": "inv-1", "reason": "resubmitted",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotEqual(t, firstID, body["id"])
	assert.Equal(t, "in_progress", body["status"])
}

func TestTemplateEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approval-templates", "", service.CreateTemplateInput{
		Code:             "req-flow",
		Name:             "Requisition flow",
		TargetEntityType: "purchase_requisition",
		Stages: []service.StageDefinition{
			{OrderIndex: 1, Name: "Buyer", DecisionPolicy: repository.PolicyAny},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	templateID, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, templateID)

	rec = env.do(t, http.MethodPost, "/api/v1/approval-templates/activate", "", map[string]any{
		"template_id": templateID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/approval-templates?entity_type=purchase_requisition", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	// Invalid definition is rejected as a configuration problem.
	rec = env.do(t, http.MethodPost, "/api/v1/approval-templates", "", service.CreateTemplateInput{
		Code:             "bad-flow",
		Name:             "Bad flow",
		TargetEntityType: "invoice",
		Stages: []service.StageDefinition{
			{OrderIndex: 1, Name: "Stage", DecisionPolicy: "MAJORITY"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUnknownEntityType(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/approvals/start", "", map[string]string{
		"entity_type": "contract", "entity_id": "c-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
