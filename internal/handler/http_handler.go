package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// HTTPHandler exposes the approval engine and template service over HTTP.
//
// The acting user is taken from the X-User-ID header. Authentication is
// the gateway's job; this service trusts the header.
type HTTPHandler struct {
	engine    *service.ApprovalEngine
	templates *service.TemplateService
	registry  *service.Registry
	log       *logger.Logger
}

// NewHTTPHandler creates an HTTP handler.
func NewHTTPHandler(engine *service.ApprovalEngine, templates *service.TemplateService, registry *service.Registry, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		templates: templates,
		registry:  registry,
		log:       log,
	}
}

// RegisterRoutes binds all endpoints onto the mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals/start", h.StartWorkflow)
	mux.HandleFunc("/api/v1/approvals/action", h.ProcessAction)
	mux.HandleFunc("/api/v1/approvals/cancel", h.CancelWorkflow)
	mux.HandleFunc("/api/v1/approvals/restart", h.RestartWorkflow)
	mux.HandleFunc("/api/v1/approvals/instance", h.GetInstance)
	mux.HandleFunc("/api/v1/approvals/pending", h.PendingApprovals)
	mux.HandleFunc("/api/v1/approval-templates", h.Templates)
	mux.HandleFunc("/api/v1/approval-templates/activate", h.ActivateTemplate)
	mux.HandleFunc("/health", h.Health)
}

// StartWorkflow handles POST /api/v1/approvals/start.
func (h *HTTPHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		http.Error(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}

	entity, err := h.registry.Load(r.Context(), req.EntityType, req.EntityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	inst, err := h.engine.StartWorkflow(r.Context(), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, inst)
}

// ProcessAction handles POST /api/v1/approvals/action.
func (h *HTTPHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	var req struct {
		EntityType   string  `json:"entity_type"`
		EntityID     string  `json:"entity_id"`
		Action       string  `json:"action"`
		Comment      *string `json:"comment,omitempty"`
		TargetUserID *string `json:"target_user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" || req.EntityID == "" || req.Action == "" {
		http.Error(w, "entity_type, entity_id and action are required", http.StatusBadRequest)
		return
	}

	entity, err := h.registry.Load(r.Context(), req.EntityType, req.EntityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.engine.ProcessAction(r.Context(), entity, userID, req.Action, req.Comment, req.TargetUserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"outcome":  result.Outcome,
		"instance": result.Instance,
		"stage":    result.Stage,
	})
}

// CancelWorkflow handles POST /api/v1/approvals/cancel.
func (h *HTTPHandler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		http.Error(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}

	entity, err := h.registry.Load(r.Context(), req.EntityType, req.EntityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	inst, err := h.engine.Cancel(r.Context(), entity, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, inst)
}

// RestartWorkflow handles POST /api/v1/approvals/restart: cancel the
// current run when one exists, then start a fresh one.
func (h *HTTPHandler) RestartWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		http.Error(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}

	entity, err := h.registry.Load(r.Context(), req.EntityType, req.EntityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	inst, err := h.engine.Restart(r.Context(), entity, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, inst)
}

// GetInstance handles GET /api/v1/approvals/instance. With active=true only
// an in-progress instance is returned; otherwise the most recent one in any
// status, with its full stage trail.
func (h *HTTPHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		http.Error(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	entity, err := h.registry.Load(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	inst, err := h.engine.GetWorkflowInstance(r.Context(), entity, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stages, err := h.engine.StageInstances(r.Context(), inst.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"instance": inst,
		"stages":   stages,
	})
}

// PendingApprovals handles GET /api/v1/approvals/pending for the acting
// user.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	pending, err := h.engine.PendingApprovals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if pending == nil {
		pending = []*repository.PendingApproval{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"total":   len(pending),
	})
}

// Templates handles GET (list) and POST (create) on
// /api/v1/approval-templates.
func (h *HTTPHandler) Templates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTemplates(w, r)
	case http.MethodPost:
		h.createTemplate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templateID := r.URL.Query().Get("id")
	if templateID != "" {
		tpl, stages, err := h.templates.Get(r.Context(), templateID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"template": tpl,
			"stages":   stages,
		})
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	templates, err := h.templates.List(r.Context(), entityType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if templates == nil {
		templates = []*repository.WorkflowTemplate{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"total":     len(templates),
	})
}

func (h *HTTPHandler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTemplateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.templates.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, tpl)
}

// ActivateTemplate handles POST /api/v1/approval-templates/activate.
func (h *HTTPHandler) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
		Deactivate bool   `json:"deactivate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TemplateID == "" {
		http.Error(w, "template_id is required", http.StatusBadRequest)
		return
	}

	var err error
	if req.Deactivate {
		err = h.templates.Deactivate(r.Context(), req.TemplateID)
	} else {
		err = h.templates.Activate(r.Context(), req.TemplateID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := "active"
	if req.Deactivate {
		status = "inactive"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"template_id": req.TemplateID,
		"status":      status,
	})
}

// Health handles GET /health.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(errors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": err.Error(),
	})
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidAction:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeNotFound, errors.ErrCodeNoActiveWorkflow:
		return http.StatusNotFound
	case errors.ErrCodeDuplicateWorkflow, errors.ErrCodeAlreadyDecided, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
