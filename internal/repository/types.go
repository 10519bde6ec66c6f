package repository

import "time"

// ── Domain types for the approval workflow engine ─────────────────────────────

// Workflow instance statuses.
const (
	WorkflowInProgress = "in_progress"
	WorkflowApproved   = "approved"
	WorkflowRejected   = "rejected"
	WorkflowCancelled  = "cancelled"
)

// Stage instance statuses.
const (
	StagePending   = "pending"
	StageActive    = "active"
	StageCompleted = "completed"
	StageRejected  = "rejected"
)

// Decision policies. ANY completes a stage on the first approval, ALL
// requires an approval from every current assignee.
const (
	PolicyAny = "ANY"
	PolicyAll = "ALL"
)

// Action kinds.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionDelegate = "delegate"
	ActionComment  = "comment"
)

// SystemUser is recorded as the acting user on engine-generated actions.
const SystemUser = "system"

// Target identifies a business document polymorphically: a discriminator
// string plus the document's own ID. The engine never inspects the type
// beyond equality.
type Target struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// WorkflowTemplate is an administrator-configured approval blueprint for
// one target entity type. At most one template per type may be active,
// enforced by a partial unique index at write time.
type WorkflowTemplate struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Description      *string   `json:"description,omitempty"`
	TargetEntityType string    `json:"target_entity_type"`
	Version          int       `json:"version"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StageTemplate is one ordered stage of a workflow template. OrderIndex is
// 1-based and strictly increasing within a template; gaps are allowed.
type StageTemplate struct {
	ID             string    `json:"id"`
	TemplateID     string    `json:"template_id"`
	OrderIndex     int       `json:"order_index"`
	Name           string    `json:"name"`
	DecisionPolicy string    `json:"decision_policy"`         // ANY | ALL
	RequiredRole   *string   `json:"required_role,omitempty"` // nil = open stage, assigned to every active user
	AllowReject    bool      `json:"allow_reject"`
	AllowDelegate  bool      `json:"allow_delegate"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkflowInstance is one approval run of a template against one target
// entity. At most one in-progress instance may exist per target. Instances
// are never deleted while the owning document exists: they are the audit
// trail.
type WorkflowInstance struct {
	ID                     string     `json:"id"`
	TemplateID             string     `json:"template_id"`
	EntityType             string     `json:"entity_type"`
	EntityID               string     `json:"entity_id"`
	Status                 string     `json:"status"`                              // in_progress | approved | rejected | cancelled
	CurrentStageTemplateID *string    `json:"current_stage_template_id,omitempty"` // nil once the instance is terminal
	StartedAt              time.Time  `json:"started_at"`
	FinishedAt             *time.Time `json:"finished_at,omitempty"`
}

// StageInstance mirrors one stage template within a workflow instance.
// OrderIndex and Name are snapshots of the template at activation time.
type StageInstance struct {
	ID              string     `json:"id"`
	InstanceID      string     `json:"instance_id"`
	StageTemplateID string     `json:"stage_template_id"`
	OrderIndex      int        `json:"order_index"`
	Name            string     `json:"name"`
	Status          string     `json:"status"` // pending | active | completed | rejected
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Assignment records that a user may currently act on a stage instance.
// RoleSnapshot copies the role name at assignment time so the audit trail
// stays stable against later role changes.
type Assignment struct {
	ID              string    `json:"id"`
	StageInstanceID string    `json:"stage_instance_id"`
	UserID          string    `json:"user_id"`
	RoleSnapshot    *string   `json:"role_snapshot,omitempty"`
	AssignedAt      time.Time `json:"assigned_at"`
}

// Action is one immutable audit entry: a user's decision or comment on a
// stage instance. Actions are never updated or deleted.
type Action struct {
	ID              string    `json:"id"`
	StageInstanceID string    `json:"stage_instance_id"`
	UserID          string    `json:"user_id"`
	Kind            string    `json:"kind"` // approve | reject | delegate | comment
	Comment         *string   `json:"comment,omitempty"`
	TargetUserID    *string   `json:"target_user_id,omitempty"` // set only for delegate
	CreatedAt       time.Time `json:"created_at"`
}

// RoleMembership is a time-bounded role grant. A membership is effective at
// t when ValidFrom <= t and (ValidTo is nil or t < ValidTo).
type RoleMembership struct {
	ID        string
	UserID    string
	Role      string
	ValidFrom time.Time
	ValidTo   *time.Time
}

// UserRef is a user reference produced by assignment resolution: the user
// ID plus the role name that made them eligible (nil on open stages for
// users holding no role).
type UserRef struct {
	ID   string
	Role *string
}

// PendingApproval is one row of the "pending approvals for me" view: an
// active stage instance on an in-progress workflow where the user holds an
// assignment.
type PendingApproval struct {
	InstanceID      string    `json:"instance_id"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	StageInstanceID string    `json:"stage_instance_id"`
	StageName       string    `json:"stage_name"`
	OrderIndex      int       `json:"order_index"`
	AssignedAt      time.Time `json:"assigned_at"`
}

// EffectiveAt reports whether the membership grants the role at t.
func (m *RoleMembership) EffectiveAt(t time.Time) bool {
	if t.Before(m.ValidFrom) {
		return false
	}
	if m.ValidTo != nil && !t.Before(*m.ValidTo) {
		return false
	}
	return true
}

// Terminal reports whether the instance has reached a final status.
func (w *WorkflowInstance) Terminal() bool {
	switch w.Status {
	case WorkflowApproved, WorkflowRejected, WorkflowCancelled:
		return true
	}
	return false
}
