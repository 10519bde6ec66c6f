package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// MemoryStore is a reference Store implementation backed by process memory,
// used by the test suites and for local development without postgres.
//
// WithinTx serializes on a single mutex, which trivially satisfies the
// isolation the engine needs (no two transactions interleave at all). A
// snapshot taken at transaction start is restored when fn errors, so a
// failed transaction leaves no partial writes — entity hooks run inside
// engine transactions and can fail after rows were written.
type MemoryStore struct {
	mu   sync.Mutex
	inTx bool

	templates      []*WorkflowTemplate
	stageTemplates []*StageTemplate
	instances      []*WorkflowInstance
	stageInstances []*StageInstance
	assignments    []*Assignment
	actions        []*Action

	users       map[string]bool // user id -> active
	userOrder   []string
	memberships []*RoleMembership
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]bool)}
}

// WithinTx serializes fn against all other transactions. Nested calls join
// the enclosing one. When fn errors, every write it made is rolled back.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	tx := &MemoryStore{
		inTx:           true,
		templates:      s.templates,
		stageTemplates: s.stageTemplates,
		instances:      s.instances,
		stageInstances: s.stageInstances,
		assignments:    s.assignments,
		actions:        s.actions,
		users:          s.users,
		userOrder:      s.userOrder,
		memberships:    s.memberships,
	}
	if err := fn(tx); err != nil {
		// The transaction shares backing arrays with the parent, and
		// updates replace rows in place, so restoring the slice headers
		// alone is not enough — restore the deep copies.
		s.restore(snap)
		return err
	}
	// copy appended slices back to the parent
	s.templates = tx.templates
	s.stageTemplates = tx.stageTemplates
	s.instances = tx.instances
	s.stageInstances = tx.stageInstances
	s.assignments = tx.assignments
	s.actions = tx.actions
	return nil
}

type storeSnapshot struct {
	templates      []*WorkflowTemplate
	stageTemplates []*StageTemplate
	instances      []*WorkflowInstance
	stageInstances []*StageInstance
	assignments    []*Assignment
	actions        []*Action
}

// snapshot deep-copies every row: a failed transaction may have replaced
// rows inside the shared backing arrays.
func (s *MemoryStore) snapshot() storeSnapshot {
	var snap storeSnapshot
	for _, t := range s.templates {
		snap.templates = append(snap.templates, cloneTemplate(t))
	}
	for _, st := range s.stageTemplates {
		snap.stageTemplates = append(snap.stageTemplates, cloneStageTemplate(st))
	}
	for _, w := range s.instances {
		snap.instances = append(snap.instances, cloneInstance(w))
	}
	for _, si := range s.stageInstances {
		snap.stageInstances = append(snap.stageInstances, cloneStageInstance(si))
	}
	for _, a := range s.assignments {
		snap.assignments = append(snap.assignments, cloneAssignment(a))
	}
	for _, a := range s.actions {
		snap.actions = append(snap.actions, cloneAction(a))
	}
	return snap
}

func (s *MemoryStore) restore(snap storeSnapshot) {
	s.templates = snap.templates
	s.stageTemplates = snap.stageTemplates
	s.instances = snap.instances
	s.stageInstances = snap.stageInstances
	s.assignments = snap.assignments
	s.actions = snap.actions
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ── seed helpers (tests and local development only) ───────────────────────────

// AddUser registers an active user.
func (s *MemoryStore) AddUser(id string) {
	defer s.lock()()
	if _, ok := s.users[id]; !ok {
		s.userOrder = append(s.userOrder, id)
	}
	s.users[id] = true
}

// DeactivateUser marks a user inactive.
func (s *MemoryStore) DeactivateUser(id string) {
	defer s.lock()()
	if _, ok := s.users[id]; ok {
		s.users[id] = false
	}
}

// GrantRole adds a time-bounded role membership. A nil validTo means
// open-ended.
func (s *MemoryStore) GrantRole(userID, role string, validFrom time.Time, validTo *time.Time) {
	defer s.lock()()
	s.memberships = append(s.memberships, &RoleMembership{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		ValidFrom: validFrom,
		ValidTo:   validTo,
	})
}

// ── templates ─────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateTemplate(ctx context.Context, tpl *WorkflowTemplate, stages []*StageTemplate) error {
	defer s.lock()()
	if tpl.IsActive {
		for _, t := range s.templates {
			if t.IsActive && t.TargetEntityType == tpl.TargetEntityType {
				return errors.Newf(errors.ErrCodeConflict,
					"active template already exists for entity type %s", tpl.TargetEntityType)
			}
		}
	}
	now := time.Now().UTC()
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	tpl.CreatedAt, tpl.UpdatedAt = now, now
	s.templates = append(s.templates, cloneTemplate(tpl))

	for _, st := range stages {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.TemplateID = tpl.ID
		st.CreatedAt, st.UpdatedAt = now, now
		s.stageTemplates = append(s.stageTemplates, cloneStageTemplate(st))
	}
	return nil
}

func (s *MemoryStore) ActivateTemplate(ctx context.Context, templateID string) error {
	defer s.lock()()
	target := s.findTemplate(templateID)
	if target == nil {
		return errors.NotFound("workflow_template", templateID)
	}
	for _, t := range s.templates {
		if t.TargetEntityType == target.TargetEntityType && t.ID != templateID {
			t.IsActive = false
		}
	}
	target.IsActive = true
	target.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeactivateTemplate(ctx context.Context, templateID string) error {
	defer s.lock()()
	target := s.findTemplate(templateID)
	if target == nil {
		return errors.NotFound("workflow_template", templateID)
	}
	target.IsActive = false
	target.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TemplateByID(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	defer s.lock()()
	if t := s.findTemplate(templateID); t != nil {
		return cloneTemplate(t), nil
	}
	return nil, nil
}

func (s *MemoryStore) ActiveTemplateForType(ctx context.Context, entityType string) (*WorkflowTemplate, error) {
	defer s.lock()()
	var best *WorkflowTemplate
	for _, t := range s.templates {
		if t.IsActive && t.TargetEntityType == entityType {
			if best == nil || t.Version > best.Version {
				best = t
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneTemplate(best), nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, entityType string) ([]*WorkflowTemplate, error) {
	defer s.lock()()
	var out []*WorkflowTemplate
	for _, t := range s.templates {
		if entityType == "" || t.TargetEntityType == entityType {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TargetEntityType != out[j].TargetEntityType {
			return out[i].TargetEntityType < out[j].TargetEntityType
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (s *MemoryStore) StagesForTemplate(ctx context.Context, templateID string) ([]*StageTemplate, error) {
	defer s.lock()()
	var out []*StageTemplate
	for _, st := range s.stageTemplates {
		if st.TemplateID == templateID {
			out = append(out, cloneStageTemplate(st))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *MemoryStore) StageTemplateByID(ctx context.Context, stageTemplateID string) (*StageTemplate, error) {
	defer s.lock()()
	for _, st := range s.stageTemplates {
		if st.ID == stageTemplateID {
			return cloneStageTemplate(st), nil
		}
	}
	return nil, nil
}

// ── workflow instances ────────────────────────────────────────────────────────

func (s *MemoryStore) CreateInstance(ctx context.Context, inst *WorkflowInstance) error {
	defer s.lock()()
	// Same contract error the postgres store maps its partial unique index
	// violation to, so callers losing a start race see duplicate_workflow
	// on either implementation.
	for _, w := range s.instances {
		if w.EntityType == inst.EntityType && w.EntityID == inst.EntityID && w.Status == WorkflowInProgress {
			return errors.DuplicateWorkflow(inst.EntityType, inst.EntityID)
		}
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now().UTC()
	}
	s.instances = append(s.instances, cloneInstance(inst))
	return nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *WorkflowInstance) error {
	defer s.lock()()
	for i, w := range s.instances {
		if w.ID == inst.ID {
			s.instances[i] = cloneInstance(inst)
			return nil
		}
	}
	return errors.NotFound("workflow_instance", inst.ID)
}

func (s *MemoryStore) ActiveInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error) {
	defer s.lock()()
	for _, w := range s.instances {
		if w.EntityType == target.EntityType && w.EntityID == target.EntityID && w.Status == WorkflowInProgress {
			return cloneInstance(w), nil
		}
	}
	return nil, nil
}

// ActiveInstanceForUpdate is identical to ActiveInstanceForTarget here: the
// WithinTx mutex already excludes every other transaction.
func (s *MemoryStore) ActiveInstanceForUpdate(ctx context.Context, target Target) (*WorkflowInstance, error) {
	return s.ActiveInstanceForTarget(ctx, target)
}

func (s *MemoryStore) LatestInstanceForTarget(ctx context.Context, target Target) (*WorkflowInstance, error) {
	defer s.lock()()
	var latest *WorkflowInstance
	for _, w := range s.instances {
		if w.EntityType != target.EntityType || w.EntityID != target.EntityID {
			continue
		}
		if latest == nil || w.StartedAt.After(latest.StartedAt) {
			latest = w
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneInstance(latest), nil
}

// ── stage instances ───────────────────────────────────────────────────────────

func (s *MemoryStore) CreateStageInstance(ctx context.Context, stage *StageInstance) error {
	defer s.lock()()
	if stage.Status == StageActive {
		for _, si := range s.stageInstances {
			if si.InstanceID == stage.InstanceID && si.Status == StageActive {
				return errors.Newf(errors.ErrCodeConflict,
					"active stage already exists for instance %s", stage.InstanceID)
			}
		}
	}
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	s.stageInstances = append(s.stageInstances, cloneStageInstance(stage))
	return nil
}

func (s *MemoryStore) UpdateStageInstance(ctx context.Context, stage *StageInstance) error {
	defer s.lock()()
	for i, si := range s.stageInstances {
		if si.ID == stage.ID {
			s.stageInstances[i] = cloneStageInstance(stage)
			return nil
		}
	}
	return errors.NotFound("stage_instance", stage.ID)
}

func (s *MemoryStore) ActiveStageForInstance(ctx context.Context, instanceID string) (*StageInstance, error) {
	defer s.lock()()
	for _, si := range s.stageInstances {
		if si.InstanceID == instanceID && si.Status == StageActive {
			return cloneStageInstance(si), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) StagesForInstance(ctx context.Context, instanceID string) ([]*StageInstance, error) {
	defer s.lock()()
	var out []*StageInstance
	for _, si := range s.stageInstances {
		if si.InstanceID == instanceID {
			out = append(out, cloneStageInstance(si))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// ── assignments ───────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	defer s.lock()()
	for _, existing := range s.assignments {
		if existing.StageInstanceID == a.StageInstanceID && existing.UserID == a.UserID {
			return errors.Newf(errors.ErrCodeConflict,
				"assignment already exists for user %s", a.UserID)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	s.assignments = append(s.assignments, cloneAssignment(a))
	return nil
}

func (s *MemoryStore) AssignmentsForStage(ctx context.Context, stageInstanceID string) ([]*Assignment, error) {
	defer s.lock()()
	var out []*Assignment
	for _, a := range s.assignments {
		if a.StageInstanceID == stageInstanceID {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

func (s *MemoryStore) AssignmentForUser(ctx context.Context, stageInstanceID, userID string) (*Assignment, error) {
	defer s.lock()()
	for _, a := range s.assignments {
		if a.StageInstanceID == stageInstanceID && a.UserID == userID {
			return cloneAssignment(a), nil
		}
	}
	return nil, nil
}

// ── actions ───────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateAction(ctx context.Context, a *Action) error {
	defer s.lock()()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.actions = append(s.actions, cloneAction(a))
	return nil
}

func (s *MemoryStore) ActionsForStage(ctx context.Context, stageInstanceID string) ([]*Action, error) {
	defer s.lock()()
	var out []*Action
	for _, a := range s.actions {
		if a.StageInstanceID == stageInstanceID {
			out = append(out, cloneAction(a))
		}
	}
	return out, nil
}

// ── identity ──────────────────────────────────────────────────────────────────

func (s *MemoryStore) UsersWithRoleAt(ctx context.Context, role string, at time.Time) ([]*UserRef, error) {
	defer s.lock()()
	var out []*UserRef
	for _, id := range s.userOrder {
		if !s.users[id] {
			continue
		}
		for _, m := range s.memberships {
			if m.UserID == id && m.Role == role && m.EffectiveAt(at) {
				roleName := m.Role
				out = append(out, &UserRef{ID: id, Role: &roleName})
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ActiveUsers(ctx context.Context) ([]*UserRef, error) {
	defer s.lock()()
	now := time.Now().UTC()
	var out []*UserRef
	for _, id := range s.userOrder {
		if !s.users[id] {
			continue
		}
		ref := &UserRef{ID: id}
		// One row per user regardless of how many memberships are
		// concurrently effective; the most recently granted role wins.
		var best *RoleMembership
		for _, m := range s.memberships {
			if m.UserID == id && m.EffectiveAt(now) {
				if best == nil || m.ValidFrom.After(best.ValidFrom) {
					best = m
				}
			}
		}
		if best != nil {
			roleName := best.Role
			ref.Role = &roleName
		}
		out = append(out, ref)
	}
	return out, nil
}

// ── query surface ─────────────────────────────────────────────────────────────

func (s *MemoryStore) PendingApprovalsForUser(ctx context.Context, userID string) ([]*PendingApproval, error) {
	defer s.lock()()
	var out []*PendingApproval
	for _, a := range s.assignments {
		if a.UserID != userID {
			continue
		}
		si := s.findStageInstance(a.StageInstanceID)
		if si == nil || si.Status != StageActive {
			continue
		}
		w := s.findInstance(si.InstanceID)
		if w == nil || w.Status != WorkflowInProgress {
			continue
		}
		out = append(out, &PendingApproval{
			InstanceID:      w.ID,
			EntityType:      w.EntityType,
			EntityID:        w.EntityID,
			StageInstanceID: si.ID,
			StageName:       si.Name,
			OrderIndex:      si.OrderIndex,
			AssignedAt:      a.AssignedAt,
		})
	}
	return out, nil
}

// ── lookup and clone helpers ──────────────────────────────────────────────────

func (s *MemoryStore) findTemplate(id string) *WorkflowTemplate {
	for _, t := range s.templates {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) findInstance(id string) *WorkflowInstance {
	for _, w := range s.instances {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (s *MemoryStore) findStageInstance(id string) *StageInstance {
	for _, si := range s.stageInstances {
		if si.ID == id {
			return si
		}
	}
	return nil
}

func cloneTemplate(t *WorkflowTemplate) *WorkflowTemplate {
	c := *t
	c.Description = clonePtr(t.Description)
	return &c
}

func cloneStageTemplate(st *StageTemplate) *StageTemplate {
	c := *st
	c.RequiredRole = clonePtr(st.RequiredRole)
	return &c
}

func cloneInstance(w *WorkflowInstance) *WorkflowInstance {
	c := *w
	c.CurrentStageTemplateID = clonePtr(w.CurrentStageTemplateID)
	c.FinishedAt = clonePtr(w.FinishedAt)
	return &c
}

func cloneStageInstance(si *StageInstance) *StageInstance {
	c := *si
	c.StartedAt = clonePtr(si.StartedAt)
	c.CompletedAt = clonePtr(si.CompletedAt)
	return &c
}

func cloneAssignment(a *Assignment) *Assignment {
	c := *a
	c.RoleSnapshot = clonePtr(a.RoleSnapshot)
	return &c
}

func cloneAction(a *Action) *Action {
	c := *a
	c.Comment = clonePtr(a.Comment)
	c.TargetUserID = clonePtr(a.TargetUserID)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
