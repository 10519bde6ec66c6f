package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// Notifier publishes workflow events for external consumers (the
// notifications service). Implementations must be non-fatal: a publish
// failure is logged by the implementation and never surfaces here.
type Notifier interface {
	PublishWorkflowEvent(ctx context.Context, eventType string, inst *repository.WorkflowInstance, actorID string, payload map[string]any)
}

// Event types emitted through the Notifier.
const (
	EventWorkflowStarted   = "workflow_started"
	EventStageAdvanced     = "stage_advanced"
	EventWorkflowApproved  = "workflow_approved"
	EventWorkflowRejected  = "workflow_rejected"
	EventWorkflowCancelled = "workflow_cancelled"
)

// Action result outcomes. Part of the caller contract.
const (
	OutcomeApproved  = "approved"
	OutcomePending   = "pending"
	OutcomeRejected  = "rejected"
	OutcomeDelegated = "delegated"
	OutcomeCommented = "commented"
)

// ActionResult describes what one processed action did.
type ActionResult struct {
	// Outcome is "approved" when the stage was satisfied (advancing or
	// finishing the workflow), "pending" when the stage is still waiting
	// for more approvals, or "rejected"/"delegated"/"commented".
	Outcome  string
	Instance *repository.WorkflowInstance
	Stage    *repository.StageInstance
}

// ApprovalEngine drives any Approvable document through its configured
// multi-stage workflow. All document-type behavior stays behind the
// Approvable hooks; the engine only knows the Target discriminator.
//
// Every public operation runs as one transaction with a row lock on the
// workflow instance, so concurrent actions on the same document serialize
// and exactly one of two racing approvals fires a stage transition.
// Distinct documents never contend.
type ApprovalEngine struct {
	store    repository.Store
	notifier Notifier // may be nil
	log      *logger.Logger
}

// NewApprovalEngine creates an engine over the given store. notifier may be
// nil to disable event publishing.
func NewApprovalEngine(store repository.Store, notifier Notifier, log *logger.Logger) *ApprovalEngine {
	return &ApprovalEngine{store: store, notifier: notifier, log: log}
}

// ── start ─────────────────────────────────────────────────────────────────────

// StartWorkflow begins an approval run for the entity: resolves the active
// template for its type, creates the instance, activates stage one and
// resolves its assignments.
func (e *ApprovalEngine) StartWorkflow(ctx context.Context, entity Approvable) (*repository.WorkflowInstance, error) {
	target := entity.ApprovalTarget()

	var inst *repository.WorkflowInstance
	err := e.store.WithinTx(ctx, func(tx repository.Store) error {
		tpl, stages, err := e.resolveTemplate(ctx, tx, target.EntityType)
		if err != nil {
			return err
		}

		existing, err := tx.ActiveInstanceForUpdate(ctx, target)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.DuplicateWorkflow(target.EntityType, target.EntityID)
		}

		now := time.Now().UTC()
		inst = &repository.WorkflowInstance{
			TemplateID:             tpl.ID,
			EntityType:             target.EntityType,
			EntityID:               target.EntityID,
			Status:                 repository.WorkflowInProgress,
			CurrentStageTemplateID: &stages[0].ID,
			StartedAt:              now,
		}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}

		if err := entity.OnApprovalStarted(ctx, inst); err != nil {
			return err
		}
		if err := e.forwardStarted(ctx, entity, inst); err != nil {
			return err
		}
		if err := entity.SetApprovalStatus(ctx, DocumentPendingApproval); err != nil {
			return err
		}

		// Activate stage one; may cascade past unstaffed stages and even
		// finish the workflow when no stage has eligible approvers.
		return e.activateFrom(ctx, tx, entity, inst, stages, 0)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", target.EntityType).
		Str("entity_id", target.EntityID).
		Str("instance_id", inst.ID).
		Msg("Approval workflow started")
	e.publish(ctx, EventWorkflowStarted, inst, repository.SystemUser, nil)

	return inst, nil
}

// ── actions ───────────────────────────────────────────────────────────────────

// ProcessAction validates and applies one user action (approve, reject,
// delegate or comment) against the entity's active stage. The action row
// and any resulting state change commit in the same transaction.
func (e *ApprovalEngine) ProcessAction(
	ctx context.Context,
	entity Approvable,
	userID, kind string,
	comment *string,
	targetUserID *string,
) (*ActionResult, error) {
	target := entity.ApprovalTarget()

	var result *ActionResult
	err := e.store.WithinTx(ctx, func(tx repository.Store) error {
		inst, err := e.lockedActiveInstance(ctx, tx, target)
		if err != nil {
			return err
		}

		stage, err := tx.ActiveStageForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		if stage == nil {
			return errors.Newf(errors.ErrCodeInternal, "workflow %s has no active stage", inst.ID)
		}
		stageTpl, err := tx.StageTemplateByID(ctx, stage.StageTemplateID)
		if err != nil {
			return err
		}
		if stageTpl == nil {
			return errors.Newf(errors.ErrCodeInternal, "stage template %s missing", stage.StageTemplateID)
		}

		assignment, err := tx.AssignmentForUser(ctx, stage.ID, userID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return errors.Authorization(userID)
		}

		switch kind {
		case repository.ActionApprove:
			result, err = e.approve(ctx, tx, entity, inst, stage, stageTpl, userID, comment)
		case repository.ActionReject:
			result, err = e.reject(ctx, tx, entity, inst, stage, stageTpl, userID, comment)
		case repository.ActionDelegate:
			result, err = e.delegate(ctx, tx, inst, stage, stageTpl, userID, comment, targetUserID)
		case repository.ActionComment:
			result, err = e.commentOnly(ctx, tx, inst, stage, userID, comment)
		default:
			return errors.InvalidAction("unknown action kind: " + kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", target.EntityType).
		Str("entity_id", target.EntityID).
		Str("user_id", userID).
		Str("kind", kind).
		Str("outcome", result.Outcome).
		Msg("Approval action processed")
	e.publishResult(ctx, result, userID)

	return result, nil
}

func (e *ApprovalEngine) commentOnly(
	ctx context.Context,
	tx repository.Store,
	inst *repository.WorkflowInstance,
	stage *repository.StageInstance,
	userID string,
	comment *string,
) (*ActionResult, error) {
	if err := tx.CreateAction(ctx, &repository.Action{
		StageInstanceID: stage.ID,
		UserID:          userID,
		Kind:            repository.ActionComment,
		Comment:         comment,
	}); err != nil {
		return nil, err
	}
	return &ActionResult{Outcome: OutcomeCommented, Instance: inst, Stage: stage}, nil
}

func (e *ApprovalEngine) delegate(
	ctx context.Context,
	tx repository.Store,
	inst *repository.WorkflowInstance,
	stage *repository.StageInstance,
	stageTpl *repository.StageTemplate,
	userID string,
	comment *string,
	targetUserID *string,
) (*ActionResult, error) {
	if !stageTpl.AllowDelegate {
		return nil, errors.InvalidAction("delegation not allowed in this stage")
	}
	if targetUserID == nil || *targetUserID == "" {
		return nil, errors.InvalidAction("target_user required for delegation")
	}
	existing, err := tx.AssignmentForUser(ctx, stage.ID, *targetUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.InvalidAction("target user already assigned to this stage")
	}

	if err := tx.CreateAction(ctx, &repository.Action{
		StageInstanceID: stage.ID,
		UserID:          userID,
		Kind:            repository.ActionDelegate,
		Comment:         comment,
		TargetUserID:    targetUserID,
	}); err != nil {
		return nil, err
	}

	// Delegation is additive: the target gains an assignment and the
	// delegator keeps theirs.
	if err := tx.CreateAssignment(ctx, &repository.Assignment{
		StageInstanceID: stage.ID,
		UserID:          *targetUserID,
		RoleSnapshot:    e.currentRole(ctx, tx, *targetUserID),
	}); err != nil {
		return nil, err
	}

	return &ActionResult{Outcome: OutcomeDelegated, Instance: inst, Stage: stage}, nil
}

func (e *ApprovalEngine) reject(
	ctx context.Context,
	tx repository.Store,
	entity Approvable,
	inst *repository.WorkflowInstance,
	stage *repository.StageInstance,
	stageTpl *repository.StageTemplate,
	userID string,
	comment *string,
) (*ActionResult, error) {
	if !stageTpl.AllowReject {
		return nil, errors.InvalidAction("rejection not allowed in this stage")
	}
	if err := e.checkNotAlreadyDecidedBy(ctx, tx, stage.ID, userID); err != nil {
		return nil, err
	}

	if err := tx.CreateAction(ctx, &repository.Action{
		StageInstanceID: stage.ID,
		UserID:          userID,
		Kind:            repository.ActionReject,
		Comment:         comment,
	}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stage.Status = repository.StageRejected
	stage.CompletedAt = &now
	if err := tx.UpdateStageInstance(ctx, stage); err != nil {
		return nil, err
	}

	inst.Status = repository.WorkflowRejected
	inst.FinishedAt = &now
	inst.CurrentStageTemplateID = nil
	if err := tx.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}

	if err := entity.OnRejected(ctx, inst, stage); err != nil {
		return nil, err
	}
	if err := e.forwardRejected(ctx, entity, inst, stage); err != nil {
		return nil, err
	}
	if err := entity.SetApprovalStatus(ctx, DocumentRejected); err != nil {
		return nil, err
	}

	return &ActionResult{Outcome: OutcomeRejected, Instance: inst, Stage: stage}, nil
}

func (e *ApprovalEngine) approve(
	ctx context.Context,
	tx repository.Store,
	entity Approvable,
	inst *repository.WorkflowInstance,
	stage *repository.StageInstance,
	stageTpl *repository.StageTemplate,
	userID string,
	comment *string,
) (*ActionResult, error) {
	if err := e.checkNotAlreadyDecidedBy(ctx, tx, stage.ID, userID); err != nil {
		return nil, err
	}

	if err := tx.CreateAction(ctx, &repository.Action{
		StageInstanceID: stage.ID,
		UserID:          userID,
		Kind:            repository.ActionApprove,
		Comment:         comment,
	}); err != nil {
		return nil, err
	}

	satisfied, err := e.policySatisfied(ctx, tx, stage, stageTpl)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		return &ActionResult{Outcome: OutcomePending, Instance: inst, Stage: stage}, nil
	}

	now := time.Now().UTC()
	stage.Status = repository.StageCompleted
	stage.CompletedAt = &now
	if err := tx.UpdateStageInstance(ctx, stage); err != nil {
		return nil, err
	}

	if err := entity.OnStageApproved(ctx, stage); err != nil {
		return nil, err
	}
	if err := e.forwardStageApproved(ctx, entity, stage); err != nil {
		return nil, err
	}

	stages, err := tx.StagesForTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}
	next := stageIndexAfter(stages, stage.OrderIndex)
	if next < len(stages) {
		if err := e.activateFrom(ctx, tx, entity, inst, stages, next); err != nil {
			return nil, err
		}
	} else {
		if err := e.finishApproved(ctx, tx, entity, inst); err != nil {
			return nil, err
		}
	}

	return &ActionResult{Outcome: OutcomeApproved, Instance: inst, Stage: stage}, nil
}

// policySatisfied recomputes the decision from the audit log and the
// current assignment set, never from a counter — delegation can grow the
// assignee set mid-stage.
func (e *ApprovalEngine) policySatisfied(
	ctx context.Context,
	tx repository.Store,
	stage *repository.StageInstance,
	stageTpl *repository.StageTemplate,
) (bool, error) {
	actions, err := tx.ActionsForStage(ctx, stage.ID)
	if err != nil {
		return false, err
	}
	approvers := make(map[string]struct{})
	for _, a := range actions {
		if a.Kind == repository.ActionApprove {
			approvers[a.UserID] = struct{}{}
		}
	}

	switch stageTpl.DecisionPolicy {
	case repository.PolicyAny:
		return len(approvers) >= 1, nil
	case repository.PolicyAll:
		assignments, err := tx.AssignmentsForStage(ctx, stage.ID)
		if err != nil {
			return false, err
		}
		for _, a := range assignments {
			if _, ok := approvers[a.UserID]; !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, errors.Configuration("unknown decision policy: " + stageTpl.DecisionPolicy)
	}
}

// checkNotAlreadyDecidedBy rejects a second approve/reject from the same
// user on the same stage.
func (e *ApprovalEngine) checkNotAlreadyDecidedBy(ctx context.Context, tx repository.Store, stageInstanceID, userID string) error {
	actions, err := tx.ActionsForStage(ctx, stageInstanceID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.UserID != userID {
			continue
		}
		if a.Kind == repository.ActionApprove || a.Kind == repository.ActionReject {
			return errors.InvalidAction("user already acted on this stage")
		}
	}
	return nil
}

// ── cancellation ──────────────────────────────────────────────────────────────

// Cancel terminates a non-terminal workflow administratively. It is not
// gated by assignment checks — who may cancel is governed outside this
// engine.
func (e *ApprovalEngine) Cancel(ctx context.Context, entity Approvable, reason string) (*repository.WorkflowInstance, error) {
	target := entity.ApprovalTarget()

	var inst *repository.WorkflowInstance
	err := e.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		inst, err = e.lockedActiveInstance(ctx, tx, target)
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		// Record the reason on the active stage's audit trail when one
		// exists, and close the stage — a cancelled workflow leaves no
		// active stage behind.
		stage, err := tx.ActiveStageForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		if stage != nil {
			msg := "Workflow cancelled. Reason: " + reasonOrDefault(reason)
			if err := tx.CreateAction(ctx, &repository.Action{
				StageInstanceID: stage.ID,
				UserID:          repository.SystemUser,
				Kind:            repository.ActionComment,
				Comment:         &msg,
			}); err != nil {
				return err
			}
			stage.Status = repository.StageCompleted
			stage.CompletedAt = &now
			if err := tx.UpdateStageInstance(ctx, stage); err != nil {
				return err
			}
		}

		inst.Status = repository.WorkflowCancelled
		inst.FinishedAt = &now
		inst.CurrentStageTemplateID = nil
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}

		if err := entity.OnCancelled(ctx, inst, reason); err != nil {
			return err
		}
		if err := e.forwardCancelled(ctx, entity, inst, reason); err != nil {
			return err
		}
		return entity.SetApprovalStatus(ctx, DocumentCancelled)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_type", target.EntityType).
		Str("entity_id", target.EntityID).
		Str("instance_id", inst.ID).
		Str("reason", reason).
		Msg("Approval workflow cancelled")
	e.publish(ctx, EventWorkflowCancelled, inst, repository.SystemUser, map[string]any{"reason": reason})

	return inst, nil
}

// Restart cancels any in-progress run and starts a fresh one from the
// currently active template, as when a changed document is resubmitted.
// Targets whose last run already finished (rejected, cancelled, approved)
// restart as well.
func (e *ApprovalEngine) Restart(ctx context.Context, entity Approvable, reason string) (*repository.WorkflowInstance, error) {
	if _, err := e.Cancel(ctx, entity, reason); err != nil {
		switch errors.CodeOf(err) {
		case errors.ErrCodeNoActiveWorkflow, errors.ErrCodeAlreadyDecided:
			// Nothing running; go straight to the fresh start.
		default:
			return nil, err
		}
	}
	return e.StartWorkflow(ctx, entity)
}

// ── queries ───────────────────────────────────────────────────────────────────

// GetWorkflowInstance returns the in-progress instance when activeOnly,
// otherwise the most recent instance in any status.
func (e *ApprovalEngine) GetWorkflowInstance(ctx context.Context, entity Approvable, activeOnly bool) (*repository.WorkflowInstance, error) {
	target := entity.ApprovalTarget()

	var (
		inst *repository.WorkflowInstance
		err  error
	)
	if activeOnly {
		inst, err = e.store.ActiveInstanceForTarget(ctx, target)
	} else {
		inst, err = e.store.LatestInstanceForTarget(ctx, target)
	}
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errors.NotFound("workflow_instance", target.EntityType+"/"+target.EntityID)
	}
	return inst, nil
}

// PendingApprovals returns the stages currently awaiting the user's action,
// for "pending approvals for me" views.
func (e *ApprovalEngine) PendingApprovals(ctx context.Context, userID string) ([]*repository.PendingApproval, error) {
	return e.store.PendingApprovalsForUser(ctx, userID)
}

// StageInstances returns the full stage trail of an instance.
func (e *ApprovalEngine) StageInstances(ctx context.Context, instanceID string) ([]*repository.StageInstance, error) {
	return e.store.StagesForInstance(ctx, instanceID)
}

// ── internals ─────────────────────────────────────────────────────────────────

// resolveTemplate returns the active template and its stages for an entity
// type, or ConfigurationError.
func (e *ApprovalEngine) resolveTemplate(ctx context.Context, tx repository.Store, entityType string) (*repository.WorkflowTemplate, []*repository.StageTemplate, error) {
	tpl, err := tx.ActiveTemplateForType(ctx, entityType)
	if err != nil {
		return nil, nil, err
	}
	if tpl == nil {
		return nil, nil, errors.Configuration("no active workflow template for entity type " + entityType)
	}
	stages, err := tx.StagesForTemplate(ctx, tpl.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(stages) == 0 {
		return nil, nil, errors.Configuration("workflow template " + tpl.Code + " has no stages")
	}
	return tpl, stages, nil
}

// lockedActiveInstance resolves and row-locks the in-progress instance for
// a target, distinguishing "already decided" from "never started".
func (e *ApprovalEngine) lockedActiveInstance(ctx context.Context, tx repository.Store, target repository.Target) (*repository.WorkflowInstance, error) {
	inst, err := tx.ActiveInstanceForUpdate(ctx, target)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		return inst, nil
	}
	latest, err := tx.LatestInstanceForTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Terminal() {
		return nil, errors.AlreadyDecided(latest.Status)
	}
	return nil, errors.NoActiveWorkflow(target.EntityType, target.EntityID)
}

// activateFrom activates stages[idx], cascading past stages that resolve to
// zero assignees (auto-skip, recorded as a system comment) and finishing
// the workflow when every remaining stage is unstaffed.
func (e *ApprovalEngine) activateFrom(
	ctx context.Context,
	tx repository.Store,
	entity Approvable,
	inst *repository.WorkflowInstance,
	stages []*repository.StageTemplate,
	idx int,
) error {
	now := time.Now().UTC()

	for i := idx; i < len(stages); i++ {
		st := stages[i]
		started := now
		stage := &repository.StageInstance{
			InstanceID:      inst.ID,
			StageTemplateID: st.ID,
			OrderIndex:      st.OrderIndex,
			Name:            st.Name,
			Status:          repository.StageActive,
			StartedAt:       &started,
		}
		if err := tx.CreateStageInstance(ctx, stage); err != nil {
			return err
		}

		assigned, err := e.resolveAssignments(ctx, tx, stage, st)
		if err != nil {
			return err
		}
		if assigned > 0 {
			inst.CurrentStageTemplateID = &st.ID
			return tx.UpdateInstance(ctx, inst)
		}

		// No eligible approvers: auto-skip and keep advancing.
		stage.Status = repository.StageCompleted
		stage.CompletedAt = &started
		if err := tx.UpdateStageInstance(ctx, stage); err != nil {
			return err
		}
		msg := "stage auto-skipped: no eligible approvers"
		if err := tx.CreateAction(ctx, &repository.Action{
			StageInstanceID: stage.ID,
			UserID:          repository.SystemUser,
			Kind:            repository.ActionComment,
			Comment:         &msg,
		}); err != nil {
			return err
		}
		e.log.Warn().
			Str("instance_id", inst.ID).
			Str("stage", st.Name).
			Msg("Stage auto-skipped: no eligible approvers")
	}

	return e.finishApproved(ctx, tx, entity, inst)
}

// resolveAssignments materializes the eligible approvers for a stage.
// Role-gated stages assign every user whose membership is effective now;
// open stages assign every active user. Returns the assignment count.
func (e *ApprovalEngine) resolveAssignments(
	ctx context.Context,
	tx repository.Store,
	stage *repository.StageInstance,
	stageTpl *repository.StageTemplate,
) (int, error) {
	var (
		users []*repository.UserRef
		err   error
	)
	if stageTpl.RequiredRole != nil {
		users, err = tx.UsersWithRoleAt(ctx, *stageTpl.RequiredRole, time.Now().UTC())
	} else {
		users, err = tx.ActiveUsers(ctx)
	}
	if err != nil {
		return 0, err
	}

	for _, u := range users {
		if err := tx.CreateAssignment(ctx, &repository.Assignment{
			StageInstanceID: stage.ID,
			UserID:          u.ID,
			RoleSnapshot:    u.Role,
		}); err != nil {
			return 0, err
		}
	}
	return len(users), nil
}

func (e *ApprovalEngine) finishApproved(ctx context.Context, tx repository.Store, entity Approvable, inst *repository.WorkflowInstance) error {
	now := time.Now().UTC()
	inst.Status = repository.WorkflowApproved
	inst.FinishedAt = &now
	inst.CurrentStageTemplateID = nil
	if err := tx.UpdateInstance(ctx, inst); err != nil {
		return err
	}

	if err := entity.OnFullyApproved(ctx, inst); err != nil {
		return err
	}
	if err := e.forwardFullyApproved(ctx, entity, inst); err != nil {
		return err
	}
	return entity.SetApprovalStatus(ctx, DocumentApproved)
}

// currentRole looks up the user's currently effective role for the
// delegation role snapshot, nil when they hold none.
func (e *ApprovalEngine) currentRole(ctx context.Context, tx repository.Store, userID string) *string {
	users, err := tx.ActiveUsers(ctx)
	if err != nil {
		return nil
	}
	for _, u := range users {
		if u.ID == userID {
			return u.Role
		}
	}
	return nil
}

func stageIndexAfter(stages []*repository.StageTemplate, orderIndex int) int {
	for i, st := range stages {
		if st.OrderIndex > orderIndex {
			return i
		}
	}
	return len(stages)
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "No reason provided"
	}
	return reason
}

// ── child hook forwarding ─────────────────────────────────────────────────────

// resolveChild returns the entity's child record when the entity is a
// parent and a child exists. The child's concrete type is unknown here;
// per-hook interfaces are asserted at each forward.
func resolveChild(ctx context.Context, entity Approvable) (any, bool, error) {
	resolver, ok := entity.(ChildResolver)
	if !ok {
		return nil, false, nil
	}
	return resolver.ResolveChild(ctx)
}

func (e *ApprovalEngine) forwardStarted(ctx context.Context, entity Approvable, inst *repository.WorkflowInstance) error {
	child, ok, err := resolveChild(ctx, entity)
	if err != nil || !ok {
		return err
	}
	if h, ok := child.(ApprovalStartedChild); ok {
		return h.OnApprovalStartedChild(ctx, inst)
	}
	return nil
}

func (e *ApprovalEngine) forwardStageApproved(ctx context.Context, entity Approvable, stage *repository.StageInstance) error {
	child, ok, err := resolveChild(ctx, entity)
	if err != nil || !ok {
		return err
	}
	if h, ok := child.(StageApprovedChild); ok {
		return h.OnStageApprovedChild(ctx, stage)
	}
	return nil
}

func (e *ApprovalEngine) forwardFullyApproved(ctx context.Context, entity Approvable, inst *repository.WorkflowInstance) error {
	child, ok, err := resolveChild(ctx, entity)
	if err != nil || !ok {
		return err
	}
	if h, ok := child.(FullyApprovedChild); ok {
		return h.OnFullyApprovedChild(ctx, inst)
	}
	return nil
}

func (e *ApprovalEngine) forwardRejected(ctx context.Context, entity Approvable, inst *repository.WorkflowInstance, stage *repository.StageInstance) error {
	child, ok, err := resolveChild(ctx, entity)
	if err != nil || !ok {
		return err
	}
	if h, ok := child.(RejectedChild); ok {
		return h.OnRejectedChild(ctx, inst, stage)
	}
	return nil
}

func (e *ApprovalEngine) forwardCancelled(ctx context.Context, entity Approvable, inst *repository.WorkflowInstance, reason string) error {
	child, ok, err := resolveChild(ctx, entity)
	if err != nil || !ok {
		return err
	}
	if h, ok := child.(CancelledChild); ok {
		return h.OnCancelledChild(ctx, inst, reason)
	}
	return nil
}

// ── event publishing ──────────────────────────────────────────────────────────

func (e *ApprovalEngine) publish(ctx context.Context, eventType string, inst *repository.WorkflowInstance, actorID string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.PublishWorkflowEvent(ctx, eventType, inst, actorID, payload)
}

func (e *ApprovalEngine) publishResult(ctx context.Context, result *ActionResult, actorID string) {
	switch result.Outcome {
	case OutcomeApproved:
		if result.Instance.Status == repository.WorkflowApproved {
			e.publish(ctx, EventWorkflowApproved, result.Instance, actorID, nil)
		} else {
			e.publish(ctx, EventStageAdvanced, result.Instance, actorID,
				map[string]any{"completed_stage": result.Stage.Name})
		}
	case OutcomeRejected:
		e.publish(ctx, EventWorkflowRejected, result.Instance, actorID,
			map[string]any{"rejected_stage": result.Stage.Name})
	}
}
