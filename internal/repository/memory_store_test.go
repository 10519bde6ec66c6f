package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	inst := &WorkflowInstance{
		TemplateID: "tpl-1",
		EntityType: "invoice",
		EntityID:   "inv-1",
		Status:     WorkflowInProgress,
	}
	require.NoError(t, store.CreateInstance(ctx, inst))

	boom := errors.New(errors.ErrCodeInternal, "hook failed")
	err := store.WithinTx(ctx, func(tx Store) error {
		updated := *inst
		updated.Status = WorkflowRejected
		if err := tx.UpdateInstance(ctx, &updated); err != nil {
			return err
		}
		if err := tx.CreateAction(ctx, &Action{
			StageInstanceID: "stage-1",
			UserID:          "alice",
			Kind:            ActionReject,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Both the in-place update and the append were rolled back.
	current, err := store.LatestInstanceForTarget(ctx, Target{EntityType: "invoice", EntityID: "inv-1"})
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, WorkflowInProgress, current.Status)

	actions, err := store.ActionsForStage(ctx, "stage-1")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx Store) error {
		return tx.CreateInstance(ctx, &WorkflowInstance{
			TemplateID: "tpl-1",
			EntityType: "invoice",
			EntityID:   "inv-1",
			Status:     WorkflowInProgress,
		})
	})
	require.NoError(t, err)

	current, err := store.ActiveInstanceForTarget(ctx, Target{EntityType: "invoice", EntityID: "inv-1"})
	require.NoError(t, err)
	require.NotNil(t, current)
}

func TestActiveUsersOneRowPerUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.AddUser("poly")
	store.GrantRole("poly", "accountant", time.Now().Add(-2*time.Hour), nil)
	store.GrantRole("poly", "auditor", time.Now().Add(-time.Hour), nil)

	users, err := store.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.NotNil(t, users[0].Role)
	assert.Equal(t, "auditor", *users[0].Role)
}

func TestCreateInstanceDuplicateCode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &WorkflowInstance{TemplateID: "tpl-1", EntityType: "invoice", EntityID: "inv-1", Status: WorkflowInProgress}
	require.NoError(t, store.CreateInstance(ctx, first))

	second := &WorkflowInstance{TemplateID: "tpl-1", EntityType: "invoice", EntityID: "inv-1", Status: WorkflowInProgress}
	err := store.CreateInstance(ctx, second)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateWorkflow, errors.CodeOf(err))
}
