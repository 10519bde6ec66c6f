package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

func newTemplateService(t *testing.T) (*TemplateService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewTemplateService(store, logger.New(logger.Config{Level: "disabled"})), store
}

func validInput() *CreateTemplateInput {
	return &CreateTemplateInput{
		Code:             "invoice-standard",
		Name:             "Standard invoice flow",
		TargetEntityType: "invoice",
		Stages: []StageDefinition{
			{OrderIndex: 1, Name: "Accounting", DecisionPolicy: repository.PolicyAny, RequiredRole: strptr("accountant")},
			{OrderIndex: 2, Name: "Management", DecisionPolicy: repository.PolicyAll, RequiredRole: strptr("manager")},
		},
	}
}

func TestCreateTemplate(t *testing.T) {
	svc, store := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, 1, tpl.Version)
	assert.False(t, tpl.IsActive)

	stages, err := store.StagesForTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "Accounting", stages[0].Name)
	assert.Equal(t, 2, stages[1].OrderIndex)
}

func TestCreateTemplateValidation(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateTemplateInput)
		code   errors.Code
	}{
		{"missing code", func(in *CreateTemplateInput) { in.Code = "" }, errors.ErrCodeInvalidInput},
		{"missing entity type", func(in *CreateTemplateInput) { in.TargetEntityType = "" }, errors.ErrCodeInvalidInput},
		{"no stages", func(in *CreateTemplateInput) { in.Stages = nil }, errors.ErrCodeConfiguration},
		{"first index not one", func(in *CreateTemplateInput) { in.Stages[0].OrderIndex = 2 }, errors.ErrCodeConfiguration},
		{"duplicate index", func(in *CreateTemplateInput) { in.Stages[1].OrderIndex = 1 }, errors.ErrCodeConfiguration},
		{"unknown policy", func(in *CreateTemplateInput) { in.Stages[0].DecisionPolicy = "MAJORITY" }, errors.ErrCodeConfiguration},
		{"missing stage name", func(in *CreateTemplateInput) { in.Stages[1].Name = "" }, errors.ErrCodeInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(in)
			_, err := svc.Create(ctx, in)
			require.Error(t, err)
			assert.Equal(t, tc.code, errors.CodeOf(err))
		})
	}
}

func TestActivateSwapsActiveTemplate(t *testing.T) {
	svc, store := newTemplateService(t)
	ctx := context.Background()

	v1 := validInput()
	v1.Activate = true
	tpl1, err := svc.Create(ctx, v1)
	require.NoError(t, err)

	v2 := validInput()
	v2.Code = "invoice-standard-v2"
	v2.Version = 2
	tpl2, err := svc.Create(ctx, v2)
	require.NoError(t, err)

	active, err := store.ActiveTemplateForType(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, tpl1.ID, active.ID)

	require.NoError(t, svc.Activate(ctx, tpl2.ID))

	active, err = store.ActiveTemplateForType(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, tpl2.ID, active.ID)

	// v1 was deactivated by v2's activation.
	got, _, err := svc.Get(ctx, tpl1.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestDeactivateTemplate(t *testing.T) {
	svc, store := newTemplateService(t)
	ctx := context.Background()

	in := validInput()
	in.Activate = true
	tpl, err := svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, tpl.ID))

	active, err := store.ActiveTemplateForType(ctx, "invoice")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestActivateUnknownTemplate(t *testing.T) {
	svc, _ := newTemplateService(t)

	err := svc.Activate(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestListTemplatesFiltersByType(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	other := validInput()
	other.Code = "req-flow"
	other.TargetEntityType = "purchase_requisition"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	invoices, err := svc.List(ctx, "invoice")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "invoice-standard", invoices[0].Code)
}
