package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// StageDefinition is one stage in a template creation request.
type StageDefinition struct {
	OrderIndex     int     `json:"order_index"`
	Name           string  `json:"name"`
	DecisionPolicy string  `json:"decision_policy"`
	RequiredRole   *string `json:"required_role,omitempty"`
	AllowReject    bool    `json:"allow_reject"`
	AllowDelegate  bool    `json:"allow_delegate"`
}

// CreateTemplateInput carries a full template definition.
type CreateTemplateInput struct {
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	Description      *string           `json:"description,omitempty"`
	TargetEntityType string            `json:"target_entity_type"`
	Version          int               `json:"version"`
	Activate         bool              `json:"activate"`
	Stages           []StageDefinition `json:"stages"`
}

// TemplateService manages workflow template definitions and their
// activation lifecycle. Templates are write-once: changing a flow means
// creating a new version and activating it.
type TemplateService struct {
	store repository.Store
	log   *logger.Logger
}

// NewTemplateService creates a template service.
func NewTemplateService(store repository.Store, log *logger.Logger) *TemplateService {
	return &TemplateService{store: store, log: log}
}

// Create validates and persists a template with its stages. When
// input.Activate is set, any previously active template for the entity
// type is deactivated in the same transaction.
func (s *TemplateService) Create(ctx context.Context, input *CreateTemplateInput) (*repository.WorkflowTemplate, error) {
	if err := validateTemplateInput(input); err != nil {
		return nil, err
	}

	version := input.Version
	if version <= 0 {
		version = 1
	}

	tpl := &repository.WorkflowTemplate{
		Code:             input.Code,
		Name:             input.Name,
		Description:      input.Description,
		TargetEntityType: input.TargetEntityType,
		Version:          version,
	}

	stages := make([]*repository.StageTemplate, 0, len(input.Stages))
	for _, def := range input.Stages {
		stages = append(stages, &repository.StageTemplate{
			OrderIndex:     def.OrderIndex,
			Name:           def.Name,
			DecisionPolicy: def.DecisionPolicy,
			RequiredRole:   def.RequiredRole,
			AllowReject:    def.AllowReject,
			AllowDelegate:  def.AllowDelegate,
		})
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.CreateTemplate(ctx, tpl, stages); err != nil {
			return err
		}
		if input.Activate {
			return tx.ActivateTemplate(ctx, tpl.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("code", tpl.Code).
		Str("entity_type", tpl.TargetEntityType).
		Int("stages", len(stages)).
		Bool("active", input.Activate).
		Msg("Workflow template created")

	tpl.IsActive = input.Activate
	return tpl, nil
}

// Activate makes the template the single active one for its entity type,
// deactivating any sibling atomically.
func (s *TemplateService) Activate(ctx context.Context, templateID string) error {
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		tpl, err := tx.TemplateByID(ctx, templateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return errors.NotFound("workflow_template", templateID)
		}
		return tx.ActivateTemplate(ctx, templateID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("template_id", templateID).Msg("Workflow template activated")
	return nil
}

// Deactivate retires a template. In-flight workflow instances keep
// running against it; only new starts are affected.
func (s *TemplateService) Deactivate(ctx context.Context, templateID string) error {
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		tpl, err := tx.TemplateByID(ctx, templateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return errors.NotFound("workflow_template", templateID)
		}
		return tx.DeactivateTemplate(ctx, templateID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("template_id", templateID).Msg("Workflow template deactivated")
	return nil
}

// Get returns a template with its stages.
func (s *TemplateService) Get(ctx context.Context, templateID string) (*repository.WorkflowTemplate, []*repository.StageTemplate, error) {
	tpl, err := s.store.TemplateByID(ctx, templateID)
	if err != nil {
		return nil, nil, err
	}
	if tpl == nil {
		return nil, nil, errors.NotFound("workflow_template", templateID)
	}
	stages, err := s.store.StagesForTemplate(ctx, templateID)
	if err != nil {
		return nil, nil, err
	}
	return tpl, stages, nil
}

// List returns templates, optionally filtered by target entity type.
func (s *TemplateService) List(ctx context.Context, entityType string) ([]*repository.WorkflowTemplate, error) {
	return s.store.ListTemplates(ctx, entityType)
}

func validateTemplateInput(input *CreateTemplateInput) error {
	if input.Code == "" {
		return errors.InvalidInput("code", "is required")
	}
	if input.Name == "" {
		return errors.InvalidInput("name", "is required")
	}
	if input.TargetEntityType == "" {
		return errors.InvalidInput("target_entity_type", "is required")
	}
	if len(input.Stages) == 0 {
		return errors.Configuration("template must define at least one stage")
	}

	prev := 0
	for i, st := range input.Stages {
		if st.Name == "" {
			return errors.InvalidInput("stages", "stage name is required")
		}
		if st.OrderIndex <= prev {
			return errors.Configuration("stage order indexes must be strictly increasing and start at 1")
		}
		if i == 0 && st.OrderIndex != 1 {
			return errors.Configuration("first stage must have order index 1")
		}
		switch st.DecisionPolicy {
		case repository.PolicyAny, repository.PolicyAll:
		default:
			return errors.Configuration("unknown decision policy: " + st.DecisionPolicy)
		}
		prev = st.OrderIndex
	}
	return nil
}
