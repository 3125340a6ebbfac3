package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"forma/backend/internal/auth"
	"forma/backend/internal/logging"
	"forma/backend/internal/repository"
	"forma/backend/internal/workflow"
	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

// StepResult reports the outcome of a step submission.
type StepResult struct {
	Accepted  bool             `json:"accepted"`
	FinalStep bool             `json:"final_step"`
	RunStatus models.RunStatus `json:"run_status"`
	// CreatedObjectIDs lists the objects materialized by the final-step
	// commit, in step order. Empty for intermediate steps.
	CreatedObjectIDs []string `json:"created_object_ids,omitempty"`
}

// RunView is the owner-restricted view of a wizard run.
type RunView struct {
	Run    *models.WizardRun        `json:"run"`
	Wizard *models.WizardDefinition `json:"wizard"`
	// Stale flags IN_PROGRESS runs older than the configured maximum age.
	// Informational only; the engine never expires a run on its own.
	Stale bool `json:"stale,omitempty"`
}

// WizardServiceConfig carries the engine knobs for wizard runs.
type WizardServiceConfig struct {
	// StrictMappings fails the final commit when a property mapping cannot
	// be resolved. When false, unresolvable mappings are logged and
	// skipped (legacy behavior).
	StrictMappings bool
	// MaxRunAge, when non-zero, marks older IN_PROGRESS runs stale in views.
	MaxRunAge time.Duration
}

// WizardService owns wizard runs: start, sequential step submission,
// abandonment and the final-step atomic commit. Intermediate steps buffer
// submissions in the run record only; no object exists until the final step
// commits, so abandonment is a pure metadata transition.
type WizardService struct {
	store   repository.Store
	engine  *workflow.Engine
	logger  *logging.Logger
	cfg     WizardServiceConfig
	metrics *engineMetrics
}

// NewWizardService creates a WizardService.
func NewWizardService(store repository.Store, engine *workflow.Engine, logger *logging.Logger, cfg WizardServiceConfig) *WizardService {
	return &WizardService{
		store:   store,
		engine:  engine,
		logger:  logger,
		cfg:     cfg,
		metrics: newEngineMetrics(),
	}
}

// StartRun creates a new IN_PROGRESS run for the wizard, owned by the acting
// identity, positioned before the first step.
func (s *WizardService) StartRun(ctx context.Context, identity auth.Identity, wizardID string) (*models.WizardRun, error) {
	wizard, err := s.store.GetWizard(ctx, wizardID)
	if err != nil {
		return nil, err
	}
	if len(wizard.Steps) == 0 {
		return nil, apperror.Validation("wizard %q has no steps", wizardID)
	}

	now := time.Now().UTC()
	run := &models.WizardRun{
		ID:               uuid.New().String(),
		WizardID:         wizardID,
		UserID:           identity.UserID,
		Status:           models.RunStatusInProgress,
		CurrentStepIndex: -1,
		StepData:         map[int]models.StepSubmission{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	s.metrics.runsStarted.Add(ctx, 1)
	s.logger.Info("wizard run started",
		"run_id", run.ID, "wizard_id", wizardID, "user_id", identity.UserID)
	return run, nil
}

// SubmitStep records one step submission. Steps are strictly sequential:
// stepIndex must be exactly one past the last accepted index, which is also
// the only concurrency control a run needs — of two racing submissions for
// the same index, the row lock serializes them and the loser fails the
// ordering check. Submitting the wizard's last step triggers the commit
// protocol; on any commit failure the transaction rolls back and the run
// stays IN_PROGRESS at its previous index so the client can retry.
func (s *WizardService) SubmitStep(ctx context.Context, identity auth.Identity, runID string, stepIndex int, sub models.StepSubmission) (*StepResult, error) {
	result := &StepResult{}

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		run, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if err := authorizeRun(run, identity); err != nil {
			return err
		}
		if run.Status.Terminal() {
			return apperror.New(apperror.KindAlreadyTerminal,
				"run %q is %s and cannot accept steps", runID, run.Status)
		}

		wizard, err := tx.GetWizard(ctx, run.WizardID)
		if err != nil {
			return err
		}
		if stepIndex != run.CurrentStepIndex+1 || stepIndex >= len(wizard.Steps) {
			return apperror.New(apperror.KindInvalidStepOrder,
				"expected step %d, got %d", run.CurrentStepIndex+1, stepIndex)
		}

		switch sub.StepType {
		case models.StepTypeCreate:
			if sub.FormData == nil {
				sub.FormData = map[string]any{}
			}
		case models.StepTypeLookup:
			if sub.ObjectID == "" {
				return apperror.Validation("lookup step requires an object id")
			}
		default:
			return apperror.Validation("unknown step type %q", sub.StepType)
		}

		if run.StepData == nil {
			run.StepData = map[int]models.StepSubmission{}
		}
		run.StepData[stepIndex] = sub
		run.CurrentStepIndex = stepIndex

		result.FinalStep = stepIndex == len(wizard.Steps)-1
		if result.FinalStep {
			created, err := s.commit(ctx, tx, wizard, run)
			if err != nil {
				return err
			}
			run.Status = models.RunStatusCompleted
			result.CreatedObjectIDs = created
		}
		result.Accepted = true
		result.RunStatus = run.Status

		return tx.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	if result.FinalStep {
		s.metrics.runsCompleted.Add(ctx, 1)
		s.logger.Info("wizard run completed",
			"run_id", runID, "objects_created", len(result.CreatedObjectIDs))
	}
	return result, nil
}

// commit is the final-step protocol: resolve lookup steps, then materialize
// every step in definition order inside the surrounding transaction. Any
// failure aborts the whole run's object creation.
func (s *WizardService) commit(ctx context.Context, tx repository.Store, wizard *models.WizardDefinition, run *models.WizardRun) ([]string, error) {
	// Resolve lookups first so mappings can read a looked-up object's
	// attributes exactly like a create step's form data.
	for i := range wizard.Steps {
		sub, ok := run.StepData[i]
		if !ok {
			return nil, apperror.Validation("run %q has no submission for step %d", run.ID, i)
		}
		if sub.StepType != models.StepTypeLookup {
			continue
		}
		obj, err := tx.GetObject(ctx, sub.ObjectID)
		if err != nil {
			// A vanished lookup target aborts the commit.
			return nil, err
		}
		if obj.ModelID != wizard.Steps[i].ModelID {
			return nil, apperror.Validation(
				"step %d expects an object of model %q, got %q", i, wizard.Steps[i].ModelID, obj.ModelID)
		}
		sub.FormData = cloneAttributes(obj.Attributes)
		run.StepData[i] = sub
	}

	resultIDs := make([]string, len(wizard.Steps))
	var created []string

	for i := range wizard.Steps {
		step := &wizard.Steps[i]
		sub := run.StepData[i]

		if sub.StepType == models.StepTypeLookup {
			resultIDs[i] = sub.ObjectID
			continue
		}

		model, err := tx.GetModel(ctx, step.ModelID)
		if err != nil {
			return nil, err
		}
		props, err := tx.GetModelProperties(ctx, step.ModelID)
		if err != nil {
			return nil, err
		}

		formData := cloneAttributes(sub.FormData)
		for _, m := range step.Mappings {
			value, err := resolveMapping(m, i, run, resultIDs)
			if err == nil {
				target := propertyName(props, m.TargetProperty)
				if target == "" {
					err = apperror.Validation(
						"mapping target %q is not a property of model %q", m.TargetProperty, step.ModelID)
				} else {
					// Mapped values overwrite same-named raw input.
					formData[target] = value
				}
			}
			if err != nil {
				if s.cfg.StrictMappings {
					return nil, err
				}
				s.logger.Warn("skipping unresolvable property mapping",
					"run_id", run.ID, "step", i, "target", m.TargetProperty, "error", err)
			}
		}

		attrs, err := s.coerceFormData(props, formData, run.ID, i)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		obj := &models.DataObject{
			ID:         uuid.New().String(),
			ModelID:    step.ModelID,
			Attributes: attrs,
			OwnerID:    run.UserID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if model.WorkflowID != nil {
			def, err := tx.GetWorkflow(ctx, *model.WorkflowID)
			if err != nil {
				return nil, err
			}
			if initial := s.engine.InitialStateFor(def); initial != nil {
				obj.CurrentStateID = &initial.ID
			}
		}

		if err := tx.InsertObject(ctx, obj); err != nil {
			return nil, err
		}

		resultIDs[i] = obj.ID
		created = append(created, obj.ID)

		// Record the fully-resolved step so later steps (and the
		// persisted run) see the materialized values and the new id.
		sub.ObjectID = obj.ID
		sub.FormData = obj.Attributes
		run.StepData[i] = sub
	}

	return created, nil
}

// resolveMapping pulls the source value for a mapping: either an earlier
// step's resolved form value or, for the object-id sentinel, that step's
// result id. Forward and out-of-range references fail with a diagnostic
// rather than panicking.
func resolveMapping(m models.PropertyMapping, stepIndex int, run *models.WizardRun, resultIDs []string) (any, error) {
	if m.SourceStepIndex < 0 || m.SourceStepIndex >= stepIndex {
		return nil, apperror.Validation(
			"mapping for step %d references step %d, which is not an earlier step",
			stepIndex, m.SourceStepIndex)
	}
	if m.SourceProperty == models.ObjectIDSource {
		return resultIDs[m.SourceStepIndex], nil
	}
	src := run.StepData[m.SourceStepIndex]
	value, ok := src.FormData[m.SourceProperty]
	if !ok {
		return nil, apperror.Validation(
			"step %d has no value for mapped property %q", m.SourceStepIndex, m.SourceProperty)
	}
	return value, nil
}

// coerceFormData validates submitted values against the step model's property
// list. Keys with no matching property are dropped; value-level failures are
// always fatal to the commit.
func (s *WizardService) coerceFormData(props []models.Property, formData map[string]any, runID string, stepIndex int) (map[string]any, error) {
	byName := make(map[string]*models.Property, len(props))
	for i := range props {
		byName[props[i].Name] = &props[i]
	}

	attrs := make(map[string]any, len(formData))
	for key, raw := range formData {
		prop, ok := byName[key]
		if !ok {
			s.logger.Debug("dropping form value with no matching property",
				"run_id", runID, "step", stepIndex, "key", key)
			continue
		}
		value, err := models.CoerceValue(prop, raw)
		if err != nil {
			return nil, err
		}
		if value != nil {
			attrs[key] = value
		}
	}
	return attrs, nil
}

// AbandonRun marks an IN_PROGRESS run abandoned. Intermediate steps never
// create objects, so there is nothing to compensate.
func (s *WizardService) AbandonRun(ctx context.Context, identity auth.Identity, runID string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		run, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if err := authorizeRun(run, identity); err != nil {
			return err
		}
		if run.Status.Terminal() {
			return apperror.New(apperror.KindAlreadyTerminal,
				"run %q is already %s", runID, run.Status)
		}
		run.Status = models.RunStatusAbandoned
		return tx.UpdateRun(ctx, run)
	})
	if err != nil {
		return err
	}
	s.metrics.runsAbandoned.Add(ctx, 1)
	s.logger.Info("wizard run abandoned", "run_id", runID, "user_id", identity.UserID)
	return nil
}

// GetRun returns the run with its wizard definition, restricted to the owner
// (or an admin identity).
func (s *WizardService) GetRun(ctx context.Context, identity auth.Identity, runID string) (*RunView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRun(run, identity); err != nil {
		return nil, err
	}
	wizard, err := s.store.GetWizard(ctx, run.WizardID)
	if err != nil {
		return nil, err
	}

	view := &RunView{Run: run, Wizard: wizard}
	if s.cfg.MaxRunAge > 0 && run.Status == models.RunStatusInProgress &&
		time.Since(run.UpdatedAt) > s.cfg.MaxRunAge {
		view.Stale = true
	}
	return view, nil
}

// propertyName resolves a mapping target, given either a property name or a
// property id, to the canonical attribute key. Empty means no match.
func propertyName(props []models.Property, nameOrID string) string {
	for i := range props {
		if props[i].Name == nameOrID || props[i].ID == nameOrID {
			return props[i].Name
		}
	}
	return ""
}

func authorizeRun(run *models.WizardRun, identity auth.Identity) error {
	if run.UserID == identity.UserID || identity.Admin() {
		return nil
	}
	return apperror.Forbidden("run %q belongs to another user", run.ID)
}

func cloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
