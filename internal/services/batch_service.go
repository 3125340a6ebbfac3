package services

import (
	"context"
	"errors"

	"forma/backend/internal/auth"
	"forma/backend/internal/logging"
	"forma/backend/internal/repository"
	"forma/backend/internal/workflow"
	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

// BatchStatus is the aggregate outcome of a batch update.
type BatchStatus string

const (
	// BatchStatusApplied means every target was mutated.
	BatchStatusApplied BatchStatus = "applied"
	// BatchStatusNothingApplied means at least one target failed
	// validation and the whole batch was rolled back.
	BatchStatusNothingApplied BatchStatus = "nothing_applied"
)

// BatchUpdateRequest applies one new value to a single property (or to the
// workflow state, via models.WorkflowStateProperty) of many objects at once.
type BatchUpdateRequest struct {
	ModelID   string   `json:"model_id"`
	ObjectIDs []string `json:"object_ids"`
	Property  string   `json:"property"`
	Value     any      `json:"value"`
}

// BatchObjectError is one per-object validation failure.
type BatchObjectError struct {
	ObjectID string `json:"object_id"`
	Property string `json:"property,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// BatchUpdateResult reports the outcome of a batch update. When Status is
// nothing_applied, WouldSucceed counts the objects that validated cleanly
// before the batch was discarded.
type BatchUpdateResult struct {
	Status       BatchStatus        `json:"status"`
	Requested    int                `json:"requested"`
	WouldSucceed int                `json:"would_succeed"`
	Applied      int                `json:"applied"`
	Value        any                `json:"value,omitempty"`
	Errors       []BatchObjectError `json:"errors,omitempty"`
}

// errBatchRollback forces the transaction to roll back after per-object
// validation failures without discarding the accumulated result.
var errBatchRollback = errors.New("batch validation failed")

// BatchService validates and applies batch mutations. All targets of one
// request are mutated in one transaction or not at all.
type BatchService struct {
	store   repository.Store
	engine  *workflow.Engine
	logger  *logging.Logger
	metrics *engineMetrics
}

// NewBatchService creates a BatchService.
func NewBatchService(store repository.Store, engine *workflow.Engine, logger *logging.Logger) *BatchService {
	return &BatchService{store: store, engine: engine, logger: logger, metrics: newEngineMetrics()}
}

// Apply validates the request against every target object and mutates all of
// them inside a single transaction. Per-object validation failures are
// collected rather than aborting the loop, so the caller sees the full error
// set; any failure discards the entire batch. Malformed requests (unknown
// model or property, value of the wrong type, workflow update on a model
// without a workflow) are rejected outright with an error and no result.
func (s *BatchService) Apply(ctx context.Context, identity auth.Identity, req *BatchUpdateRequest) (*BatchUpdateResult, error) {
	if req.ModelID == "" || req.Property == "" {
		return nil, apperror.Validation("model_id and property are required")
	}
	if len(req.ObjectIDs) == 0 {
		return nil, apperror.Validation("object_ids must not be empty")
	}

	result := &BatchUpdateResult{Requested: len(req.ObjectIDs)}

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		model, err := tx.GetModel(ctx, req.ModelID)
		if err != nil {
			return err
		}

		if req.Property == models.WorkflowStateProperty {
			if err := s.applyWorkflowBatch(ctx, tx, model, req, result); err != nil {
				return err
			}
		} else {
			if err := s.applyPropertyBatch(ctx, tx, model, req, result); err != nil {
				return err
			}
		}

		if len(result.Errors) > 0 {
			return errBatchRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchRollback) {
		return nil, err
	}

	if len(result.Errors) > 0 {
		result.Status = BatchStatusNothingApplied
		result.Applied = 0
		s.metrics.batchRejected.Add(ctx, 1)
		s.logger.Info("batch update rolled back",
			"model_id", req.ModelID, "property", req.Property, "user_id", identity.UserID,
			"requested", result.Requested, "would_succeed", result.WouldSucceed,
			"errors", len(result.Errors))
	} else {
		result.Status = BatchStatusApplied
		result.Applied = result.WouldSucceed
		s.metrics.batchApplied.Add(ctx, int64(result.Applied))
		s.logger.Info("batch update applied",
			"model_id", req.ModelID, "property", req.Property, "user_id", identity.UserID,
			"applied", result.Applied)
	}
	return result, nil
}

// applyWorkflowBatch handles the workflow-state pseudo-property: every target
// object's current state must admit a legal transition to the requested one.
func (s *BatchService) applyWorkflowBatch(ctx context.Context, tx repository.Store, model *models.Model, req *BatchUpdateRequest, result *BatchUpdateResult) error {
	if model.WorkflowID == nil {
		return apperror.Validation("model %q has no workflow", model.ID)
	}
	toStateID, ok := req.Value.(string)
	if !ok || toStateID == "" {
		return apperror.Validation("workflow state updates require a state id value")
	}

	def, err := tx.GetWorkflow(ctx, *model.WorkflowID)
	if err != nil {
		return err
	}
	if def.StateByID(toStateID) == nil {
		return apperror.New(apperror.KindNotFound,
			"state %q does not exist in workflow %q", toStateID, def.ID)
	}
	result.Value = toStateID

	for _, objectID := range req.ObjectIDs {
		obj, err := tx.GetObject(ctx, objectID)
		if err != nil {
			if recordObjectError(result, objectID, req.Property, err) {
				continue
			}
			return err
		}
		if obj.ModelID != model.ID {
			recordObjectError(result, objectID, req.Property,
				apperror.Validation("object belongs to model %q, not %q", obj.ModelID, model.ID))
			continue
		}

		legal, err := s.engine.LegalTransition(def, obj.CurrentStateID, toStateID)
		if err != nil {
			// Unknown current state: the object references a state that
			// no longer exists in the workflow.
			if recordObjectError(result, objectID, req.Property, err) {
				continue
			}
			return err
		}
		if !legal {
			from := ""
			if obj.CurrentStateID != nil {
				from = *obj.CurrentStateID
			}
			recordObjectError(result, objectID, req.Property,
				apperror.IllegalTransition(objectID, from, toStateID))
			continue
		}

		if err := tx.SetObjectState(ctx, objectID, toStateID); err != nil {
			// Store failures are fatal to the whole batch.
			return err
		}
		result.WouldSucceed++
	}
	return nil
}

// applyPropertyBatch handles plain property updates: the value is coerced to
// the property's semantic type once, then unique properties are probed per
// object for a conflicting holder.
func (s *BatchService) applyPropertyBatch(ctx context.Context, tx repository.Store, model *models.Model, req *BatchUpdateRequest, result *BatchUpdateResult) error {
	props, err := tx.GetModelProperties(ctx, model.ID)
	if err != nil {
		return err
	}
	var prop *models.Property
	for i := range props {
		if props[i].Name == req.Property || props[i].ID == req.Property {
			prop = &props[i]
			break
		}
	}
	if prop == nil {
		return apperror.New(apperror.KindNotFound,
			"model %q has no property %q", model.ID, req.Property)
	}

	// A semantically invalid value (out of range, bad precision) yields one
	// itemized error per target rather than an up-front rejection, matching
	// the workflow-batch behavior.
	value, coerceErr := models.CoerceValue(prop, req.Value)
	if coerceErr == nil {
		result.Value = value
	}

	for _, objectID := range req.ObjectIDs {
		if coerceErr != nil {
			recordObjectError(result, objectID, prop.Name, coerceErr)
			continue
		}
		obj, err := tx.GetObject(ctx, objectID)
		if err != nil {
			if recordObjectError(result, objectID, prop.Name, err) {
				continue
			}
			return err
		}
		if obj.ModelID != model.ID {
			recordObjectError(result, objectID, prop.Name,
				apperror.Validation("object belongs to model %q, not %q", obj.ModelID, model.ID))
			continue
		}

		if prop.Unique && value != nil {
			holder, err := tx.FindObjectIDByAttribute(ctx, model.ID, prop.Name, value, objectID)
			if err != nil {
				return err
			}
			if holder != "" {
				e := apperror.New(apperror.KindConflict,
					"value already used by object %q", holder)
				e.ObjectID = objectID
				recordObjectError(result, objectID, prop.Name, e)
				continue
			}
		}

		if err := tx.SetObjectAttribute(ctx, objectID, prop.Name, value); err != nil {
			return err
		}
		result.WouldSucceed++
	}
	return nil
}

// recordObjectError appends a per-object error entry and reports whether the
// error was recordable. Store failures are not: they abort the batch.
func recordObjectError(result *BatchUpdateResult, objectID, property string, err error) bool {
	kind := apperror.KindOf(err)
	if kind == apperror.KindStoreFailure {
		return false
	}
	result.Errors = append(result.Errors, BatchObjectError{
		ObjectID: objectID,
		Property: property,
		Code:     kind.String(),
		Message:  err.Error(),
	})
	return true
}
