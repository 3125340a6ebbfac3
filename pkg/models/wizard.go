package models

import (
	"time"
)

// StepType distinguishes how a wizard step was exercised in a particular run.
// The same step definition may be submitted as either kind.
type StepType string

const (
	// StepTypeCreate submits raw form values for a new object.
	StepTypeCreate StepType = "create"
	// StepTypeLookup references an existing object instead of creating one.
	StepTypeLookup StepType = "lookup"
)

// ObjectIDSource is the reserved mapping source meaning "the source step's
// result object id" rather than one of its properties.
const ObjectIDSource = "__object_id"

// RunStatus represents the lifecycle state of a wizard run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusAbandoned  RunStatus = "ABANDONED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAbandoned
}

// WizardDefinition represents a guided multi-entity creation flow: an ordered
// list of steps, each bound to a Model.
type WizardDefinition struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Steps     []WizardStep `json:"steps"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// WizardStep is one step of a wizard definition.
type WizardStep struct {
	ID         string            `json:"id" db:"id"`
	WizardID   string            `json:"wizard_id" db:"wizard_id"`
	OrderIndex int               `json:"order_index" db:"order_index"`
	ModelID    string            `json:"model_id" db:"model_id"`
	// PropertyIDs lists which of the step Model's properties the client
	// collects for this step.
	PropertyIDs []string          `json:"property_ids"`
	Mappings    []PropertyMapping `json:"mappings"`
}

// PropertyMapping copies a value produced by an earlier step into a property
// of the current step's object before it is persisted. SourceProperty may be
// ObjectIDSource to copy the earlier step's result object id.
type PropertyMapping struct {
	SourceStepIndex int    `json:"source_step_index" db:"source_step_index"`
	SourceProperty  string `json:"source_property" db:"source_property"`
	TargetProperty  string `json:"target_property" db:"target_property"`
}

// StepSubmission is the recorded client input for one step of a run. For a
// create step FormData holds the raw field values; for a lookup step ObjectID
// names the existing object. After the final commit resolves lookups, a
// lookup submission's FormData also carries the looked-up object's attributes.
type StepSubmission struct {
	StepType StepType       `json:"step_type"`
	FormData map[string]any `json:"form_data,omitempty"`
	ObjectID string         `json:"object_id,omitempty"`
}

// WizardRun is the persisted progress record of one user walking a wizard.
// CurrentStepIndex is the index of the last accepted step, starting at -1.
// The whole run is one aggregate: StepData evolves in place and the run row
// is the single transaction boundary for step submission.
type WizardRun struct {
	ID               string                 `json:"id" db:"id"`
	WizardID         string                 `json:"wizard_id" db:"wizard_id"`
	UserID           string                 `json:"user_id" db:"user_id"`
	Status           RunStatus              `json:"status" db:"status"`
	CurrentStepIndex int                    `json:"current_step_index" db:"current_step_index"`
	StepData         map[int]StepSubmission `json:"step_data"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
}
