package repository

import (
	"context"

	"forma/backend/pkg/models"
)

// Store is the persistence interface the engines program against. Schema
// reads cover models, workflows and wizards; data objects and wizard runs are
// the only entities the core writes.
//
// InTx runs fn against a Store bound to a single database transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Calling
// InTx on a Store that is already transaction-bound joins the existing
// transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Schema reads. The core never mutates schema; the Create* methods
	// exist for the administrative surface, seeding and tests.
	GetModel(ctx context.Context, id string) (*models.Model, error)
	GetModelProperties(ctx context.Context, modelID string) ([]models.Property, error)
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetWizard(ctx context.Context, id string) (*models.WizardDefinition, error)

	CreateModel(ctx context.Context, m *models.Model) error
	CreateProperty(ctx context.Context, p *models.Property) error
	CreateWorkflow(ctx context.Context, w *models.WorkflowDefinition) error
	CreateWizard(ctx context.Context, w *models.WizardDefinition) error

	// Data objects. Soft-deleted objects are invisible to every read.
	GetObject(ctx context.Context, id string) (*models.DataObject, error)
	InsertObject(ctx context.Context, obj *models.DataObject) error
	SetObjectState(ctx context.Context, id, stateID string) error
	SetObjectAttribute(ctx context.Context, id, name string, value any) error
	// FindObjectIDByAttribute returns the id of an object of the model
	// (other than excludeID) whose named attribute equals value, or ""
	// when no such object exists. Used for uniqueness probes.
	FindObjectIDByAttribute(ctx context.Context, modelID, name string, value any, excludeID string) (string, error)

	// Wizard runs.
	CreateRun(ctx context.Context, run *models.WizardRun) error
	GetRun(ctx context.Context, id string) (*models.WizardRun, error)
	// GetRunForUpdate locks the run row for the duration of the enclosing
	// transaction so concurrent step submissions serialize.
	GetRunForUpdate(ctx context.Context, id string) (*models.WizardRun, error)
	UpdateRun(ctx context.Context, run *models.WizardRun) error
}
