package services

import (
	"context"
	"encoding/json"
	"time"

	"forma/backend/internal/repository"
	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

// memStore is an in-memory repository.Store for service tests. InTx snapshots
// the mutable sets and restores them when fn fails, mirroring the rollback
// semantics of the real store.
type memStore struct {
	modelsByID map[string]models.Model
	properties map[string][]models.Property
	workflows  map[string]models.WorkflowDefinition
	wizards    map[string]models.WizardDefinition
	objects    map[string]models.DataObject
	runs       map[string]models.WizardRun

	inTx bool
	// failInsert, when set, makes InsertObject fail after
	// insertsBeforeFailure more successful inserts.
	failInsert           error
	insertsBeforeFailure int
}

func newMemStore() *memStore {
	return &memStore{
		modelsByID: map[string]models.Model{},
		properties: map[string][]models.Property{},
		workflows:  map[string]models.WorkflowDefinition{},
		wizards:    map[string]models.WizardDefinition{},
		objects:    map[string]models.DataObject{},
		runs:       map[string]models.WizardRun{},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	objectsBackup := snapshotObjects(m.objects)
	runsBackup := snapshotRuns(m.runs)

	m.inTx = true
	err := fn(ctx, m)
	m.inTx = false

	if err != nil {
		m.objects = objectsBackup
		m.runs = runsBackup
	}
	return err
}

func snapshotObjects(in map[string]models.DataObject) map[string]models.DataObject {
	out := make(map[string]models.DataObject, len(in))
	for k, v := range in {
		attrs := make(map[string]any, len(v.Attributes))
		for ak, av := range v.Attributes {
			attrs[ak] = av
		}
		v.Attributes = attrs
		out[k] = v
	}
	return out
}

func snapshotRuns(in map[string]models.WizardRun) map[string]models.WizardRun {
	out := make(map[string]models.WizardRun, len(in))
	for k, v := range in {
		data := make(map[int]models.StepSubmission, len(v.StepData))
		for sk, sv := range v.StepData {
			data[sk] = sv
		}
		v.StepData = data
		out[k] = v
	}
	return out
}

func (m *memStore) GetModel(ctx context.Context, id string) (*models.Model, error) {
	mod, ok := m.modelsByID[id]
	if !ok {
		return nil, apperror.NotFound("model", id)
	}
	return &mod, nil
}

func (m *memStore) GetModelProperties(ctx context.Context, modelID string) ([]models.Property, error) {
	return append([]models.Property(nil), m.properties[modelID]...), nil
}

func (m *memStore) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	w, ok := m.workflows[id]
	if !ok {
		return nil, apperror.NotFound("workflow", id)
	}
	return &w, nil
}

func (m *memStore) GetWizard(ctx context.Context, id string) (*models.WizardDefinition, error) {
	w, ok := m.wizards[id]
	if !ok {
		return nil, apperror.NotFound("wizard", id)
	}
	return &w, nil
}

func (m *memStore) CreateModel(ctx context.Context, mod *models.Model) error {
	m.modelsByID[mod.ID] = *mod
	return nil
}

func (m *memStore) CreateProperty(ctx context.Context, p *models.Property) error {
	m.properties[p.ModelID] = append(m.properties[p.ModelID], *p)
	return nil
}

func (m *memStore) CreateWorkflow(ctx context.Context, w *models.WorkflowDefinition) error {
	m.workflows[w.ID] = *w
	return nil
}

func (m *memStore) CreateWizard(ctx context.Context, w *models.WizardDefinition) error {
	m.wizards[w.ID] = *w
	return nil
}

func (m *memStore) GetObject(ctx context.Context, id string) (*models.DataObject, error) {
	o, ok := m.objects[id]
	if !ok || o.IsDeleted {
		return nil, apperror.NotFound("object", id)
	}
	attrs := make(map[string]any, len(o.Attributes))
	for k, v := range o.Attributes {
		attrs[k] = v
	}
	o.Attributes = attrs
	return &o, nil
}

func (m *memStore) InsertObject(ctx context.Context, obj *models.DataObject) error {
	if m.failInsert != nil {
		if m.insertsBeforeFailure == 0 {
			return apperror.StoreFailure(m.failInsert)
		}
		m.insertsBeforeFailure--
	}
	m.objects[obj.ID] = *obj
	return nil
}

func (m *memStore) SetObjectState(ctx context.Context, id, stateID string) error {
	o, ok := m.objects[id]
	if !ok || o.IsDeleted {
		return apperror.NotFound("object", id)
	}
	o.CurrentStateID = &stateID
	o.UpdatedAt = time.Now().UTC()
	m.objects[id] = o
	return nil
}

func (m *memStore) SetObjectAttribute(ctx context.Context, id, name string, value any) error {
	o, ok := m.objects[id]
	if !ok || o.IsDeleted {
		return apperror.NotFound("object", id)
	}
	attrs := make(map[string]any, len(o.Attributes)+1)
	for k, v := range o.Attributes {
		attrs[k] = v
	}
	attrs[name] = value
	o.Attributes = attrs
	o.UpdatedAt = time.Now().UTC()
	m.objects[id] = o
	return nil
}

func (m *memStore) FindObjectIDByAttribute(ctx context.Context, modelID, name string, value any, excludeID string) (string, error) {
	want, _ := json.Marshal(value)
	for id, o := range m.objects {
		if o.ModelID != modelID || o.IsDeleted || id == excludeID {
			continue
		}
		got, _ := json.Marshal(o.Attributes[name])
		if string(got) == string(want) {
			return id, nil
		}
	}
	return "", nil
}

func (m *memStore) CreateRun(ctx context.Context, run *models.WizardRun) error {
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id string) (*models.WizardRun, error) {
	r, ok := m.runs[id]
	if !ok {
		return nil, apperror.NotFound("wizard run", id)
	}
	data := make(map[int]models.StepSubmission, len(r.StepData))
	for k, v := range r.StepData {
		data[k] = v
	}
	r.StepData = data
	return &r, nil
}

func (m *memStore) GetRunForUpdate(ctx context.Context, id string) (*models.WizardRun, error) {
	return m.GetRun(ctx, id)
}

func (m *memStore) UpdateRun(ctx context.Context, run *models.WizardRun) error {
	if _, ok := m.runs[run.ID]; !ok {
		return apperror.NotFound("wizard run", run.ID)
	}
	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID] = *run
	return nil
}
