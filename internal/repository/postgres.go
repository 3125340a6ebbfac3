package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

// Logger is the narrow logging interface the store needs.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same methods
// serve pooled and transactional execution.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the PostgreSQL implementation of the Store interface.
type Postgres struct {
	pool   *pgxpool.Pool
	q      querier
	inTx   bool
	logger Logger
}

// NewPostgres creates a Postgres store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool, logger Logger) *Postgres {
	return &Postgres{pool: pool, q: pool, logger: logger}
}

// InTx runs fn inside a single transaction. A Store already bound to a
// transaction joins it instead of opening a nested one.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if p.inTx {
		return fn(ctx, p)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return apperror.StoreFailure(err)
	}

	bound := &Postgres{pool: p.pool, q: tx, inTx: true, logger: p.logger}
	if err := fn(ctx, bound); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.StoreFailure(err)
	}
	return nil
}

// --- schema reads ---

// GetModel retrieves a model by id.
func (p *Postgres) GetModel(ctx context.Context, id string) (*models.Model, error) {
	var m models.Model
	err := p.q.QueryRow(ctx,
		`SELECT id, name, description, workflow_id, created_at, updated_at
		 FROM data_models WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Description, &m.WorkflowID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "model", id)
	}
	return &m, nil
}

// GetModelProperties retrieves the property definitions of a model.
func (p *Postgres) GetModelProperties(ctx context.Context, modelID string) ([]models.Property, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, model_id, name, type, required, is_unique,
		        min_value, max_value, precision, reference_model_id,
		        created_at, updated_at
		 FROM properties WHERE model_id = $1 ORDER BY name`, modelID)
	if err != nil {
		return nil, apperror.StoreFailure(err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var prop models.Property
		if err := rows.Scan(&prop.ID, &prop.ModelID, &prop.Name, &prop.Type,
			&prop.Required, &prop.Unique, &prop.MinValue, &prop.MaxValue,
			&prop.Precision, &prop.ReferenceModelID, &prop.CreatedAt, &prop.UpdatedAt); err != nil {
			return nil, apperror.StoreFailure(err)
		}
		props = append(props, prop)
	}
	return props, rows.Err()
}

// GetWorkflow retrieves a workflow definition with its states and transitions.
func (p *Postgres) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	var w models.WorkflowDefinition
	err := p.q.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at
		 FROM workflows WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.Description, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workflow", id)
	}

	rows, err := p.q.Query(ctx,
		`SELECT id, workflow_id, name, is_initial, order_index
		 FROM workflow_states WHERE workflow_id = $1 ORDER BY order_index`, id)
	if err != nil {
		return nil, apperror.StoreFailure(err)
	}
	defer rows.Close()
	for rows.Next() {
		var s models.WorkflowState
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.IsInitial, &s.OrderIndex); err != nil {
			return nil, apperror.StoreFailure(err)
		}
		w.States = append(w.States, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StoreFailure(err)
	}

	trows, err := p.q.Query(ctx,
		`SELECT workflow_id, from_state_id, to_state_id
		 FROM workflow_transitions WHERE workflow_id = $1`, id)
	if err != nil {
		return nil, apperror.StoreFailure(err)
	}
	defer trows.Close()
	for trows.Next() {
		var t models.Transition
		if err := trows.Scan(&t.WorkflowID, &t.FromStateID, &t.ToStateID); err != nil {
			return nil, apperror.StoreFailure(err)
		}
		w.Transitions = append(w.Transitions, t)
	}
	return &w, trows.Err()
}

// GetWizard retrieves a wizard definition with its steps and mappings.
func (p *Postgres) GetWizard(ctx context.Context, id string) (*models.WizardDefinition, error) {
	var w models.WizardDefinition
	err := p.q.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM wizards WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "wizard", id)
	}

	rows, err := p.q.Query(ctx,
		`SELECT id, wizard_id, order_index, model_id, property_ids
		 FROM wizard_steps WHERE wizard_id = $1 ORDER BY order_index`, id)
	if err != nil {
		return nil, apperror.StoreFailure(err)
	}
	defer rows.Close()
	for rows.Next() {
		var s models.WizardStep
		var propertyIDs []byte
		if err := rows.Scan(&s.ID, &s.WizardID, &s.OrderIndex, &s.ModelID, &propertyIDs); err != nil {
			return nil, apperror.StoreFailure(err)
		}
		if err := json.Unmarshal(propertyIDs, &s.PropertyIDs); err != nil {
			return nil, apperror.StoreFailure(err)
		}
		w.Steps = append(w.Steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StoreFailure(err)
	}

	for i := range w.Steps {
		mrows, err := p.q.Query(ctx,
			`SELECT source_step_index, source_property, target_property
			 FROM property_mappings WHERE step_id = $1`, w.Steps[i].ID)
		if err != nil {
			return nil, apperror.StoreFailure(err)
		}
		for mrows.Next() {
			var m models.PropertyMapping
			if err := mrows.Scan(&m.SourceStepIndex, &m.SourceProperty, &m.TargetProperty); err != nil {
				mrows.Close()
				return nil, apperror.StoreFailure(err)
			}
			w.Steps[i].Mappings = append(w.Steps[i].Mappings, m)
		}
		mrows.Close()
		if err := mrows.Err(); err != nil {
			return nil, apperror.StoreFailure(err)
		}
	}
	return &w, nil
}

// --- schema writes (administrative surface, seeding, tests) ---

// CreateModel inserts a model.
func (p *Postgres) CreateModel(ctx context.Context, m *models.Model) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO data_models (id, name, description, workflow_id) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Name, m.Description, m.WorkflowID)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	return nil
}

// CreateProperty inserts a property definition.
func (p *Postgres) CreateProperty(ctx context.Context, prop *models.Property) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO properties
		 (id, model_id, name, type, required, is_unique, min_value, max_value, precision, reference_model_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		prop.ID, prop.ModelID, prop.Name, prop.Type, prop.Required, prop.Unique,
		prop.MinValue, prop.MaxValue, prop.Precision, prop.ReferenceModelID)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	return nil
}

// CreateWorkflow inserts a workflow definition with its states and transitions.
func (p *Postgres) CreateWorkflow(ctx context.Context, w *models.WorkflowDefinition) error {
	return p.InTx(ctx, func(ctx context.Context, tx Store) error {
		t := tx.(*Postgres)
		if _, err := t.q.Exec(ctx,
			`INSERT INTO workflows (id, name, description) VALUES ($1, $2, $3)`,
			w.ID, w.Name, w.Description); err != nil {
			return apperror.StoreFailure(err)
		}
		for _, s := range w.States {
			if _, err := t.q.Exec(ctx,
				`INSERT INTO workflow_states (id, workflow_id, name, is_initial, order_index)
				 VALUES ($1, $2, $3, $4, $5)`,
				s.ID, w.ID, s.Name, s.IsInitial, s.OrderIndex); err != nil {
				return apperror.StoreFailure(err)
			}
		}
		for _, tr := range w.Transitions {
			if _, err := t.q.Exec(ctx,
				`INSERT INTO workflow_transitions (workflow_id, from_state_id, to_state_id)
				 VALUES ($1, $2, $3)`,
				w.ID, tr.FromStateID, tr.ToStateID); err != nil {
				return apperror.StoreFailure(err)
			}
		}
		return nil
	})
}

// CreateWizard inserts a wizard definition with its steps and mappings.
func (p *Postgres) CreateWizard(ctx context.Context, w *models.WizardDefinition) error {
	return p.InTx(ctx, func(ctx context.Context, tx Store) error {
		t := tx.(*Postgres)
		if _, err := t.q.Exec(ctx,
			`INSERT INTO wizards (id, name) VALUES ($1, $2)`, w.ID, w.Name); err != nil {
			return apperror.StoreFailure(err)
		}
		for _, s := range w.Steps {
			propertyIDs, err := json.Marshal(s.PropertyIDs)
			if err != nil {
				return apperror.StoreFailure(err)
			}
			if _, err := t.q.Exec(ctx,
				`INSERT INTO wizard_steps (id, wizard_id, order_index, model_id, property_ids)
				 VALUES ($1, $2, $3, $4, $5)`,
				s.ID, w.ID, s.OrderIndex, s.ModelID, propertyIDs); err != nil {
				return apperror.StoreFailure(err)
			}
			for _, m := range s.Mappings {
				if _, err := t.q.Exec(ctx,
					`INSERT INTO property_mappings (step_id, source_step_index, source_property, target_property)
					 VALUES ($1, $2, $3, $4)`,
					s.ID, m.SourceStepIndex, m.SourceProperty, m.TargetProperty); err != nil {
					return apperror.StoreFailure(err)
				}
			}
		}
		return nil
	})
}

// --- data objects ---

// GetObject retrieves a data object by id. Soft-deleted objects are treated
// as not found.
func (p *Postgres) GetObject(ctx context.Context, id string) (*models.DataObject, error) {
	var o models.DataObject
	var attrs []byte
	err := p.q.QueryRow(ctx,
		`SELECT id, model_id, attributes, current_state_id, owner_id,
		        is_deleted, deleted_at, created_at, updated_at
		 FROM data_objects WHERE id = $1 AND NOT is_deleted`, id).
		Scan(&o.ID, &o.ModelID, &attrs, &o.CurrentStateID, &o.OwnerID,
			&o.IsDeleted, &o.DeletedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "object", id)
	}
	if err := json.Unmarshal(attrs, &o.Attributes); err != nil {
		return nil, apperror.StoreFailure(err)
	}
	return &o, nil
}

// InsertObject persists a new data object.
func (p *Postgres) InsertObject(ctx context.Context, obj *models.DataObject) error {
	attrs, err := json.Marshal(obj.Attributes)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO data_objects
		 (id, model_id, attributes, current_state_id, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		obj.ID, obj.ModelID, attrs, obj.CurrentStateID, obj.OwnerID, obj.CreatedAt, obj.UpdatedAt)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	return nil
}

// SetObjectState updates an object's workflow state.
func (p *Postgres) SetObjectState(ctx context.Context, id, stateID string) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE data_objects SET current_state_id = $2, updated_at = $3
		 WHERE id = $1 AND NOT is_deleted`, id, stateID, time.Now().UTC())
	if err != nil {
		return apperror.StoreFailure(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("object", id)
	}
	return nil
}

// SetObjectAttribute updates a single attribute of an object in place.
func (p *Postgres) SetObjectAttribute(ctx context.Context, id, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE data_objects
		 SET attributes = jsonb_set(attributes, ARRAY[$2::text], $3::jsonb, true),
		     updated_at = $4
		 WHERE id = $1 AND NOT is_deleted`, id, name, encoded, time.Now().UTC())
	if err != nil {
		return apperror.StoreFailure(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("object", id)
	}
	return nil
}

// FindObjectIDByAttribute returns the id of another object of the model whose
// named attribute equals value, or "" when none exists.
func (p *Postgres) FindObjectIDByAttribute(ctx context.Context, modelID, name string, value any, excludeID string) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", apperror.StoreFailure(err)
	}
	var id string
	err = p.q.QueryRow(ctx,
		`SELECT id FROM data_objects
		 WHERE model_id = $1 AND attributes -> $2 = $3::jsonb
		   AND id <> $4 AND NOT is_deleted
		 LIMIT 1`, modelID, name, encoded, excludeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperror.StoreFailure(err)
	}
	return id, nil
}

// --- wizard runs ---

const runColumns = `id, wizard_id, user_id, status, current_step_index, step_data, created_at, updated_at`

// CreateRun persists a new wizard run.
func (p *Postgres) CreateRun(ctx context.Context, run *models.WizardRun) error {
	stepData, err := json.Marshal(run.StepData)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO wizard_runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.WizardID, run.UserID, run.Status, run.CurrentStepIndex,
		stepData, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	return nil
}

// GetRun retrieves a wizard run by id.
func (p *Postgres) GetRun(ctx context.Context, id string) (*models.WizardRun, error) {
	return p.getRun(ctx, id, "")
}

// GetRunForUpdate retrieves a wizard run and locks its row until the
// enclosing transaction ends.
func (p *Postgres) GetRunForUpdate(ctx context.Context, id string) (*models.WizardRun, error) {
	if !p.inTx {
		return nil, apperror.StoreFailure(fmt.Errorf("GetRunForUpdate outside a transaction"))
	}
	return p.getRun(ctx, id, " FOR UPDATE")
}

func (p *Postgres) getRun(ctx context.Context, id, suffix string) (*models.WizardRun, error) {
	var run models.WizardRun
	var stepData []byte
	err := p.q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM wizard_runs WHERE id = $1`+suffix, id).
		Scan(&run.ID, &run.WizardID, &run.UserID, &run.Status, &run.CurrentStepIndex,
			&stepData, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "wizard run", id)
	}
	if err := json.Unmarshal(stepData, &run.StepData); err != nil {
		return nil, apperror.StoreFailure(err)
	}
	return &run, nil
}

// UpdateRun persists the run's status, step index and step data.
func (p *Postgres) UpdateRun(ctx context.Context, run *models.WizardRun) error {
	stepData, err := json.Marshal(run.StepData)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	run.UpdatedAt = time.Now().UTC()
	tag, err := p.q.Exec(ctx,
		`UPDATE wizard_runs
		 SET status = $2, current_step_index = $3, step_data = $4, updated_at = $5
		 WHERE id = $1`,
		run.ID, run.Status, run.CurrentStepIndex, stepData, run.UpdatedAt)
	if err != nil {
		return apperror.StoreFailure(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("wizard run", run.ID)
	}
	return nil
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(entity, id)
	}
	return apperror.StoreFailure(err)
}
