package repository

import (
	"context"
)

// Ids are opaque TEXT: runtime-generated rows carry UUIDs, while authored
// definitions (seeds, imports) may use readable slugs.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_states (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	is_initial  BOOLEAN NOT NULL DEFAULT false,
	order_index INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workflow_transitions (
	workflow_id   TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	from_state_id TEXT NOT NULL REFERENCES workflow_states(id) ON DELETE CASCADE,
	to_state_id   TEXT NOT NULL REFERENCES workflow_states(id) ON DELETE CASCADE,
	PRIMARY KEY (from_state_id, to_state_id)
);

CREATE TABLE IF NOT EXISTS data_models (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT,
	workflow_id TEXT REFERENCES workflows(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS properties (
	id                 TEXT PRIMARY KEY,
	model_id           TEXT NOT NULL REFERENCES data_models(id) ON DELETE CASCADE,
	name               TEXT NOT NULL,
	type               TEXT NOT NULL,
	required           BOOLEAN NOT NULL DEFAULT false,
	is_unique          BOOLEAN NOT NULL DEFAULT false,
	min_value          DOUBLE PRECISION,
	max_value          DOUBLE PRECISION,
	precision          INT,
	reference_model_id TEXT REFERENCES data_models(id),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (model_id, name)
);

CREATE TABLE IF NOT EXISTS data_objects (
	id               TEXT PRIMARY KEY,
	model_id         TEXT NOT NULL REFERENCES data_models(id),
	attributes       JSONB NOT NULL DEFAULT '{}'::jsonb,
	current_state_id TEXT REFERENCES workflow_states(id),
	owner_id         TEXT NOT NULL,
	is_deleted       BOOLEAN NOT NULL DEFAULT false,
	deleted_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_data_objects_model
	ON data_objects (model_id) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_data_objects_attributes
	ON data_objects USING gin (attributes);

CREATE TABLE IF NOT EXISTS wizards (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wizard_steps (
	id           TEXT PRIMARY KEY,
	wizard_id    TEXT NOT NULL REFERENCES wizards(id) ON DELETE CASCADE,
	order_index  INT NOT NULL,
	model_id     TEXT NOT NULL REFERENCES data_models(id),
	property_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	UNIQUE (wizard_id, order_index)
);

CREATE TABLE IF NOT EXISTS property_mappings (
	step_id           TEXT NOT NULL REFERENCES wizard_steps(id) ON DELETE CASCADE,
	source_step_index INT NOT NULL,
	source_property   TEXT NOT NULL,
	target_property   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wizard_runs (
	id                 TEXT PRIMARY KEY,
	wizard_id          TEXT NOT NULL REFERENCES wizards(id),
	user_id            TEXT NOT NULL,
	status             TEXT NOT NULL,
	current_step_index INT NOT NULL,
	step_data          JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wizard_runs_user ON wizard_runs (user_id, status);
`

// Migrate applies the schema DDL. Statements are idempotent so Migrate is
// safe to run on every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.q.Exec(ctx, schemaDDL)
	return err
}
