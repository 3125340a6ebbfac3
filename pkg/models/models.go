// Package models defines the domain models for the forma core engine.
package models

import (
	"time"
)

// PropertyType represents the semantic type of a model property.
type PropertyType string

const (
	PropertyTypeString    PropertyType = "string"
	PropertyTypeNumber    PropertyType = "number"
	PropertyTypeBoolean   PropertyType = "boolean"
	PropertyTypeDate      PropertyType = "date"
	PropertyTypeRating    PropertyType = "rating"
	PropertyTypeReference PropertyType = "reference"
)

// WorkflowStateProperty is the pseudo-property name a batch update uses to
// target an object's workflow state instead of a schema property.
const WorkflowStateProperty = "__workflow_state"

// Model represents a user-defined schema. Models are authored through the
// administrative surface; the core reads them but never mutates them.
type Model struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	WorkflowID  *string   `json:"workflow_id,omitempty" db:"workflow_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Property represents a typed property of a Model.
type Property struct {
	ID       string       `json:"id" db:"id"`
	ModelID  string       `json:"model_id" db:"model_id"`
	Name     string       `json:"name" db:"name"`
	Type     PropertyType `json:"type" db:"type"`
	Required bool         `json:"required" db:"required"`
	Unique   bool         `json:"unique" db:"is_unique"`

	// Numeric constraints, only meaningful for PropertyTypeNumber.
	MinValue  *float64 `json:"min_value,omitempty" db:"min_value"`
	MaxValue  *float64 `json:"max_value,omitempty" db:"max_value"`
	Precision *int     `json:"precision,omitempty" db:"precision"`

	// Target model for PropertyTypeReference.
	ReferenceModelID *string `json:"reference_model_id,omitempty" db:"reference_model_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DataObject represents an instance of a Model. Attributes are an open map
// whose shape is governed by the Model's property list; the core validates
// values only at the mutation edges.
type DataObject struct {
	ID             string         `json:"id" db:"id"`
	ModelID        string         `json:"model_id" db:"model_id"`
	Attributes     map[string]any `json:"attributes" db:"attributes"`
	CurrentStateID *string        `json:"current_state_id,omitempty" db:"current_state_id"`
	OwnerID        string         `json:"owner_id" db:"owner_id"`
	IsDeleted      bool           `json:"-" db:"is_deleted"`
	DeletedAt      *time.Time     `json:"-" db:"deleted_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
