package models

import (
	"time"
)

// WorkflowDefinition represents a business-process definition attached to a
// Model: a set of named states plus the directed edges between them. The
// definition is authored externally; the core only reads it.
type WorkflowDefinition struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description *string         `json:"description,omitempty" db:"description"`
	States      []WorkflowState `json:"states"`
	Transitions []Transition    `json:"transitions"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// WorkflowState is one node of a workflow. A state with no outgoing
// transitions is terminal.
type WorkflowState struct {
	ID         string `json:"id" db:"id"`
	WorkflowID string `json:"workflow_id" db:"workflow_id"`
	Name       string `json:"name" db:"name"`
	IsInitial  bool   `json:"is_initial" db:"is_initial"`
	OrderIndex int    `json:"order_index" db:"order_index"`
}

// Transition is a directed edge between two states of the same workflow.
type Transition struct {
	WorkflowID  string `json:"workflow_id" db:"workflow_id"`
	FromStateID string `json:"from_state_id" db:"from_state_id"`
	ToStateID   string `json:"to_state_id" db:"to_state_id"`
}

// StateByID returns the state with the given id, or nil.
func (w *WorkflowDefinition) StateByID(id string) *WorkflowState {
	for i := range w.States {
		if w.States[i].ID == id {
			return &w.States[i]
		}
	}
	return nil
}
