// Package workflow implements the pure validation and lookup logic over
// workflow definitions. The engine never touches the store: callers load a
// definition and ask questions about it.
package workflow

import (
	"sort"

	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

// Logger is the narrow logging interface the engine needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Engine answers transition-legality and initial-state questions about
// workflow definitions.
type Engine struct {
	logger Logger
}

// NewEngine creates an Engine.
func NewEngine(logger Logger) *Engine {
	return &Engine{logger: logger}
}

// InitialStateFor returns the workflow's initial state, or nil when the
// definition flags none. A definition with more than one initial state is an
// ambiguous configuration: the engine picks the one with the lowest order
// index so the choice is deterministic, and logs a warning.
func (e *Engine) InitialStateFor(def *models.WorkflowDefinition) *models.WorkflowState {
	var initial []models.WorkflowState
	for _, s := range def.States {
		if s.IsInitial {
			initial = append(initial, s)
		}
	}
	if len(initial) == 0 {
		return nil
	}
	if len(initial) > 1 {
		sort.Slice(initial, func(i, j int) bool {
			return initial[i].OrderIndex < initial[j].OrderIndex
		})
		e.logger.Warn("workflow has multiple initial states, using lowest order index",
			"workflow_id", def.ID, "chosen_state", initial[0].ID, "initial_count", len(initial))
	}
	s := initial[0]
	return &s
}

// Successors returns the ids of states reachable from stateID in one hop.
// An empty result means the state is terminal.
func (e *Engine) Successors(def *models.WorkflowDefinition, stateID string) []string {
	var out []string
	for _, t := range def.Transitions {
		if t.FromStateID == stateID {
			out = append(out, t.ToStateID)
		}
	}
	return out
}

// LegalTransition reports whether moving an object from the given state to
// toStateID follows a legal edge of the definition. A nil from means the
// object has not entered the workflow yet; the only legal target is then the
// workflow's initial state. Unknown state ids yield a NotFound-kind error.
func (e *Engine) LegalTransition(def *models.WorkflowDefinition, from *string, toStateID string) (bool, error) {
	if def.StateByID(toStateID) == nil {
		return false, apperror.New(apperror.KindNotFound,
			"state %q does not exist in workflow %q", toStateID, def.ID)
	}

	if from == nil {
		initial := e.InitialStateFor(def)
		return initial != nil && initial.ID == toStateID, nil
	}

	if def.StateByID(*from) == nil {
		return false, apperror.New(apperror.KindNotFound,
			"state %q does not exist in workflow %q", *from, def.ID)
	}

	for _, succ := range e.Successors(def, *from) {
		if succ == toStateID {
			return true, nil
		}
	}
	return false, nil
}
