package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

type warnRecorder struct {
	warnings []string
}

func (w *warnRecorder) Warn(msg string, args ...any) {
	w.warnings = append(w.warnings, msg)
}

// orderWorkflow builds New (initial) -> Paid -> Shipped.
func orderWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "wf-order",
		States: []models.WorkflowState{
			{ID: "new", WorkflowID: "wf-order", Name: "New", IsInitial: true, OrderIndex: 0},
			{ID: "paid", WorkflowID: "wf-order", Name: "Paid", OrderIndex: 1},
			{ID: "shipped", WorkflowID: "wf-order", Name: "Shipped", OrderIndex: 2},
		},
		Transitions: []models.Transition{
			{WorkflowID: "wf-order", FromStateID: "new", ToStateID: "paid"},
			{WorkflowID: "wf-order", FromStateID: "paid", ToStateID: "shipped"},
		},
	}
}

func TestInitialStateFor(t *testing.T) {
	engine := NewEngine(&warnRecorder{})

	t.Run("single initial state", func(t *testing.T) {
		initial := engine.InitialStateFor(orderWorkflow())
		require.NotNil(t, initial)
		assert.Equal(t, "new", initial.ID)
	})

	t.Run("no initial state", func(t *testing.T) {
		def := orderWorkflow()
		def.States[0].IsInitial = false
		assert.Nil(t, engine.InitialStateFor(def))
	})

	t.Run("multiple initial states picks lowest order index and warns", func(t *testing.T) {
		rec := &warnRecorder{}
		engine := NewEngine(rec)

		def := orderWorkflow()
		def.States[2].IsInitial = true
		def.States[2].OrderIndex = -1

		initial := engine.InitialStateFor(def)
		require.NotNil(t, initial)
		assert.Equal(t, "shipped", initial.ID)
		assert.Len(t, rec.warnings, 1)
	})
}

func TestLegalTransition(t *testing.T) {
	engine := NewEngine(&warnRecorder{})
	def := orderWorkflow()

	from := func(id string) *string { return &id }

	tests := []struct {
		name  string
		from  *string
		to    string
		legal bool
	}{
		{"null to initial", nil, "new", true},
		{"null to non-initial", nil, "paid", false},
		{"direct successor", from("new"), "paid", true},
		{"two hops is illegal", from("new"), "shipped", false},
		{"second edge", from("paid"), "shipped", true},
		{"backward edge is illegal", from("paid"), "new", false},
		{"terminal state has no successors", from("shipped"), "paid", false},
		{"self loop not declared", from("new"), "new", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			legal, err := engine.LegalTransition(def, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.legal, legal)
		})
	}

	t.Run("unknown target state", func(t *testing.T) {
		_, err := engine.LegalTransition(def, nil, "bogus")
		require.Error(t, err)
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	})

	t.Run("unknown current state", func(t *testing.T) {
		_, err := engine.LegalTransition(def, from("vanished"), "paid")
		require.Error(t, err)
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	})
}

func TestSuccessors(t *testing.T) {
	engine := NewEngine(&warnRecorder{})
	def := orderWorkflow()

	assert.Equal(t, []string{"paid"}, engine.Successors(def, "new"))
	assert.Empty(t, engine.Successors(def, "shipped"))
}
