package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forma/backend/internal/auth"
	"forma/backend/internal/logging"
	"forma/backend/internal/workflow"
	"forma/backend/pkg/apperror"
	"forma/backend/pkg/models"
)

var testIdentity = auth.Identity{UserID: "alice@example.com", Scopes: []string{auth.ScopeRead, auth.ScopeWrite}}

// seedOrderFixture loads an Order model with the New (initial) -> Paid ->
// Shipped workflow and a price property into the store.
func seedOrderFixture(t *testing.T, store *memStore) {
	t.Helper()
	ctx := context.Background()

	wf := &models.WorkflowDefinition{
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
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	wfID := "wf-order"
	require.NoError(t, store.CreateModel(ctx, &models.Model{ID: "m-order", Name: "Order", WorkflowID: &wfID}))

	minPrice, maxPrice := 0.0, 1000.0
	require.NoError(t, store.CreateProperty(ctx, &models.Property{
		ID: "p-price", ModelID: "m-order", Name: "price", Type: models.PropertyTypeNumber,
		MinValue: &minPrice, MaxValue: &maxPrice,
	}))
	require.NoError(t, store.CreateProperty(ctx, &models.Property{
		ID: "p-sku", ModelID: "m-order", Name: "sku", Type: models.PropertyTypeString, Unique: true,
	}))
}

func seedOrder(t *testing.T, store *memStore, id string, stateID *string, attrs map[string]any) {
	t.Helper()
	if attrs == nil {
		attrs = map[string]any{}
	}
	require.NoError(t, store.InsertObject(context.Background(), &models.DataObject{
		ID: id, ModelID: "m-order", Attributes: attrs, CurrentStateID: stateID,
		OwnerID: "alice@example.com", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
}

func newBatchService(store *memStore) *BatchService {
	logger := logging.NewNop()
	return NewBatchService(store, workflow.NewEngine(logger), logger)
}

func TestBatchWorkflowTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("null state only enters at the initial state", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		seedOrder(t, store, "o1", nil, nil)
		svc := newBatchService(store)

		// Paid is not initial: rejected.
		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1"},
			Property: models.WorkflowStateProperty, Value: "paid",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "illegal_transition", result.Errors[0].Code)

		obj, err := store.GetObject(ctx, "o1")
		require.NoError(t, err)
		assert.Nil(t, obj.CurrentStateID)

		// New is initial: accepted.
		result, err = svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1"},
			Property: models.WorkflowStateProperty, Value: "new",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusApplied, result.Status)
		assert.Equal(t, 1, result.Applied)

		obj, err = store.GetObject(ctx, "o1")
		require.NoError(t, err)
		require.NotNil(t, obj.CurrentStateID)
		assert.Equal(t, "new", *obj.CurrentStateID)

		// New -> Shipped skips a hop: rejected.
		result, err = svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1"},
			Property: models.WorkflowStateProperty, Value: "shipped",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)

		// New -> Paid follows the edge: accepted.
		result, err = svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1"},
			Property: models.WorkflowStateProperty, Value: "paid",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusApplied, result.Status)
	})

	t.Run("one illegal target discards the whole batch", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		newState := "new"
		seedOrder(t, store, "o1", &newState, nil)
		seedOrder(t, store, "o2", &newState, nil)
		paidState := "paid"
		seedOrder(t, store, "o3", &paidState, nil) // paid -> paid is illegal
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1", "o2", "o3"},
			Property: models.WorkflowStateProperty, Value: "paid",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)
		assert.Equal(t, 2, result.WouldSucceed)
		assert.Equal(t, 0, result.Applied)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "o3", result.Errors[0].ObjectID)

		// No partial writes: o1 and o2 keep their prior state.
		for _, id := range []string{"o1", "o2"} {
			obj, err := store.GetObject(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "new", *obj.CurrentStateID)
		}
	})

	t.Run("missing object and orphaned state are itemized", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		ghost := "deleted-state"
		seedOrder(t, store, "o1", &ghost, nil)
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1", "nope"},
			Property: models.WorkflowStateProperty, Value: "paid",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)
		assert.Len(t, result.Errors, 2)
	})

	t.Run("model without workflow rejects outright", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		require.NoError(t, store.CreateModel(ctx, &models.Model{ID: "m-plain", Name: "Plain"}))
		svc := newBatchService(store)

		_, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-plain", ObjectIDs: []string{"x"},
			Property: models.WorkflowStateProperty, Value: "paid",
		})
		require.Error(t, err)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})
}

func TestBatchPropertyUpdates(t *testing.T) {
	ctx := context.Background()

	t.Run("out of range value fails every target and applies nothing", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		seedOrder(t, store, "o1", nil, map[string]any{"price": 10.0})
		seedOrder(t, store, "o2", nil, map[string]any{"price": 20.0})
		seedOrder(t, store, "o3", nil, map[string]any{"price": 30.0})
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1", "o2", "o3"},
			Property: "price", Value: -5.0,
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)
		assert.Equal(t, 0, result.Applied)
		assert.Len(t, result.Errors, 3)

		obj, err := store.GetObject(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, 10.0, obj.Attributes["price"])
	})

	t.Run("valid batch applies to every target", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		seedOrder(t, store, "o1", nil, nil)
		seedOrder(t, store, "o2", nil, nil)
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1", "o2"},
			Property: "price", Value: 99.5,
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusApplied, result.Status)
		assert.Equal(t, 2, result.Applied)
		assert.Empty(t, result.Errors)

		for _, id := range []string{"o1", "o2"} {
			obj, err := store.GetObject(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 99.5, obj.Attributes["price"])
		}
	})

	t.Run("unique property conflicts with an existing holder", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		seedOrder(t, store, "o1", nil, map[string]any{"sku": "A-1"})
		seedOrder(t, store, "o2", nil, nil)
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o2"},
			Property: "sku", Value: "A-1",
		})
		require.NoError(t, err)
		assert.Equal(t, BatchStatusNothingApplied, result.Status)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "conflict", result.Errors[0].Code)
	})

	t.Run("unique property conflicts within the batch itself", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		seedOrder(t, store, "o1", nil, nil)
		seedOrder(t, store, "o2", nil, nil)
		svc := newBatchService(store)

		result, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1", "o2"},
			Property: "sku", Value: "B-2",
		})
		require.NoError(t, err)
		// The first target takes the value inside the transaction; the
		// second then conflicts with it, so the batch rolls back.
		assert.Equal(t, BatchStatusNothingApplied, result.Status)

		obj, err := store.GetObject(ctx, "o1")
		require.NoError(t, err)
		assert.NotContains(t, obj.Attributes, "sku")
	})

	t.Run("unknown property rejects outright", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		svc := newBatchService(store)

		_, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", ObjectIDs: []string{"o1"},
			Property: "nonexistent", Value: 1.0,
		})
		require.Error(t, err)
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	})

	t.Run("empty object list rejects outright", func(t *testing.T) {
		store := newMemStore()
		seedOrderFixture(t, store)
		svc := newBatchService(store)

		_, err := svc.Apply(ctx, testIdentity, &BatchUpdateRequest{
			ModelID: "m-order", Property: "price", Value: 1.0,
		})
		require.Error(t, err)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})
}
