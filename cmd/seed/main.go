// Command seed migrates the schema and loads a small demo configuration:
// an order workflow, Customer/Order models and a two-step wizard that maps
// the created customer's id into the order.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"forma/backend/internal/config"
	"forma/backend/internal/logging"
	"forma/backend/internal/repository"
	"forma/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgres(pool, logger)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	logger.Info("schema migrated")

	// Order workflow: New (initial) -> Paid -> Shipped.
	stateNew := models.WorkflowState{ID: uuid.New().String(), Name: "New", IsInitial: true, OrderIndex: 0}
	statePaid := models.WorkflowState{ID: uuid.New().String(), Name: "Paid", OrderIndex: 1}
	stateShipped := models.WorkflowState{ID: uuid.New().String(), Name: "Shipped", OrderIndex: 2}

	wf := &models.WorkflowDefinition{
		ID:   uuid.New().String(),
		Name: "Order Fulfilment",
		States: []models.WorkflowState{stateNew, statePaid, stateShipped},
		Transitions: []models.Transition{
			{FromStateID: stateNew.ID, ToStateID: statePaid.ID},
			{FromStateID: statePaid.ID, ToStateID: stateShipped.ID},
		},
	}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		log.Fatalf("Failed to create workflow: %v", err)
	}
	logger.Info("workflow created", "id", wf.ID)

	customerModel := &models.Model{ID: uuid.New().String(), Name: "Customer"}
	if err := store.CreateModel(ctx, customerModel); err != nil {
		log.Fatalf("Failed to create Customer model: %v", err)
	}
	orderModel := &models.Model{ID: uuid.New().String(), Name: "Order", WorkflowID: &wf.ID}
	if err := store.CreateModel(ctx, orderModel); err != nil {
		log.Fatalf("Failed to create Order model: %v", err)
	}

	minPrice, maxPrice := 0.0, 1000.0
	properties := []*models.Property{
		{ID: uuid.New().String(), ModelID: customerModel.ID, Name: "name", Type: models.PropertyTypeString, Required: true},
		{ID: uuid.New().String(), ModelID: customerModel.ID, Name: "email", Type: models.PropertyTypeString, Unique: true},
		{ID: uuid.New().String(), ModelID: orderModel.ID, Name: "total", Type: models.PropertyTypeNumber, MinValue: &minPrice, MaxValue: &maxPrice},
		{ID: uuid.New().String(), ModelID: orderModel.ID, Name: "customer_id", Type: models.PropertyTypeReference, ReferenceModelID: &customerModel.ID},
		{ID: uuid.New().String(), ModelID: orderModel.ID, Name: "rating", Type: models.PropertyTypeRating},
	}
	for _, p := range properties {
		if err := store.CreateProperty(ctx, p); err != nil {
			log.Fatalf("Failed to create property %s: %v", p.Name, err)
		}
	}
	logger.Info("models created",
		"customer_model_id", customerModel.ID, "order_model_id", orderModel.ID)

	wizard := &models.WizardDefinition{
		ID:   uuid.New().String(),
		Name: "New Customer Order",
		Steps: []models.WizardStep{
			{
				ID:          uuid.New().String(),
				OrderIndex:  0,
				ModelID:     customerModel.ID,
				PropertyIDs: []string{properties[0].ID, properties[1].ID},
			},
			{
				ID:          uuid.New().String(),
				OrderIndex:  1,
				ModelID:     orderModel.ID,
				PropertyIDs: []string{properties[2].ID},
				Mappings: []models.PropertyMapping{
					{SourceStepIndex: 0, SourceProperty: models.ObjectIDSource, TargetProperty: "customer_id"},
				},
			},
		},
	}
	if err := store.CreateWizard(ctx, wizard); err != nil {
		log.Fatalf("Failed to create wizard: %v", err)
	}
	logger.Info("wizard created", "id", wizard.ID)

	logger.Info("seed complete")
}
