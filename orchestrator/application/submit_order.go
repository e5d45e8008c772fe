package application

import (
	"context"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// SubmitOrderCommand represents an order submission from the API boundary
type SubmitOrderCommand struct {
	OrderID models.ID    `json:"order_id"`
	Amount  models.Money `json:"amount"`
}

// SubmitOrderResponse is returned to the API caller
type SubmitOrderResponse struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
}

// SubmitOrder translates an order submission into the order.submitted event.
// The orchestrator picks the event up from the bus like any other; the HTTP
// layer never touches the saga store.
type SubmitOrder struct {
	eventPublisher events.Publisher
}

// NewSubmitOrder creates a new SubmitOrder use case
func NewSubmitOrder(eventPublisher events.Publisher) *SubmitOrder {
	return &SubmitOrder{eventPublisher: eventPublisher}
}

// Execute validates the submission and publishes order.submitted.
func (uc *SubmitOrder) Execute(ctx context.Context, cmd *SubmitOrderCommand) (*SubmitOrderResponse, error) {
	if !cmd.Amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if cmd.Amount.Currency == "" {
		return nil, errors.New("currency is required")
	}

	orderID := cmd.OrderID
	if orderID == "" {
		orderID = models.GenerateUUID()
	}
	correlationID := models.GenerateUUID()

	event := events.NewEvent(orderID, events.OrderSubmittedEvent, domain.OrderSubmittedData{
		OrderID: orderID,
		Amount:  cmd.Amount,
	}).WithCorrelationID(correlationID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to publish order submitted event")
	}

	return &SubmitOrderResponse{
		CorrelationID: correlationID,
		OrderID:       orderID,
	}, nil
}
