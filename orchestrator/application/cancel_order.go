package application

import (
	"context"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// CancelOrderCommand requests cancellation of an in-flight order
type CancelOrderCommand struct {
	CorrelationID models.ID `json:"correlation_id"`
	Reason        string    `json:"reason,omitempty"`
}

// CancelOrder publishes the cancellation request event. Whether the
// cancellation takes effect depends on the saga's state when the event
// arrives; a cancellation that loses the race against authorization turns
// into a compensation instead.
type CancelOrder struct {
	repository     domain.SagaRepository
	eventPublisher events.Publisher
}

// NewCancelOrder creates a new CancelOrder use case
func NewCancelOrder(repository domain.SagaRepository, eventPublisher events.Publisher) *CancelOrder {
	return &CancelOrder{
		repository:     repository,
		eventPublisher: eventPublisher,
	}
}

// Execute publishes order.cancellation.requested for the given saga.
func (uc *CancelOrder) Execute(ctx context.Context, cmd *CancelOrderCommand) error {
	saga, err := uc.repository.FindByCorrelationID(ctx, cmd.CorrelationID)
	if err != nil {
		return errors.Wrapf(err, "failed to find saga %s", cmd.CorrelationID)
	}

	event := events.NewEvent(saga.OrderID, events.CancelRequestedEvent, domain.CancelRequestedData{
		Reason: cmd.Reason,
	}).WithCorrelationID(saga.CorrelationID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return errors.Wrap(err, "failed to publish cancellation request")
	}
	return nil
}
