package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
)

// CompensationRequestData is the payload of an order.compensation.requested command
type CompensationRequestData struct {
	CorrelationID models.ID    `json:"correlation_id"`
	OrderID       models.ID    `json:"order_id"`
	Amount        models.Money `json:"amount"`
	Reason        string       `json:"reason,omitempty"`
}

// CompensationCompletedData is the payload of an order.compensation.completed event
type CompensationCompletedData struct {
	OrderID models.ID    `json:"order_id"`
	Amount  models.Money `json:"amount"`
}

// CompensateOrder releases a captured authorization after a cancellation that
// arrived post-authorization. The completion event id is derived from the
// command id so the orchestrator sees one completion no matter how many times
// the command is redelivered.
type CompensateOrder struct {
	repository     domain.AuthorizationRepository
	eventPublisher events.Publisher
}

// NewCompensateOrder creates a new CompensateOrder use case
func NewCompensateOrder(repository domain.AuthorizationRepository, eventPublisher events.Publisher) *CompensateOrder {
	return &CompensateOrder{
		repository:     repository,
		eventPublisher: eventPublisher,
	}
}

// Execute releases the authorization and publishes the completion event.
func (uc *CompensateOrder) Execute(ctx context.Context, commandID models.ID, data *CompensationRequestData) error {
	auth, err := uc.repository.FindByCorrelationID(ctx, data.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Nothing was captured; still confirm so the saga can finish.
			fmt.Printf("Compensation %s found no authorization for %s\n", commandID, data.CorrelationID)
			return uc.publishCompleted(ctx, commandID, data)
		}
		return errors.Wrapf(err, "failed to find authorization for %s", data.CorrelationID)
	}

	if auth.Status == domain.StatusAuthorized {
		if err := uc.repository.UpdateStatus(ctx, auth.CommandID, domain.StatusReleased, data.Reason); err != nil {
			return errors.Wrapf(err, "failed to release authorization %s", auth.CommandID)
		}
		telemetry.RecordCounter(ctx, "card_authorizations_released_total", "Authorizations released by compensation", 1)
	}

	return uc.publishCompleted(ctx, commandID, data)
}

func (uc *CompensateOrder) publishCompleted(ctx context.Context, commandID models.ID, data *CompensationRequestData) error {
	event := events.NewEvent(data.OrderID, events.CompensationCompletedEvent, CompensationCompletedData{
		OrderID: data.OrderID,
		Amount:  data.Amount,
	})
	event.ID = models.DeriveID(commandID.String(), "outcome")
	event.WithCorrelationID(data.CorrelationID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "failed to publish compensation completion for %s", commandID)
	}
	return nil
}
