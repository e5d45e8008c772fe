package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// CancelAuthorizationData is the payload of a card.authorization.cancellation.requested command
type CancelAuthorizationData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
	Reason        string    `json:"reason,omitempty"`
}

// CancelAuthorization voids an in-flight authorization request and confirms
// the cancellation with an order.compensation.completed event, which is what
// lets a compensating saga finish. The command may race the authorization
// itself; if no record exists yet, one is created in cancelled state so a
// late authorization attempt finds it and takes no hold.
type CancelAuthorization struct {
	repository     domain.AuthorizationRepository
	eventPublisher events.Publisher
}

// NewCancelAuthorization creates a new CancelAuthorization use case
func NewCancelAuthorization(repository domain.AuthorizationRepository, eventPublisher events.Publisher) *CancelAuthorization {
	return &CancelAuthorization{
		repository:     repository,
		eventPublisher: eventPublisher,
	}
}

// Execute marks the order's authorization cancelled and publishes completion.
func (uc *CancelAuthorization) Execute(ctx context.Context, commandID models.ID, data *CancelAuthorizationData) error {
	auth, err := uc.repository.FindByCorrelationID(ctx, data.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The cancellation won the race against the authorization request.
			placeholder := &domain.Authorization{
				CommandID:     commandID,
				CorrelationID: data.CorrelationID,
				OrderID:       data.OrderID,
				Status:        domain.StatusCancelled,
				Reason:        data.Reason,
			}
			if err := uc.repository.CreateIfAbsent(ctx, placeholder); err != nil && !errors.Is(err, domain.ErrDuplicateCommand) {
				return errors.Wrapf(err, "failed to record cancellation %s", commandID)
			}
			return uc.publishCompleted(ctx, commandID, data, models.Money{})
		}
		return errors.Wrapf(err, "failed to find authorization for %s", data.CorrelationID)
	}

	if auth.Status == domain.StatusAuthorized {
		if err := uc.repository.UpdateStatus(ctx, auth.CommandID, domain.StatusCancelled, data.Reason); err != nil {
			return errors.Wrapf(err, "failed to cancel authorization %s", auth.CommandID)
		}
	} else {
		fmt.Printf("Authorization %s already %s, confirming cancellation\n", auth.CommandID, auth.Status)
	}

	return uc.publishCompleted(ctx, commandID, data, auth.Amount)
}

func (uc *CancelAuthorization) publishCompleted(ctx context.Context, commandID models.ID, data *CancelAuthorizationData, amount models.Money) error {
	event := events.NewEvent(data.OrderID, events.CompensationCompletedEvent, CompensationCompletedData{
		OrderID: data.OrderID,
		Amount:  amount,
	})
	event.ID = models.DeriveID(commandID.String(), "outcome")
	event.WithCorrelationID(data.CorrelationID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "failed to publish cancellation completion for %s", commandID)
	}
	return nil
}
