package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orderflow/fulfillment-system/card-service/application"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

// CardEventHandlers handles the commands the orchestrator addresses to the
// card service. Each command carries an id the use cases deduplicate on, so a
// redelivery never double-charges.
type CardEventHandlers struct {
	authorizeCard       *application.AuthorizeCard
	cancelAuthorization *application.CancelAuthorization
	compensateOrder     *application.CompensateOrder
}

// NewCardEventHandlers creates new card event handlers
func NewCardEventHandlers(
	authorizeCard *application.AuthorizeCard,
	cancelAuthorization *application.CancelAuthorization,
	compensateOrder *application.CompensateOrder,
) *CardEventHandlers {
	return &CardEventHandlers{
		authorizeCard:       authorizeCard,
		cancelAuthorization: cancelAuthorization,
		compensateOrder:     compensateOrder,
	}
}

// Handle implements the events.EventHandler interface
func (h *CardEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.RequestCardAuthorizationCommand:
		return h.HandleAuthorizationRequested(ctx, event)
	case events.CancelAuthorizationRequestCommand:
		return h.HandleCancellationRequested(ctx, event)
	case events.IssueCompensationCommand:
		return h.HandleCompensationRequested(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *CardEventHandlers) HandlerID() string {
	return "card-service-event-handler"
}

// HandleAuthorizationRequested handles authorization request commands
func (h *CardEventHandlers) HandleAuthorizationRequested(ctx context.Context, event *events.Event) error {
	var data application.AuthorizationRequestData
	if err := h.parseEventData(event, &data); err != nil {
		return errors.Wrap(err, "failed to parse authorization request data")
	}

	if err := h.authorizeCard.Execute(ctx, event.ID, &data); err != nil {
		fmt.Printf("Failed to authorize card for order %s: %v\n", data.OrderID, err)
		return err
	}
	return nil
}

// HandleCancellationRequested handles authorization cancellation commands
func (h *CardEventHandlers) HandleCancellationRequested(ctx context.Context, event *events.Event) error {
	var data application.CancelAuthorizationData
	if err := h.parseEventData(event, &data); err != nil {
		return errors.Wrap(err, "failed to parse cancellation request data")
	}

	if err := h.cancelAuthorization.Execute(ctx, event.ID, &data); err != nil {
		fmt.Printf("Failed to cancel authorization for order %s: %v\n", data.OrderID, err)
		return err
	}
	return nil
}

// HandleCompensationRequested handles compensation commands
func (h *CardEventHandlers) HandleCompensationRequested(ctx context.Context, event *events.Event) error {
	var data application.CompensationRequestData
	if err := h.parseEventData(event, &data); err != nil {
		return errors.Wrap(err, "failed to parse compensation request data")
	}

	if err := h.compensateOrder.Execute(ctx, event.ID, &data); err != nil {
		fmt.Printf("Failed to compensate order %s: %v\n", data.OrderID, err)
		return err
	}
	return nil
}

// parseEventData parses event data into the specified struct
func (h *CardEventHandlers) parseEventData(event *events.Event, target interface{}) error {
	jsonData, err := json.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event data")
	}

	if err := json.Unmarshal(jsonData, target); err != nil {
		return errors.Wrap(err, "failed to unmarshal event data")
	}

	return nil
}
