package handlers

import (
	"context"

	"github.com/orderflow/fulfillment-system/orchestrator/application"
	"github.com/orderflow/fulfillment-system/shared/events"
)

// OrderEventHandlers routes every saga-relevant event into the single inbound
// processing path. Correlation, deduplication and ordering are decided there,
// not per event type.
type OrderEventHandlers struct {
	processOrderEvent *application.ProcessOrderEvent
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(processOrderEvent *application.ProcessOrderEvent) *OrderEventHandlers {
	return &OrderEventHandlers{processOrderEvent: processOrderEvent}
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.OrderSubmittedEvent,
		events.CardAuthorizedEvent,
		events.CardDeclinedEvent,
		events.AuthorizationTimeoutEvent,
		events.OrderConfirmedEvent,
		events.CancelRequestedEvent,
		events.CompensationCompletedEvent:
		return h.processOrderEvent.Execute(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "order-orchestrator-event-handler"
}

// Topics lists the event types this handler subscribes to.
func (h *OrderEventHandlers) Topics() []string {
	return []string{
		events.OrderSubmittedEvent,
		events.CardAuthorizedEvent,
		events.CardDeclinedEvent,
		events.AuthorizationTimeoutEvent,
		events.OrderConfirmedEvent,
		events.CancelRequestedEvent,
		events.CompensationCompletedEvent,
	}
}
