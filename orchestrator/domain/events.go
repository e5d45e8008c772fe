package domain

import (
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// InboundEvent is the decoded, correlation-bearing form of a bus event.
type InboundEvent struct {
	ID            models.ID
	Type          string
	CorrelationID models.ID

	// OrderID and Amount are set for order.submitted only.
	OrderID models.ID
	Amount  models.Money

	// Reason is set for card.declined and cancellation requests.
	Reason string
}

// OrderSubmittedData is the payload of an order.submitted event.
type OrderSubmittedData struct {
	OrderID models.ID    `json:"order_id"`
	Amount  models.Money `json:"amount"`
}

// CardDeclinedData is the payload of a card.declined event.
type CardDeclinedData struct {
	Reason string `json:"reason"`
}

// CancelRequestedData is the payload of an order.cancellation.requested event.
type CancelRequestedData struct {
	Reason string `json:"reason,omitempty"`
}

// DecodeInboundEvent extracts the correlation id and typed payload from a bus
// event. Messages without a correlation id are rejected.
func DecodeInboundEvent(event *events.Event) (InboundEvent, error) {
	if event.CorrelationID == "" {
		return InboundEvent{}, errors.Wrapf(ErrMissingCorrelationID, "event %s (%s)", event.ID, event.EventType)
	}

	ev := InboundEvent{
		ID:            event.ID,
		Type:          event.EventType,
		CorrelationID: event.CorrelationID,
	}

	switch event.EventType {
	case events.OrderSubmittedEvent:
		var data OrderSubmittedData
		if err := event.UnmarshalPayload(&data); err != nil {
			return InboundEvent{}, errors.Wrap(err, "failed to decode order submitted payload")
		}
		ev.OrderID = data.OrderID
		ev.Amount = data.Amount
	case events.CardDeclinedEvent:
		var data CardDeclinedData
		if err := event.UnmarshalPayload(&data); err != nil {
			return InboundEvent{}, errors.Wrap(err, "failed to decode card declined payload")
		}
		ev.Reason = data.Reason
	case events.CancelRequestedEvent:
		var data CancelRequestedData
		if err := event.UnmarshalPayload(&data); err != nil {
			return InboundEvent{}, errors.Wrap(err, "failed to decode cancellation payload")
		}
		ev.Reason = data.Reason
	}

	return ev, nil
}
