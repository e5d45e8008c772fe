package domain

import (
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// The state machine is a pure transition function: given the same
// (state, event) pair it always produces the same next state and the same
// outbound commands. Command ids are derived from (correlation id, event id,
// topic), so replaying an event re-issues byte-identical commands and
// downstream deduplication holds. Nothing here reads the clock or touches
// storage; timestamps and version bumps happen at commit time.

// StartOrderSaga handles the designated start event. It builds a fresh
// instance in awaiting_authorization and issues the card authorization
// request. Callers persist it with CreateIfAbsent, which surfaces
// ErrDuplicateInstance when the correlation id is already taken.
func StartOrderSaga(ev InboundEvent) (OrderSaga, []Command, error) {
	if ev.Type != events.OrderSubmittedEvent {
		return OrderSaga{}, nil, errors.Errorf("saga can only be started by %s, got %s", events.OrderSubmittedEvent, ev.Type)
	}
	if ev.CorrelationID == "" {
		return OrderSaga{}, nil, ErrMissingCorrelationID
	}

	saga := OrderSaga{
		CorrelationID: ev.CorrelationID,
		OrderID:       ev.OrderID,
		Amount:        ev.Amount,
		State:         StateAwaitingAuthorization,
		Version:       models.NewVersion(),
	}

	return saga, []Command{newCommand(events.RequestCardAuthorizationCommand, saga, ev, "")}, nil
}

// Apply computes the transition for an event against the instance's current
// state. It returns the next instance value and the commands to issue, or
// ErrOutOfOrderEvent when no transition row matches. The input is never
// mutated.
func Apply(saga OrderSaga, ev InboundEvent) (OrderSaga, []Command, error) {
	next := saga.Clone()

	switch {
	case saga.State == StateAwaitingAuthorization && ev.Type == events.CardAuthorizedEvent:
		next.State = StateAuthorized
		return next, []Command{newCommand(events.ConfirmOrderCommand, saga, ev, "")}, nil

	case saga.State == StateAwaitingAuthorization && ev.Type == events.CardDeclinedEvent:
		next.State = StateDeclined
		next.DeclineReason = ev.Reason
		return next, []Command{newCommand(events.NotifyOrderDeclinedCommand, saga, ev, ev.Reason)}, nil

	case saga.State == StateAwaitingAuthorization && ev.Type == events.AuthorizationTimeoutEvent:
		next.State = StateCompensating
		return next, []Command{newCommand(events.CancelAuthorizationRequestCommand, saga, ev, "")}, nil

	case saga.State == StateAuthorized && ev.Type == events.OrderConfirmedEvent:
		next.State = StateCompleted
		return next, nil, nil

	case (saga.State == StateAwaitingAuthorization || saga.State == StateAuthorized) && ev.Type == events.CancelRequestedEvent:
		next.State = StateCompensating
		return next, []Command{newCommand(events.IssueCompensationCommand, saga, ev, ev.Reason)}, nil

	case saga.State == StateCompensating && ev.Type == events.CompensationCompletedEvent:
		next.State = StateCancelled
		return next, nil, nil
	}

	return saga, nil, errors.Wrapf(ErrOutOfOrderEvent, "event %s in state %s", ev.Type, saga.State)
}

func newCommand(topic string, saga OrderSaga, ev InboundEvent, reason string) Command {
	return Command{
		ID:    models.DeriveID(saga.CorrelationID.String(), ev.ID.String(), topic),
		Topic: topic,
		Data: CommandData{
			CorrelationID: saga.CorrelationID,
			OrderID:       saga.OrderID,
			Amount:        saga.Amount,
			Reason:        reason,
		},
	}
}
