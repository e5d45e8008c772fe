package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// ProcessOrderEvent is the correlation and deduplication layer in front of the
// state machine. It maps an inbound event to exactly one saga instance,
// serializes concurrent updates through the store's per-key lock, and hands
// issued commands to the dispatcher after the transition is committed.
//
// Returning nil acknowledges the message; returning an error leaves it on the
// queue for redelivery. Only transient store faults return errors — duplicate,
// unknown and out-of-order events are deliberate no-ops.
type ProcessOrderEvent struct {
	repository domain.SagaRepository
	dispatcher *CommandDispatcher
}

// NewProcessOrderEvent creates a new ProcessOrderEvent use case
func NewProcessOrderEvent(repository domain.SagaRepository, dispatcher *CommandDispatcher) *ProcessOrderEvent {
	return &ProcessOrderEvent{
		repository: repository,
		dispatcher: dispatcher,
	}
}

// Execute processes one inbound event against its saga instance.
func (uc *ProcessOrderEvent) Execute(ctx context.Context, event *events.Event) error {
	ev, err := domain.DecodeInboundEvent(event)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCorrelationID) {
			fmt.Printf("Discarding event %s without correlation id\n", event.ID)
			uc.count(ctx, event.EventType, "missing_correlation_id")
			return nil
		}
		return errors.Wrap(err, "failed to decode inbound event")
	}

	if ev.Type == events.OrderSubmittedEvent {
		return uc.startSaga(ctx, ev)
	}

	session, err := uc.repository.LoadForUpdate(ctx, ev.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Tolerates redelivery after an instance was archived.
			fmt.Printf("Discarding event %s for unknown saga %s\n", ev.ID, ev.CorrelationID)
			uc.count(ctx, ev.Type, "unknown_instance")
			return nil
		}
		return errors.Wrapf(err, "failed to load saga %s", ev.CorrelationID)
	}

	saga := session.Saga()

	if saga.HasProcessed(ev.ID) {
		uc.count(ctx, ev.Type, "duplicate")
		return session.Rollback()
	}

	if saga.State.IsTerminal() {
		fmt.Printf("Discarding event %s for terminal saga %s (%s)\n", ev.ID, ev.CorrelationID, saga.State)
		uc.count(ctx, ev.Type, "terminal")
		return session.Rollback()
	}

	next, commands, err := domain.Apply(*saga, ev)
	if err != nil {
		if errors.Is(err, domain.ErrOutOfOrderEvent) {
			// Expected under redelivery and races: record the event id so
			// replays short-circuit, but change no state and issue nothing.
			fmt.Printf("Out-of-order event %s (%s) for saga %s in state %s\n", ev.ID, ev.Type, ev.CorrelationID, saga.State)
			uc.count(ctx, ev.Type, "out_of_order")
			saga.Record(ev.ID, nil)
			return session.Commit(ctx)
		}
		session.Rollback()
		return errors.Wrapf(err, "failed to apply event %s", ev.ID)
	}

	next.Record(ev.ID, commands)
	*saga = next

	if err := session.Commit(ctx); err != nil {
		return errors.Wrapf(err, "failed to commit saga %s", ev.CorrelationID)
	}

	uc.count(ctx, ev.Type, "applied")
	uc.dispatcher.Dispatch(ctx, saga.CorrelationID, commands)
	return nil
}

// startSaga handles the designated start event. A duplicate submission is
// acknowledged without effect: either it is a redelivery of an event this
// instance already processed, or a conflicting reuse of the correlation id,
// which retrying cannot repair.
func (uc *ProcessOrderEvent) startSaga(ctx context.Context, ev domain.InboundEvent) error {
	saga, commands, err := domain.StartOrderSaga(ev)
	if err != nil {
		return errors.Wrap(err, "failed to build saga instance")
	}
	saga.Record(ev.ID, commands)

	if err := uc.repository.CreateIfAbsent(ctx, &saga); err != nil {
		if errors.Is(err, domain.ErrDuplicateInstance) {
			fmt.Printf("Duplicate order submission for saga %s\n", ev.CorrelationID)
			uc.count(ctx, ev.Type, "duplicate_instance")
			return nil
		}
		return errors.Wrapf(err, "failed to create saga %s", ev.CorrelationID)
	}

	uc.count(ctx, ev.Type, "applied")
	uc.dispatcher.Dispatch(ctx, saga.CorrelationID, commands)
	return nil
}

func (uc *ProcessOrderEvent) count(ctx context.Context, eventType, result string) {
	telemetry.RecordCounter(ctx, "saga_events_total", "Inbound saga events by processing result", 1,
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	)
}
