package application

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// recoverySweepBatchSize bounds how many instances one sweep pass touches.
const recoverySweepBatchSize = 100

// CommandDispatcher publishes outbound commands exactly once from the
// orchestrator's point of view. Commands are already persisted in the
// instance's pending set when Dispatch runs; a confirmed send removes them in
// a follow-up commit, and anything still pending after a crash is re-published
// by the recovery sweep. Downstream consumers deduplicate by command id, which
// makes the re-publish safe.
type CommandDispatcher struct {
	repository domain.SagaRepository
	publisher  events.Publisher
	retry      RetryPolicy
}

// NewCommandDispatcher creates a new CommandDispatcher
func NewCommandDispatcher(repository domain.SagaRepository, publisher events.Publisher, retry RetryPolicy) *CommandDispatcher {
	return &CommandDispatcher{
		repository: repository,
		publisher:  publisher,
		retry:      retry,
	}
}

// Dispatch publishes the given commands and confirms each successful send. A
// failed publish leaves the command pending for the recovery sweep; Dispatch
// never fails the event processing that produced the commands.
func (d *CommandDispatcher) Dispatch(ctx context.Context, correlationID models.ID, commands []domain.Command) {
	for _, cmd := range commands {
		if err := d.publish(ctx, cmd); err != nil {
			fmt.Printf("Failed to publish command %s (%s) for saga %s: %v\n", cmd.ID, cmd.Topic, correlationID, err)
			telemetry.RecordCounter(ctx, "saga_commands_publish_failed_total", "Commands left pending after publish failure", 1,
				attribute.String("topic", cmd.Topic))
			continue
		}

		if err := d.confirm(ctx, correlationID, cmd.ID); err != nil {
			// The command was delivered but stays pending; the sweep will
			// re-publish and the consumer's dedup absorbs it.
			fmt.Printf("Failed to confirm command %s for saga %s: %v\n", cmd.ID, correlationID, err)
		}
	}
}

// RecoverPending re-publishes commands still pending from a previous run.
// Called once at startup and periodically afterwards.
func (d *CommandDispatcher) RecoverPending(ctx context.Context) error {
	sagas, err := d.repository.ListWithPendingCommands(ctx, recoverySweepBatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list sagas with pending commands")
	}

	for _, saga := range sagas {
		telemetry.RecordCounter(ctx, "saga_commands_recovered_total", "Pending commands re-published by the recovery sweep",
			int64(len(saga.PendingCommands)))
		d.Dispatch(ctx, saga.CorrelationID, saga.PendingCommands)
	}
	return nil
}

// RunRecoverySweep runs RecoverPending on the given interval until the context
// is cancelled.
func (d *CommandDispatcher) RunRecoverySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RecoverPending(ctx); err != nil {
				fmt.Printf("Recovery sweep failed: %v\n", err)
			}
		}
	}
}

func (d *CommandDispatcher) publish(ctx context.Context, cmd domain.Command) error {
	event := &events.Event{
		ID:            cmd.ID,
		AggregateID:   cmd.Data.OrderID,
		Topic:         events.Topic(cmd.Topic),
		EventType:     cmd.Topic,
		Version:       "1.0",
		Data:          cmd.Data,
		Metadata:      make(events.Metadata),
		Timestamp:     time.Now(),
		CorrelationID: cmd.Data.CorrelationID,
	}

	return d.retry.Do(ctx, func() error {
		return d.publisher.Publish(ctx, event)
	})
}

func (d *CommandDispatcher) confirm(ctx context.Context, correlationID, commandID models.ID) error {
	session, err := d.repository.LoadForUpdate(ctx, correlationID)
	if err != nil {
		return errors.Wrap(err, "failed to load saga for command confirmation")
	}

	saga := session.Saga()
	if !saga.ConfirmCommand(commandID) {
		// Already confirmed by a concurrent dispatch of the same command.
		return session.Rollback()
	}

	if err := session.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit command confirmation")
	}
	return nil
}
