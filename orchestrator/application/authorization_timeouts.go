package application

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
)

// timeoutSweepBatchSize bounds how many stalled instances one pass emits
// timeout events for.
const timeoutSweepBatchSize = 100

// AuthorizationTimeouts watches for instances stuck waiting on a card
// authorization and emits card.authorization.timeout events for them. The
// event flows through the normal inbound path, so the transition (and any race
// against a late authorization) is decided by the state machine under the row
// lock, not here.
type AuthorizationTimeouts struct {
	repository     domain.SagaRepository
	eventPublisher events.Publisher
	window         time.Duration
}

// NewAuthorizationTimeouts creates a new AuthorizationTimeouts watcher
func NewAuthorizationTimeouts(repository domain.SagaRepository, eventPublisher events.Publisher, window time.Duration) *AuthorizationTimeouts {
	return &AuthorizationTimeouts{
		repository:     repository,
		eventPublisher: eventPublisher,
		window:         window,
	}
}

// Sweep emits a timeout event for each instance that has been awaiting
// authorization longer than the window.
func (w *AuthorizationTimeouts) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-w.window)

	sagas, err := w.repository.ListAwaitingAuthorizationBefore(ctx, cutoff, timeoutSweepBatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list stalled authorizations")
	}

	for _, saga := range sagas {
		event := events.NewEvent(saga.OrderID, events.AuthorizationTimeoutEvent, nil).
			WithCorrelationID(saga.CorrelationID)

		if err := w.eventPublisher.Publish(ctx, event); err != nil {
			fmt.Printf("Failed to publish authorization timeout for saga %s: %v\n", saga.CorrelationID, err)
			continue
		}
		telemetry.RecordCounter(ctx, "saga_authorization_timeouts_total", "Authorization timeout events emitted by the watcher", 1)
	}
	return nil
}

// Run sweeps on the given interval until the context is cancelled.
func (w *AuthorizationTimeouts) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				fmt.Printf("Authorization timeout sweep failed: %v\n", err)
			}
		}
	}
}
