package domain

import (
	"context"
	"time"

	"github.com/orderflow/fulfillment-system/shared/models"
)

// Session is an exclusive unit of work over a single saga instance. The lock
// is acquired by LoadForUpdate and held until Commit or Rollback; two events
// for the same correlation id are therefore processed strictly sequentially.
type Session interface {
	// Saga returns the instance as of lock acquisition. Mutations to the
	// returned value are persisted by Commit.
	Saga() *OrderSaga

	// Commit persists the instance, increments its version and releases the
	// lock. Returns ErrPersistenceConflict if the committed version no longer
	// matches the loaded one.
	Commit(ctx context.Context) error

	// Rollback discards in-progress changes and releases the lock. Safe to
	// call after Commit; it is then a no-op.
	Rollback() error
}

// SagaRepository is the durable store of saga instances, keyed by correlation
// id with pessimistic per-key locking. It is the only shared mutable resource
// between workers; no in-memory caches of saga state exist anywhere else.
type SagaRepository interface {
	// CreateIfAbsent persists a new instance, failing with
	// ErrDuplicateInstance if the correlation id is already taken.
	CreateIfAbsent(ctx context.Context, saga *OrderSaga) error

	// LoadForUpdate acquires the exclusive per-instance lock and returns a
	// session. Blocks while another session holds the lock for the same
	// correlation id. Fails with ErrNotFound if no instance exists.
	LoadForUpdate(ctx context.Context, correlationID models.ID) (Session, error)

	// FindByCorrelationID returns a read-only snapshot without locking, or
	// ErrNotFound.
	FindByCorrelationID(ctx context.Context, correlationID models.ID) (*OrderSaga, error)

	// ListWithPendingCommands returns snapshots of instances that still have
	// unconfirmed outbound commands, for the recovery sweep.
	ListWithPendingCommands(ctx context.Context, limit int) ([]*OrderSaga, error)

	// ListAwaitingAuthorizationBefore returns snapshots of instances stuck in
	// awaiting_authorization since before the cutoff, for the timeout watcher.
	ListAwaitingAuthorizationBefore(ctx context.Context, cutoff time.Time, limit int) ([]*OrderSaga, error)
}
