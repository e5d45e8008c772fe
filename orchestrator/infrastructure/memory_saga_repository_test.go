package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSaga(correlationID string) *domain.OrderSaga {
	return &domain.OrderSaga{
		CorrelationID: models.ID(correlationID),
		OrderID:       models.GenerateUUID(),
		Amount:        models.NewMoney(5000, "USD"),
		State:         domain.StateAwaitingAuthorization,
		Version:       models.NewVersion(),
	}
}

func TestMemorySagaRepository_CreateIfAbsent(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	saga := newTestSaga("550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, repo.CreateIfAbsent(ctx, saga))

	err := repo.CreateIfAbsent(ctx, newTestSaga("550e8400-e29b-41d4-a716-446655440001"))
	assert.True(t, errors.Is(err, domain.ErrDuplicateInstance))

	found, err := repo.FindByCorrelationID(ctx, saga.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingAuthorization, found.State)
}

func TestMemorySagaRepository_LoadForUpdate_NotFound(t *testing.T) {
	repo := NewMemorySagaRepository()

	_, err := repo.LoadForUpdate(context.Background(), "550e8400-e29b-41d4-a716-446655440099")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMemorySagaRepository_CommitBumpsVersion(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	saga := newTestSaga("550e8400-e29b-41d4-a716-446655440002")
	require.NoError(t, repo.CreateIfAbsent(ctx, saga))

	session, err := repo.LoadForUpdate(ctx, saga.CorrelationID)
	require.NoError(t, err)

	session.Saga().State = domain.StateAuthorized
	require.NoError(t, session.Commit(ctx))

	found, err := repo.FindByCorrelationID(ctx, saga.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAuthorized, found.State)
	assert.Equal(t, 2, found.Version.Value)
}

func TestMemorySagaRepository_RollbackDiscardsChanges(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	saga := newTestSaga("550e8400-e29b-41d4-a716-446655440003")
	require.NoError(t, repo.CreateIfAbsent(ctx, saga))

	session, err := repo.LoadForUpdate(ctx, saga.CorrelationID)
	require.NoError(t, err)
	session.Saga().State = domain.StateAuthorized
	require.NoError(t, session.Rollback())

	found, err := repo.FindByCorrelationID(ctx, saga.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingAuthorization, found.State)
	assert.Equal(t, 1, found.Version.Value)
}

func TestMemorySagaRepository_LockBlocksSecondSession(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	saga := newTestSaga("550e8400-e29b-41d4-a716-446655440004")
	require.NoError(t, repo.CreateIfAbsent(ctx, saga))

	session, err := repo.LoadForUpdate(ctx, saga.CorrelationID)
	require.NoError(t, err)

	// A second load with a short deadline must fail while the lock is held.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = repo.LoadForUpdate(shortCtx, saga.CorrelationID)
	assert.True(t, errors.Is(err, domain.ErrPersistenceConflict))

	require.NoError(t, session.Rollback())

	// After release the lock is free again.
	session2, err := repo.LoadForUpdate(ctx, saga.CorrelationID)
	require.NoError(t, err)
	require.NoError(t, session2.Rollback())
}

func TestMemorySagaRepository_ConcurrentUpdatesSerialize(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	saga := newTestSaga("550e8400-e29b-41d4-a716-446655440005")
	require.NoError(t, repo.CreateIfAbsent(ctx, saga))

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			session, err := repo.LoadForUpdate(ctx, saga.CorrelationID)
			if err != nil {
				return
			}
			session.Saga().Record(models.GenerateUUID(), nil)
			session.Commit(ctx)
		}()
	}
	wg.Wait()

	found, err := repo.FindByCorrelationID(ctx, saga.CorrelationID)
	require.NoError(t, err)

	// Every worker held the lock exclusively, so each commit saw the
	// previous one: version counts all of them, and no event id was lost.
	assert.Equal(t, 1+workers, found.Version.Value)
	assert.Len(t, found.ProcessedEvents, workers)
}

func TestMemorySagaRepository_Listings(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	withPending := newTestSaga("550e8400-e29b-41d4-a716-446655440006")
	withPending.PendingCommands = []domain.Command{{ID: models.GenerateUUID(), Topic: "card.authorization.requested"}}
	require.NoError(t, repo.CreateIfAbsent(ctx, withPending))

	clean := newTestSaga("550e8400-e29b-41d4-a716-446655440007")
	clean.State = domain.StateCompleted
	require.NoError(t, repo.CreateIfAbsent(ctx, clean))

	pending, err := repo.ListWithPendingCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, withPending.CorrelationID, pending[0].CorrelationID)

	stalled, err := repo.ListAwaitingAuthorizationBefore(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, withPending.CorrelationID, stalled[0].CorrelationID)

	none, err := repo.ListAwaitingAuthorizationBefore(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
