package application

import (
	"context"
	"testing"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/orchestrator/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/mocks"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedSagaWithPending(t *testing.T, repo *infrastructure.MemorySagaRepository, correlationID string) domain.Command {
	t.Helper()

	cmd := domain.Command{
		ID:    models.DeriveID(correlationID, "seed", events.RequestCardAuthorizationCommand),
		Topic: events.RequestCardAuthorizationCommand,
		Data: domain.CommandData{
			CorrelationID: models.ID(correlationID),
			OrderID:       "550e8400-e29b-41d4-a716-446655440002",
			Amount:        models.NewMoney(5000, "USD"),
		},
	}
	saga := &domain.OrderSaga{
		CorrelationID:   models.ID(correlationID),
		OrderID:         cmd.Data.OrderID,
		Amount:          cmd.Data.Amount,
		State:           domain.StateAwaitingAuthorization,
		PendingCommands: []domain.Command{cmd},
		Version:         models.NewVersion(),
	}
	require.NoError(t, repo.CreateIfAbsent(context.Background(), saga))
	return cmd
}

func TestCommandDispatcher_ConfirmsOnSuccess(t *testing.T) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	dispatcher := NewCommandDispatcher(repo, publisher, testRetry)
	ctx := context.Background()

	cmd := seedSagaWithPending(t, repo, "550e8400-e29b-41d4-a716-446655440001")

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		// The outbound event id is the command id, which is what the
		// consumer deduplicates on.
		return evt.ID == cmd.ID && evt.EventType == cmd.Topic
	})).Return(nil).Once()

	dispatcher.Dispatch(ctx, cmd.Data.CorrelationID, []domain.Command{cmd})

	saga, err := repo.FindByCorrelationID(ctx, cmd.Data.CorrelationID)
	require.NoError(t, err)
	assert.Empty(t, saga.PendingCommands)
}

func TestCommandDispatcher_FailureLeavesCommandPending(t *testing.T) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	dispatcher := NewCommandDispatcher(repo, publisher, testRetry)
	ctx := context.Background()

	cmd := seedSagaWithPending(t, repo, "550e8400-e29b-41d4-a716-446655440001")

	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(errors.New("sns unavailable")).Once()

	dispatcher.Dispatch(ctx, cmd.Data.CorrelationID, []domain.Command{cmd})

	saga, err := repo.FindByCorrelationID(ctx, cmd.Data.CorrelationID)
	require.NoError(t, err)
	require.Len(t, saga.PendingCommands, 1)
	assert.Equal(t, cmd.ID, saga.PendingCommands[0].ID)
}

func TestCommandDispatcher_RetriesTransientFailure(t *testing.T) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0}
	dispatcher := NewCommandDispatcher(repo, publisher, retry)
	ctx := context.Background()

	cmd := seedSagaWithPending(t, repo, "550e8400-e29b-41d4-a716-446655440001")

	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(errors.New("throttled")).Twice()
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Once()

	dispatcher.Dispatch(ctx, cmd.Data.CorrelationID, []domain.Command{cmd})

	saga, err := repo.FindByCorrelationID(ctx, cmd.Data.CorrelationID)
	require.NoError(t, err)
	assert.Empty(t, saga.PendingCommands)
}

func TestCommandDispatcher_RecoverPendingRepublishes(t *testing.T) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	dispatcher := NewCommandDispatcher(repo, publisher, testRetry)
	ctx := context.Background()

	cmd := seedSagaWithPending(t, repo, "550e8400-e29b-41d4-a716-446655440001")

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.ID == cmd.ID
	})).Return(nil).Once()

	require.NoError(t, dispatcher.RecoverPending(ctx))

	saga, err := repo.FindByCorrelationID(ctx, cmd.Data.CorrelationID)
	require.NoError(t, err)
	assert.Empty(t, saga.PendingCommands)

	// A second sweep finds nothing to do.
	require.NoError(t, dispatcher.RecoverPending(ctx))
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 0}
	err := policy.Do(ctx, func() error { return errors.New("always fails") })
	assert.Equal(t, context.Canceled, err)
}

func TestRetryPolicy_ReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 0}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errors.New("persistent failure")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
