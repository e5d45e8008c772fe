package application

import (
	"context"
	"testing"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/orchestrator/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/mocks"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationTimeouts_Sweep(t *testing.T) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	watcher := NewAuthorizationTimeouts(repo, publisher, 0)
	ctx := context.Background()

	stalled := &domain.OrderSaga{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Amount:        models.NewMoney(5000, "USD"),
		State:         domain.StateAwaitingAuthorization,
		Version:       models.NewVersion(),
	}
	require.NoError(t, repo.CreateIfAbsent(ctx, stalled))

	completed := &domain.OrderSaga{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440003",
		OrderID:       "550e8400-e29b-41d4-a716-446655440004",
		State:         domain.StateCompleted,
		Version:       models.NewVersion(),
	}
	require.NoError(t, repo.CreateIfAbsent(ctx, completed))

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.EventType == events.AuthorizationTimeoutEvent &&
			evt.CorrelationID == stalled.CorrelationID
	})).Return(nil).Once()

	// A zero window with a cutoff in the future flags the stalled instance
	// immediately; the completed one is never flagged.
	time.Sleep(time.Millisecond)
	require.NoError(t, watcher.Sweep(ctx))
}
