package application

import (
	"context"
	"testing"

	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/card-service/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/mocks"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func compensationRequest() *CompensationRequestData {
	return &CompensationRequestData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Amount:        models.NewMoney(5000, "USD"),
		Reason:        "customer_request",
	}
}

func seedAuthorization(t *testing.T, repo *infrastructure.MemoryAuthorizationRepository, status domain.AuthorizationStatus) models.ID {
	t.Helper()

	commandID := models.GenerateUUID()
	require.NoError(t, repo.CreateIfAbsent(context.Background(), &domain.Authorization{
		CommandID:     commandID,
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Amount:        models.NewMoney(5000, "USD"),
		Status:        status,
	}))
	return commandID
}

func expectCompensationCompleted(publisher *mocks.MockPublisher) {
	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.EventType == events.CompensationCompletedEvent &&
			evt.CorrelationID == models.ID("550e8400-e29b-41d4-a716-446655440001")
	})).Return(nil).Once()
}

func TestCompensateOrder_ReleasesAuthorization(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCompensateOrder(repo, publisher)
	ctx := context.Background()

	authCommandID := seedAuthorization(t, repo, domain.StatusAuthorized)
	expectCompensationCompleted(publisher)

	require.NoError(t, uc.Execute(ctx, models.GenerateUUID(), compensationRequest()))

	auth, err := repo.FindByCommandID(ctx, authCommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, auth.Status)
}

func TestCompensateOrder_NoAuthorizationStillCompletes(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCompensateOrder(repo, publisher)

	expectCompensationCompleted(publisher)

	require.NoError(t, uc.Execute(context.Background(), models.GenerateUUID(), compensationRequest()))
}

func TestCompensateOrder_DuplicateCommandSameOutcomeID(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCompensateOrder(repo, publisher)
	ctx := context.Background()

	seedAuthorization(t, repo, domain.StatusAuthorized)
	commandID := models.GenerateUUID()

	var outcomeIDs []models.ID
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Run(func(ctx context.Context, evts ...*events.Event) {
		outcomeIDs = append(outcomeIDs, evts[0].ID)
	}).Return(nil).Times(2)

	require.NoError(t, uc.Execute(ctx, commandID, compensationRequest()))
	require.NoError(t, uc.Execute(ctx, commandID, compensationRequest()))

	require.Len(t, outcomeIDs, 2)
	assert.Equal(t, outcomeIDs[0], outcomeIDs[1])
}

func TestCancelAuthorization_CancelsAuthorizedAndCompletes(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCancelAuthorization(repo, publisher)
	ctx := context.Background()

	authCommandID := seedAuthorization(t, repo, domain.StatusAuthorized)
	expectCompensationCompleted(publisher)

	require.NoError(t, uc.Execute(ctx, models.GenerateUUID(), &CancelAuthorizationData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Reason:        "timeout",
	}))

	auth, err := repo.FindByCommandID(ctx, authCommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, auth.Status)
}

func TestCancelAuthorization_WinsRaceAgainstAuthorization(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCancelAuthorization(repo, publisher)
	ctx := context.Background()

	commandID := models.GenerateUUID()
	expectCompensationCompleted(publisher)

	// No authorization exists yet; the cancellation records a placeholder and
	// still confirms completion so the saga can finish.
	require.NoError(t, uc.Execute(ctx, commandID, &CancelAuthorizationData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Reason:        "timeout",
	}))

	auth, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, auth.Status)
	assert.Equal(t, commandID, auth.CommandID)
}

func TestCancelAuthorization_NonAuthorizedStillCompletes(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCancelAuthorization(repo, publisher)
	ctx := context.Background()

	authCommandID := seedAuthorization(t, repo, domain.StatusDeclined)
	expectCompensationCompleted(publisher)

	require.NoError(t, uc.Execute(ctx, models.GenerateUUID(), &CancelAuthorizationData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
	}))

	auth, err := repo.FindByCommandID(ctx, authCommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, auth.Status)
}

func TestCancelAuthorization_DuplicateCommandSameOutcomeID(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewCancelAuthorization(repo, publisher)
	ctx := context.Background()

	commandID := models.GenerateUUID()
	request := &CancelAuthorizationData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Reason:        "timeout",
	}

	var outcomeIDs []models.ID
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Run(func(ctx context.Context, evts ...*events.Event) {
		outcomeIDs = append(outcomeIDs, evts[0].ID)
	}).Return(nil).Times(2)

	require.NoError(t, uc.Execute(ctx, commandID, request))
	require.NoError(t, uc.Execute(ctx, commandID, request))

	require.Len(t, outcomeIDs, 2)
	assert.Equal(t, outcomeIDs[0], outcomeIDs[1])
}
