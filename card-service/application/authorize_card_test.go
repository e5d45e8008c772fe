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

const authorizationLimit = 100000

func authorizationRequest(amount int64) *AuthorizationRequestData {
	return &AuthorizationRequestData{
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Amount:        models.NewMoney(amount, "USD"),
	}
}

func TestAuthorizeCard_Authorizes(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewAuthorizeCard(repo, publisher, authorizationLimit)
	ctx := context.Background()

	commandID := models.GenerateUUID()

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.EventType == events.CardAuthorizedEvent &&
			evt.CorrelationID == models.ID("550e8400-e29b-41d4-a716-446655440001")
	})).Return(nil).Once()

	require.NoError(t, uc.Execute(ctx, commandID, authorizationRequest(5000)))

	auth, err := repo.FindByCommandID(ctx, commandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, auth.Status)
}

func TestAuthorizeCard_DeclinesAboveLimit(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewAuthorizeCard(repo, publisher, authorizationLimit)
	ctx := context.Background()

	commandID := models.GenerateUUID()

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		if evt.EventType != events.CardDeclinedEvent {
			return false
		}
		data, ok := evt.Data.(CardDeclinedData)
		return ok && data.Reason == "amount_limit_exceeded"
	})).Return(nil).Once()

	require.NoError(t, uc.Execute(ctx, commandID, authorizationRequest(authorizationLimit+1)))

	auth, err := repo.FindByCommandID(ctx, commandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, auth.Status)
}

func TestAuthorizeCard_DeclinesInvalidAmount(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewAuthorizeCard(repo, publisher, authorizationLimit)

	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		data, ok := evt.Data.(CardDeclinedData)
		return ok && data.Reason == "invalid_amount"
	})).Return(nil).Once()

	require.NoError(t, uc.Execute(context.Background(), models.GenerateUUID(), authorizationRequest(0)))
}

func TestAuthorizeCard_DuplicateCommandReplaysOutcome(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewAuthorizeCard(repo, publisher, authorizationLimit)
	ctx := context.Background()

	commandID := models.GenerateUUID()

	var outcomeIDs []models.ID
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Run(func(ctx context.Context, evts ...*events.Event) {
		outcomeIDs = append(outcomeIDs, evts[0].ID)
	}).Return(nil).Times(2)

	require.NoError(t, uc.Execute(ctx, commandID, authorizationRequest(5000)))
	require.NoError(t, uc.Execute(ctx, commandID, authorizationRequest(5000)))

	// The redelivered command replays the same outcome event id, so the
	// orchestrator's dedup sees one authorization.
	require.Len(t, outcomeIDs, 2)
	assert.Equal(t, outcomeIDs[0], outcomeIDs[1])

	auth, err := repo.FindByCommandID(ctx, commandID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, auth.Status)
}

func TestAuthorizeCard_AfterCancellationTakesNoHold(t *testing.T) {
	repo := infrastructure.NewMemoryAuthorizationRepository()
	publisher := mocks.NewMockPublisher(t)
	uc := NewAuthorizeCard(repo, publisher, authorizationLimit)
	ctx := context.Background()

	// The cancellation won the race and recorded a placeholder under its own
	// command id.
	cancelCommandID := models.GenerateUUID()
	require.NoError(t, repo.CreateIfAbsent(ctx, &domain.Authorization{
		CommandID:     cancelCommandID,
		CorrelationID: "550e8400-e29b-41d4-a716-446655440001",
		OrderID:       "550e8400-e29b-41d4-a716-446655440002",
		Status:        domain.StatusCancelled,
		Reason:        "timeout",
	}))

	// The late authorization request carries a different command id, so its
	// own dedup would not catch it. No hold is taken and nothing is published.
	authorizeCommandID := models.GenerateUUID()
	require.NoError(t, uc.Execute(ctx, authorizeCommandID, authorizationRequest(5000)))

	_, err := repo.FindByCommandID(ctx, authorizeCommandID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name           string
		amount         models.Money
		limit          int64
		expectedStatus domain.AuthorizationStatus
		expectedReason string
	}{
		{
			name:           "within limit",
			amount:         models.NewMoney(5000, "USD"),
			limit:          authorizationLimit,
			expectedStatus: domain.StatusAuthorized,
		},
		{
			name:           "at limit",
			amount:         models.NewMoney(authorizationLimit, "USD"),
			limit:          authorizationLimit,
			expectedStatus: domain.StatusAuthorized,
		},
		{
			name:           "above limit",
			amount:         models.NewMoney(authorizationLimit+1, "USD"),
			limit:          authorizationLimit,
			expectedStatus: domain.StatusDeclined,
			expectedReason: "amount_limit_exceeded",
		},
		{
			name:           "limit disabled",
			amount:         models.NewMoney(authorizationLimit*10, "USD"),
			limit:          0,
			expectedStatus: domain.StatusAuthorized,
		},
		{
			name:           "negative amount",
			amount:         models.NewMoney(-1, "USD"),
			limit:          authorizationLimit,
			expectedStatus: domain.StatusDeclined,
			expectedReason: "invalid_amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := domain.Decide(tt.amount, tt.limit)
			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedReason, reason)
		})
	}
}
