package application

import (
	"context"
	"testing"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/orchestrator/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/mocks"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testRetry = RetryPolicy{MaxAttempts: 1}

func newProcessFixture(t *testing.T) (*ProcessOrderEvent, *infrastructure.MemorySagaRepository, *mocks.MockPublisher) {
	repo := infrastructure.NewMemorySagaRepository()
	publisher := mocks.NewMockPublisher(t)
	dispatcher := NewCommandDispatcher(repo, publisher, testRetry)
	return NewProcessOrderEvent(repo, dispatcher), repo, publisher
}

func submittedEvent(correlationID, eventID string) *events.Event {
	event := events.NewEvent("550e8400-e29b-41d4-a716-446655440002", events.OrderSubmittedEvent, domain.OrderSubmittedData{
		OrderID: "550e8400-e29b-41d4-a716-446655440002",
		Amount:  models.NewMoney(5000, "USD"),
	}).WithCorrelationID(models.ID(correlationID))
	event.ID = models.ID(eventID)
	return event
}

func inboundEvent(correlationID, eventID, eventType string, data interface{}) *events.Event {
	event := events.NewEvent("550e8400-e29b-41d4-a716-446655440002", eventType, data).
		WithCorrelationID(models.ID(correlationID))
	event.ID = models.ID(eventID)
	return event
}

func expectPublish(publisher *mocks.MockPublisher, topic string) {
	publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.EventType == topic
	})).Return(nil).Once()
}

func TestProcessOrderEvent_StartsSaga(t *testing.T) {
	uc, repo, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)

	err := uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010"))
	require.NoError(t, err)

	saga, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingAuthorization, saga.State)
	// The publish was confirmed, so nothing is left pending.
	assert.Empty(t, saga.PendingCommands)
	assert.True(t, saga.HasProcessed("550e8400-e29b-41d4-a716-446655440010"))
}

func TestProcessOrderEvent_DuplicateSubmissionAcked(t *testing.T) {
	uc, _, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)

	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))

	// Redelivery and conflicting reuse both ack without a second publish.
	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))
	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440011")))
}

func TestProcessOrderEvent_HappyPathToCompleted(t *testing.T) {
	uc, repo, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)
	expectPublish(publisher, events.ConfirmOrderCommand)

	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440011", events.CardAuthorizedEvent, nil)))
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440012", events.OrderConfirmedEvent, nil)))

	saga, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, saga.State)
	assert.Empty(t, saga.PendingCommands)
}

func TestProcessOrderEvent_DuplicateEventAppliesOnce(t *testing.T) {
	uc, repo, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)
	expectPublish(publisher, events.ConfirmOrderCommand)

	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))

	authorized := inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440011", events.CardAuthorizedEvent, nil)
	require.NoError(t, uc.Execute(ctx, authorized))
	require.NoError(t, uc.Execute(ctx, authorized))

	saga, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAuthorized, saga.State)
}

func TestProcessOrderEvent_UnknownSagaDiscarded(t *testing.T) {
	uc, _, _ := newProcessFixture(t)

	err := uc.Execute(context.Background(), inboundEvent("550e8400-e29b-41d4-a716-446655440099", "550e8400-e29b-41d4-a716-446655440011", events.CardAuthorizedEvent, nil))
	assert.NoError(t, err)
}

func TestProcessOrderEvent_MissingCorrelationIDDiscarded(t *testing.T) {
	uc, _, _ := newProcessFixture(t)

	event := events.NewEvent("550e8400-e29b-41d4-a716-446655440002", events.CardAuthorizedEvent, nil)
	err := uc.Execute(context.Background(), event)
	assert.NoError(t, err)
}

func TestProcessOrderEvent_OutOfOrderRecordedWithoutEffect(t *testing.T) {
	uc, repo, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)
	expectPublish(publisher, events.NotifyOrderDeclinedCommand)

	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440011", events.CardDeclinedEvent, domain.CardDeclinedData{Reason: "insufficient_funds"})))

	// A late authorization for the declined saga is terminal-discarded, and
	// the duplicate decline is absorbed by the processed log.
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440012", events.CardAuthorizedEvent, nil)))

	saga, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, saga.State)
	assert.Equal(t, "insufficient_funds", saga.DeclineReason)
}

func TestProcessOrderEvent_TimeoutThenCompensation(t *testing.T) {
	uc, repo, publisher := newProcessFixture(t)
	ctx := context.Background()

	expectPublish(publisher, events.RequestCardAuthorizationCommand)
	expectPublish(publisher, events.CancelAuthorizationRequestCommand)

	require.NoError(t, uc.Execute(ctx, submittedEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440010")))
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440011", events.AuthorizationTimeoutEvent, nil)))
	require.NoError(t, uc.Execute(ctx, inboundEvent("550e8400-e29b-41d4-a716-446655440001", "550e8400-e29b-41d4-a716-446655440012", events.CompensationCompletedEvent, nil)))

	saga, err := repo.FindByCorrelationID(ctx, "550e8400-e29b-41d4-a716-446655440001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, saga.State)
}
