package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// AuthorizationRequestData is the payload of a card.authorization.requested command
type AuthorizationRequestData struct {
	CorrelationID models.ID    `json:"correlation_id"`
	OrderID       models.ID    `json:"order_id"`
	Amount        models.Money `json:"amount"`
}

// CardAuthorizedData is the payload of a card.authorized event
type CardAuthorizedData struct {
	OrderID models.ID    `json:"order_id"`
	Amount  models.Money `json:"amount"`
}

// CardDeclinedData is the payload of a card.declined event
type CardDeclinedData struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// AuthorizeCard processes authorization request commands. The command id is
// recorded before any outcome is published, so a redelivered command replays
// the recorded decision instead of authorizing a second time. Outcome event
// ids are derived from the command id, which lets the orchestrator's own dedup
// absorb the replayed outcome.
type AuthorizeCard struct {
	repository     domain.AuthorizationRepository
	eventPublisher events.Publisher
	limit          int64
}

// NewAuthorizeCard creates a new AuthorizeCard use case
func NewAuthorizeCard(repository domain.AuthorizationRepository, eventPublisher events.Publisher, limit int64) *AuthorizeCard {
	return &AuthorizeCard{
		repository:     repository,
		eventPublisher: eventPublisher,
		limit:          limit,
	}
}

// Execute decides and records the authorization, then publishes the outcome.
func (uc *AuthorizeCard) Execute(ctx context.Context, commandID models.ID, data *AuthorizationRequestData) error {
	// A cancellation that won the race leaves a cancelled record under the
	// same correlation id. A late authorization request must not take a hold
	// nobody would release, and its outcome would be discarded anyway.
	if existing, err := uc.repository.FindByCorrelationID(ctx, data.CorrelationID); err == nil {
		if existing.Status == domain.StatusCancelled && existing.CommandID != commandID {
			fmt.Printf("Authorization %s arrived after cancellation for %s, taking no hold\n", commandID, data.CorrelationID)
			return nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return errors.Wrapf(err, "failed to check authorizations for %s", data.CorrelationID)
	}

	status, reason := domain.Decide(data.Amount, uc.limit)

	auth := &domain.Authorization{
		CommandID:     commandID,
		CorrelationID: data.CorrelationID,
		OrderID:       data.OrderID,
		Amount:        data.Amount,
		Status:        status,
		Reason:        reason,
	}

	if err := uc.repository.CreateIfAbsent(ctx, auth); err != nil {
		if errors.Is(err, domain.ErrDuplicateCommand) {
			// Redelivered command: replay the recorded outcome.
			fmt.Printf("Duplicate authorization command %s, replaying outcome\n", commandID)
			recorded, err := uc.repository.FindByCommandID(ctx, commandID)
			if err != nil {
				return errors.Wrapf(err, "failed to load recorded authorization %s", commandID)
			}
			auth = recorded
		} else {
			return errors.Wrapf(err, "failed to record authorization %s", commandID)
		}
	}

	telemetry.RecordCounter(ctx, "card_authorizations_total", "Card authorization decisions", 1,
		attribute.String("status", string(auth.Status)))

	return uc.publishOutcome(ctx, auth)
}

func (uc *AuthorizeCard) publishOutcome(ctx context.Context, auth *domain.Authorization) error {
	var event *events.Event
	switch auth.Status {
	case domain.StatusAuthorized:
		event = events.NewEvent(auth.OrderID, events.CardAuthorizedEvent, CardAuthorizedData{
			OrderID: auth.OrderID,
			Amount:  auth.Amount,
		})
	case domain.StatusDeclined:
		event = events.NewEvent(auth.OrderID, events.CardDeclinedEvent, CardDeclinedData{
			OrderID: auth.OrderID,
			Reason:  auth.Reason,
		})
	default:
		// Cancelled or released before the outcome went out; nothing to emit.
		return nil
	}

	// Stable outcome id so replays deduplicate downstream.
	event.ID = models.DeriveID(auth.CommandID.String(), "outcome")
	event.WithCorrelationID(auth.CorrelationID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "failed to publish authorization outcome for %s", auth.CommandID)
	}
	return nil
}
