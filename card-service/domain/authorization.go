package domain

import (
	"context"

	"github.com/orderflow/fulfillment-system/shared/models"
)

// AuthorizationStatus represents the outcome of a card authorization
type AuthorizationStatus string

const (
	StatusAuthorized AuthorizationStatus = "authorized"
	StatusDeclined   AuthorizationStatus = "declined"
	StatusCancelled  AuthorizationStatus = "cancelled"
	StatusReleased   AuthorizationStatus = "released"
)

// Authorization is the durable record of one processed command. The command id
// is the primary key: a redelivered command finds its record and replays the
// recorded outcome instead of authorizing twice.
type Authorization struct {
	CommandID     models.ID
	CorrelationID models.ID
	OrderID       models.ID
	Amount        models.Money
	Status        AuthorizationStatus
	Reason        string
	Timestamps    models.Timestamps
}

// Decide applies the authorization rules to a new request.
func Decide(amount models.Money, limit int64) (AuthorizationStatus, string) {
	if !amount.IsPositive() {
		return StatusDeclined, "invalid_amount"
	}
	if limit > 0 && amount.Amount > limit {
		return StatusDeclined, "amount_limit_exceeded"
	}
	return StatusAuthorized, ""
}

// AuthorizationRepository persists processed commands keyed by command id.
type AuthorizationRepository interface {
	// CreateIfAbsent records the authorization, failing with
	// ErrDuplicateCommand if the command id was already processed.
	CreateIfAbsent(ctx context.Context, auth *Authorization) error

	// FindByCommandID returns the record for a processed command.
	FindByCommandID(ctx context.Context, commandID models.ID) (*Authorization, error)

	// FindByCorrelationID returns the most recent authorization for an order.
	FindByCorrelationID(ctx context.Context, correlationID models.ID) (*Authorization, error)

	// UpdateStatus transitions an existing authorization.
	UpdateStatus(ctx context.Context, commandID models.ID, status AuthorizationStatus, reason string) error
}
