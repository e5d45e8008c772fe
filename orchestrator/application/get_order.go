package application

import (
	"context"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// GetOrderResponse is the read-side view of a saga instance
type GetOrderResponse struct {
	CorrelationID   models.ID    `json:"correlation_id"`
	OrderID         models.ID    `json:"order_id"`
	Amount          models.Money `json:"amount"`
	State           string       `json:"state"`
	DeclineReason   string       `json:"decline_reason,omitempty"`
	PendingCommands int          `json:"pending_commands"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// GetOrder reads a saga snapshot without taking the row lock.
type GetOrder struct {
	repository domain.SagaRepository
}

// NewGetOrder creates a new GetOrder use case
func NewGetOrder(repository domain.SagaRepository) *GetOrder {
	return &GetOrder{repository: repository}
}

// Execute returns the current state of the saga for the correlation id.
func (uc *GetOrder) Execute(ctx context.Context, correlationID models.ID) (*GetOrderResponse, error) {
	saga, err := uc.repository.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find saga %s", correlationID)
	}

	return &GetOrderResponse{
		CorrelationID:   saga.CorrelationID,
		OrderID:         saga.OrderID,
		Amount:          saga.Amount,
		State:           string(saga.State),
		DeclineReason:   saga.DeclineReason,
		PendingCommands: len(saga.PendingCommands),
		CreatedAt:       saga.Timestamps.CreatedAt,
		UpdatedAt:       saga.Timestamps.UpdatedAt,
	}, nil
}
