package domain

import (
	"github.com/orderflow/fulfillment-system/shared/models"
)

// State represents the lifecycle state of an order saga
type State string

const (
	StateAwaitingAuthorization State = "awaiting_authorization"
	StateAuthorized            State = "authorized"
	StateDeclined              State = "declined"
	StateCompleted             State = "completed"
	StateCompensating          State = "compensating"
	StateCancelled             State = "cancelled"
	StateFailed                State = "failed"
)

// IsTerminal reports whether no further event may mutate an instance in this
// state. StateFailed is reached only through operator intervention, never by
// the state machine itself.
func (s State) IsTerminal() bool {
	switch s {
	case StateDeclined, StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// processedEventLogSize bounds the per-instance log of applied event ids.
// Redeliveries older than the window fall through to the state machine, which
// rejects them as out-of-order anyway.
const processedEventLogSize = 64

// Command is an outbound command issued by the state machine. Commands are
// persisted in the instance's pending set in the same commit as the state
// transition, then published and confirmed by the dispatcher.
type Command struct {
	ID    models.ID   `json:"id"`
	Topic string      `json:"topic"`
	Data  CommandData `json:"data"`
}

// CommandData is the payload carried by every outbound command.
type CommandData struct {
	CorrelationID models.ID    `json:"correlation_id"`
	OrderID       models.ID    `json:"order_id"`
	Amount        models.Money `json:"amount"`
	Reason        string       `json:"reason,omitempty"`
}

// OrderSaga is the durable per-order saga instance. One row exists per
// correlation id; State mutates only through the state machine.
type OrderSaga struct {
	CorrelationID   models.ID
	OrderID         models.ID
	Amount          models.Money
	State           State
	DeclineReason   string
	PendingCommands []Command
	ProcessedEvents []models.ID
	Timestamps      models.Timestamps
	Version         models.Version
}

// HasProcessed reports whether the event id is in the recent processed log.
func (s *OrderSaga) HasProcessed(eventID models.ID) bool {
	for _, id := range s.ProcessedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// Record appends issued commands and the applied event id to the instance's
// durable bookkeeping so both land in the same commit as the state transition.
func (s *OrderSaga) Record(eventID models.ID, commands []Command) {
	s.PendingCommands = append(s.PendingCommands, commands...)
	s.ProcessedEvents = append(s.ProcessedEvents, eventID)
	if overflow := len(s.ProcessedEvents) - processedEventLogSize; overflow > 0 {
		s.ProcessedEvents = append([]models.ID(nil), s.ProcessedEvents[overflow:]...)
	}
}

// ConfirmCommand removes a command from the pending set after its publish was
// confirmed. Returns false if the command was not pending.
func (s *OrderSaga) ConfirmCommand(commandID models.ID) bool {
	for i, cmd := range s.PendingCommands {
		if cmd.ID == commandID {
			s.PendingCommands = append(s.PendingCommands[:i:i], s.PendingCommands[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy so transitions never alias the committed instance.
func (s *OrderSaga) Clone() OrderSaga {
	clone := *s
	clone.PendingCommands = append([]Command(nil), s.PendingCommands...)
	clone.ProcessedEvents = append([]models.ID(nil), s.ProcessedEvents...)
	return clone
}
