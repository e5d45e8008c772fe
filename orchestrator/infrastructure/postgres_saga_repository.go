package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// lockWaitTimeout bounds how long a session waits on a row lock before the
// load surfaces ErrPersistenceConflict.
const lockWaitTimeout = 5 * time.Second

// PostgresSagaRepository implements SagaRepository using PostgreSQL. Pessimism
// comes from SELECT ... FOR UPDATE inside a transaction held open for the
// lifetime of the session; the version column additionally guards the commit
// against lost updates.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// postgresSaga represents a saga instance row
type postgresSaga struct {
	CorrelationID   string    `db:"correlation_id"`
	OrderID         string    `db:"order_id"`
	Amount          int64     `db:"amount"`
	Currency        string    `db:"currency"`
	State           string    `db:"state"`
	DeclineReason   string    `db:"decline_reason"`
	PendingCommands []byte    `db:"pending_commands"`
	ProcessedEvents []byte    `db:"processed_events"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	Version         int       `db:"version"`
}

const sagaColumns = `
	correlation_id, order_id, amount, currency, state, decline_reason,
	pending_commands, processed_events, created_at, updated_at, version`

// CreateIfAbsent inserts a new instance, failing with ErrDuplicateInstance if
// the correlation id is already taken.
func (r *PostgresSagaRepository) CreateIfAbsent(ctx context.Context, saga *domain.OrderSaga) error {
	saga.Timestamps = models.NewTimestamps()

	pgSaga, err := toPostgresSaga(saga)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO saga_instances (` + sagaColumns + `)
		VALUES (
			:correlation_id, :order_id, :amount, :currency, :state, :decline_reason,
			:pending_commands, :processed_events, :created_at, :updated_at, :version
		)
		ON CONFLICT (correlation_id) DO NOTHING`

	result, err := r.db.NamedExecContext(ctx, query, pgSaga)
	if err != nil {
		return errors.Wrap(err, "failed to insert saga instance")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read insert result")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrDuplicateInstance, "correlation id %s", saga.CorrelationID)
	}

	return nil
}

// LoadForUpdate opens a transaction and takes the row lock. The transaction
// stays open until the session commits or rolls back.
func (r *PostgresSagaRepository) LoadForUpdate(ctx context.Context, correlationID models.ID) (domain.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockWaitTimeout.Milliseconds())); err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, "failed to set lock timeout")
	}

	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE correlation_id = $1 FOR UPDATE`

	var pgSaga postgresSaga
	if err := tx.GetContext(ctx, &pgSaga, query, correlationID.String()); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
		}
		if isLockTimeout(err) {
			return nil, errors.Wrapf(domain.ErrPersistenceConflict, "lock wait for %s: %v", correlationID, err)
		}
		return nil, errors.Wrap(err, "failed to load saga instance for update")
	}

	saga, err := toDomainSaga(&pgSaga)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &postgresSession{
		tx:            tx,
		saga:          saga,
		loadedVersion: saga.Version.Value,
	}, nil
}

// FindByCorrelationID returns a snapshot without locking.
func (r *PostgresSagaRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.OrderSaga, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE correlation_id = $1`

	var pgSaga postgresSaga
	if err := r.db.GetContext(ctx, &pgSaga, query, correlationID.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
		}
		return nil, errors.Wrap(err, "failed to find saga instance")
	}

	return toDomainSaga(&pgSaga)
}

// ListWithPendingCommands returns instances that still carry unconfirmed
// outbound commands, oldest first.
func (r *PostgresSagaRepository) ListWithPendingCommands(ctx context.Context, limit int) ([]*domain.OrderSaga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE jsonb_array_length(pending_commands) > 0
		ORDER BY updated_at ASC
		LIMIT $1`

	return r.selectSagas(ctx, query, limit)
}

// ListAwaitingAuthorizationBefore returns instances awaiting authorization
// since before the cutoff, oldest first.
func (r *PostgresSagaRepository) ListAwaitingAuthorizationBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.OrderSaga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	return r.selectSagas(ctx, query, string(domain.StateAwaitingAuthorization), cutoff, limit)
}

func (r *PostgresSagaRepository) selectSagas(ctx context.Context, query string, args ...interface{}) ([]*domain.OrderSaga, error) {
	var pgSagas []postgresSaga
	if err := r.db.SelectContext(ctx, &pgSagas, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list saga instances")
	}

	sagas := make([]*domain.OrderSaga, len(pgSagas))
	for i := range pgSagas {
		saga, err := toDomainSaga(&pgSagas[i])
		if err != nil {
			return nil, err
		}
		sagas[i] = saga
	}
	return sagas, nil
}

// postgresSession holds the open transaction and its row lock.
type postgresSession struct {
	tx            *sqlx.Tx
	saga          *domain.OrderSaga
	loadedVersion int
	done          bool
}

func (s *postgresSession) Saga() *domain.OrderSaga {
	return s.saga
}

func (s *postgresSession) Commit(ctx context.Context) error {
	if s.done {
		return errors.New("session already closed")
	}
	s.done = true

	s.saga.Version = s.saga.Version.Update()
	s.saga.Timestamps = s.saga.Timestamps.Update()

	pgSaga, err := toPostgresSaga(s.saga)
	if err != nil {
		s.tx.Rollback()
		return err
	}

	query := `
		UPDATE saga_instances
		SET state = :state, decline_reason = :decline_reason,
			pending_commands = :pending_commands, processed_events = :processed_events,
			updated_at = :updated_at, version = :version
		WHERE correlation_id = :correlation_id AND version = :old_version`

	params := map[string]interface{}{
		"correlation_id":   pgSaga.CorrelationID,
		"state":            pgSaga.State,
		"decline_reason":   pgSaga.DeclineReason,
		"pending_commands": pgSaga.PendingCommands,
		"processed_events": pgSaga.ProcessedEvents,
		"updated_at":       pgSaga.UpdatedAt,
		"version":          pgSaga.Version,
		"old_version":      s.loadedVersion,
	}

	result, err := s.tx.NamedExecContext(ctx, query, params)
	if err != nil {
		s.tx.Rollback()
		return errors.Wrap(err, "failed to update saga instance")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		s.tx.Rollback()
		return errors.Wrap(err, "failed to read update result")
	}
	if rows == 0 {
		s.tx.Rollback()
		return errors.Wrapf(domain.ErrPersistenceConflict, "correlation id %s version %d", s.saga.CorrelationID, s.loadedVersion)
	}

	if err := s.tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit saga transaction")
	}
	return nil
}

func (s *postgresSession) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true

	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, "failed to roll back saga transaction")
	}
	return nil
}

// isLockTimeout matches the PostgreSQL lock_not_available error (55P03).
func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03"
	}
	return false
}

func toPostgresSaga(saga *domain.OrderSaga) (*postgresSaga, error) {
	pendingCommands, err := json.Marshal(saga.PendingCommands)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal pending commands")
	}

	processedEvents, err := json.Marshal(saga.ProcessedEvents)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal processed events")
	}

	return &postgresSaga{
		CorrelationID:   saga.CorrelationID.String(),
		OrderID:         saga.OrderID.String(),
		Amount:          saga.Amount.Amount,
		Currency:        saga.Amount.Currency,
		State:           string(saga.State),
		DeclineReason:   saga.DeclineReason,
		PendingCommands: pendingCommands,
		ProcessedEvents: processedEvents,
		CreatedAt:       saga.Timestamps.CreatedAt,
		UpdatedAt:       saga.Timestamps.UpdatedAt,
		Version:         saga.Version.Value,
	}, nil
}

func toDomainSaga(pgSaga *postgresSaga) (*domain.OrderSaga, error) {
	var pendingCommands []domain.Command
	if len(pgSaga.PendingCommands) > 0 {
		if err := json.Unmarshal(pgSaga.PendingCommands, &pendingCommands); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal pending commands")
		}
	}

	var processedEvents []models.ID
	if len(pgSaga.ProcessedEvents) > 0 {
		if err := json.Unmarshal(pgSaga.ProcessedEvents, &processedEvents); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal processed events")
		}
	}

	return &domain.OrderSaga{
		CorrelationID:   models.ID(pgSaga.CorrelationID),
		OrderID:         models.ID(pgSaga.OrderID),
		Amount:          models.NewMoney(pgSaga.Amount, pgSaga.Currency),
		State:           domain.State(pgSaga.State),
		DeclineReason:   pgSaga.DeclineReason,
		PendingCommands: pendingCommands,
		ProcessedEvents: processedEvents,
		Timestamps: models.Timestamps{
			CreatedAt: pgSaga.CreatedAt,
			UpdatedAt: pgSaga.UpdatedAt,
		},
		Version: models.Version{Value: pgSaga.Version},
	}, nil
}
