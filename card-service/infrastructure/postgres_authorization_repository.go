package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// PostgresAuthorizationRepository implements AuthorizationRepository using
// PostgreSQL. The command id primary key makes the insert the idempotency
// barrier for redelivered commands.
type PostgresAuthorizationRepository struct {
	db *sqlx.DB
}

// NewPostgresAuthorizationRepository creates a new PostgresAuthorizationRepository
func NewPostgresAuthorizationRepository(db *sqlx.DB) *PostgresAuthorizationRepository {
	return &PostgresAuthorizationRepository{db: db}
}

// postgresAuthorization represents an authorization row
type postgresAuthorization struct {
	CommandID     string    `db:"command_id"`
	CorrelationID string    `db:"correlation_id"`
	OrderID       string    `db:"order_id"`
	Amount        int64     `db:"amount"`
	Currency      string    `db:"currency"`
	Status        string    `db:"status"`
	Reason        string    `db:"reason"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

const authorizationColumns = `
	command_id, correlation_id, order_id, amount, currency, status, reason,
	created_at, updated_at`

// CreateIfAbsent inserts the authorization, failing with ErrDuplicateCommand
// if the command id was already processed.
func (r *PostgresAuthorizationRepository) CreateIfAbsent(ctx context.Context, auth *domain.Authorization) error {
	auth.Timestamps = models.NewTimestamps()

	query := `
		INSERT INTO card_authorizations (` + authorizationColumns + `)
		VALUES (
			:command_id, :correlation_id, :order_id, :amount, :currency, :status, :reason,
			:created_at, :updated_at
		)
		ON CONFLICT (command_id) DO NOTHING`

	result, err := r.db.NamedExecContext(ctx, query, toPostgresAuthorization(auth))
	if err != nil {
		return errors.Wrap(err, "failed to insert authorization")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read insert result")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrDuplicateCommand, "command id %s", auth.CommandID)
	}

	return nil
}

// FindByCommandID returns the record for a processed command.
func (r *PostgresAuthorizationRepository) FindByCommandID(ctx context.Context, commandID models.ID) (*domain.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM card_authorizations WHERE command_id = $1`

	var pgAuth postgresAuthorization
	if err := r.db.GetContext(ctx, &pgAuth, query, commandID.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(domain.ErrNotFound, "command id %s", commandID)
		}
		return nil, errors.Wrap(err, "failed to find authorization by command id")
	}

	return toDomainAuthorization(&pgAuth), nil
}

// FindByCorrelationID returns the most recent authorization for an order.
func (r *PostgresAuthorizationRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.Authorization, error) {
	query := `
		SELECT ` + authorizationColumns + `
		FROM card_authorizations
		WHERE correlation_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var pgAuth postgresAuthorization
	if err := r.db.GetContext(ctx, &pgAuth, query, correlationID.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
		}
		return nil, errors.Wrap(err, "failed to find authorization by correlation id")
	}

	return toDomainAuthorization(&pgAuth), nil
}

// UpdateStatus transitions an existing authorization.
func (r *PostgresAuthorizationRepository) UpdateStatus(ctx context.Context, commandID models.ID, status domain.AuthorizationStatus, reason string) error {
	query := `
		UPDATE card_authorizations
		SET status = $1, reason = $2, updated_at = $3
		WHERE command_id = $4`

	result, err := r.db.ExecContext(ctx, query, string(status), reason, time.Now(), commandID.String())
	if err != nil {
		return errors.Wrap(err, "failed to update authorization status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrNotFound, "command id %s", commandID)
	}

	return nil
}

func toPostgresAuthorization(auth *domain.Authorization) *postgresAuthorization {
	return &postgresAuthorization{
		CommandID:     auth.CommandID.String(),
		CorrelationID: auth.CorrelationID.String(),
		OrderID:       auth.OrderID.String(),
		Amount:        auth.Amount.Amount,
		Currency:      auth.Amount.Currency,
		Status:        string(auth.Status),
		Reason:        auth.Reason,
		CreatedAt:     auth.Timestamps.CreatedAt,
		UpdatedAt:     auth.Timestamps.UpdatedAt,
	}
}

func toDomainAuthorization(pgAuth *postgresAuthorization) *domain.Authorization {
	return &domain.Authorization{
		CommandID:     models.ID(pgAuth.CommandID),
		CorrelationID: models.ID(pgAuth.CorrelationID),
		OrderID:       models.ID(pgAuth.OrderID),
		Amount:        models.NewMoney(pgAuth.Amount, pgAuth.Currency),
		Status:        domain.AuthorizationStatus(pgAuth.Status),
		Reason:        pgAuth.Reason,
		Timestamps: models.Timestamps{
			CreatedAt: pgAuth.CreatedAt,
			UpdatedAt: pgAuth.UpdatedAt,
		},
	}
}
