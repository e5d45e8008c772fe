package config

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/orderflow/fulfillment-system/orchestrator/application"
	"github.com/orderflow/fulfillment-system/orchestrator/handlers"
	"github.com/orderflow/fulfillment-system/orchestrator/infrastructure"
	sharedinfra "github.com/orderflow/fulfillment-system/shared/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories
	SagaRepository *infrastructure.PostgresSagaRepository

	// Use Cases
	SubmitOrder           *application.SubmitOrder
	CancelOrder           *application.CancelOrder
	GetOrder              *application.GetOrder
	ProcessOrderEvent     *application.ProcessOrderEvent
	CommandDispatcher     *application.CommandDispatcher
	AuthorizationTimeouts *application.AuthorizationTimeouts

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrchestratorConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize repositories
	deps.SagaRepository = infrastructure.NewPostgresSagaRepository(db)

	// Initialize use cases
	deps.CommandDispatcher = application.NewCommandDispatcher(deps.SagaRepository, eventPublisher, application.DefaultRetryPolicy)
	deps.ProcessOrderEvent = application.NewProcessOrderEvent(deps.SagaRepository, deps.CommandDispatcher)
	deps.SubmitOrder = application.NewSubmitOrder(eventPublisher)
	deps.CancelOrder = application.NewCancelOrder(deps.SagaRepository, eventPublisher)
	deps.GetOrder = application.NewGetOrder(deps.SagaRepository)
	deps.AuthorizationTimeouts = application.NewAuthorizationTimeouts(deps.SagaRepository, eventPublisher, config.Saga.AuthorizationTimeout)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.SubmitOrder, deps.CancelOrder, deps.GetOrder)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.ProcessOrderEvent)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
