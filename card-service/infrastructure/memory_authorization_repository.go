package infrastructure

import (
	"context"
	"sync"

	"github.com/orderflow/fulfillment-system/card-service/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// MemoryAuthorizationRepository is an in-memory AuthorizationRepository for
// tests and local runs.
type MemoryAuthorizationRepository struct {
	mu      sync.Mutex
	records map[models.ID]*domain.Authorization
}

// NewMemoryAuthorizationRepository creates a new MemoryAuthorizationRepository
func NewMemoryAuthorizationRepository() *MemoryAuthorizationRepository {
	return &MemoryAuthorizationRepository{
		records: make(map[models.ID]*domain.Authorization),
	}
}

func (r *MemoryAuthorizationRepository) CreateIfAbsent(ctx context.Context, auth *domain.Authorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[auth.CommandID]; ok {
		return errors.Wrapf(domain.ErrDuplicateCommand, "command id %s", auth.CommandID)
	}

	auth.Timestamps = models.NewTimestamps()
	clone := *auth
	r.records[auth.CommandID] = &clone
	return nil
}

func (r *MemoryAuthorizationRepository) FindByCommandID(ctx context.Context, commandID models.ID) (*domain.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.records[commandID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "command id %s", commandID)
	}
	clone := *auth
	return &clone, nil
}

func (r *MemoryAuthorizationRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.Authorization
	for _, auth := range r.records {
		if auth.CorrelationID != correlationID {
			continue
		}
		if latest == nil || auth.Timestamps.CreatedAt.After(latest.Timestamps.CreatedAt) {
			latest = auth
		}
	}
	if latest == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
	}
	clone := *latest
	return &clone, nil
}

func (r *MemoryAuthorizationRepository) UpdateStatus(ctx context.Context, commandID models.ID, status domain.AuthorizationStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.records[commandID]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "command id %s", commandID)
	}
	auth.Status = status
	auth.Reason = reason
	auth.Timestamps = auth.Timestamps.Update()
	return nil
}
