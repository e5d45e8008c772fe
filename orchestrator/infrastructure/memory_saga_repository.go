package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// MemorySagaRepository implements SagaRepository with an explicit mutex per
// correlation id. Used by tests and local runs; not durable.
type MemorySagaRepository struct {
	mu    sync.Mutex
	locks map[models.ID]chan struct{}
	sagas map[models.ID]*domain.OrderSaga
}

// NewMemorySagaRepository creates a new MemorySagaRepository
func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{
		locks: make(map[models.ID]chan struct{}),
		sagas: make(map[models.ID]*domain.OrderSaga),
	}
}

// CreateIfAbsent persists a new instance or fails with ErrDuplicateInstance.
func (r *MemorySagaRepository) CreateIfAbsent(ctx context.Context, saga *domain.OrderSaga) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sagas[saga.CorrelationID]; ok {
		return errors.Wrapf(domain.ErrDuplicateInstance, "correlation id %s", saga.CorrelationID)
	}

	stored := saga.Clone()
	stored.Timestamps = models.NewTimestamps()
	saga.Timestamps = stored.Timestamps
	r.sagas[saga.CorrelationID] = &stored
	return nil
}

// LoadForUpdate acquires the per-instance lock, blocking while another session
// holds it. The context bounds the wait.
func (r *MemorySagaRepository) LoadForUpdate(ctx context.Context, correlationID models.ID) (domain.Session, error) {
	lock := r.lockFor(correlationID)

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrapf(domain.ErrPersistenceConflict, "lock wait for %s: %v", correlationID, ctx.Err())
	}

	r.mu.Lock()
	stored, ok := r.sagas[correlationID]
	if !ok {
		r.mu.Unlock()
		<-lock
		return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
	}
	working := stored.Clone()
	r.mu.Unlock()

	return &memorySession{
		repo: r,
		lock: lock,
		saga: &working,
	}, nil
}

// FindByCorrelationID returns a snapshot without locking.
func (r *MemorySagaRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.OrderSaga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sagas[correlationID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "correlation id %s", correlationID)
	}
	snapshot := stored.Clone()
	return &snapshot, nil
}

// ListWithPendingCommands returns snapshots of instances with unconfirmed commands.
func (r *MemorySagaRepository) ListWithPendingCommands(ctx context.Context, limit int) ([]*domain.OrderSaga, error) {
	return r.list(limit, func(s *domain.OrderSaga) bool {
		return len(s.PendingCommands) > 0
	})
}

// ListAwaitingAuthorizationBefore returns instances stuck awaiting authorization.
func (r *MemorySagaRepository) ListAwaitingAuthorizationBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.OrderSaga, error) {
	return r.list(limit, func(s *domain.OrderSaga) bool {
		return s.State == domain.StateAwaitingAuthorization && s.Timestamps.UpdatedAt.Before(cutoff)
	})
}

func (r *MemorySagaRepository) list(limit int, match func(*domain.OrderSaga) bool) ([]*domain.OrderSaga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*domain.OrderSaga
	for _, stored := range r.sagas {
		if match(stored) {
			snapshot := stored.Clone()
			result = append(result, &snapshot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CorrelationID < result[j].CorrelationID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemorySagaRepository) lockFor(correlationID models.ID) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[correlationID]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[correlationID] = lock
	}
	return lock
}

// memorySession is an exclusive unit of work over one in-memory instance.
type memorySession struct {
	repo *MemorySagaRepository
	lock chan struct{}
	saga *domain.OrderSaga
	done bool
}

func (s *memorySession) Saga() *domain.OrderSaga {
	return s.saga
}

func (s *memorySession) Commit(ctx context.Context) error {
	if s.done {
		return errors.New("session already closed")
	}

	s.repo.mu.Lock()
	stored, ok := s.repo.sagas[s.saga.CorrelationID]
	if !ok || stored.Version.Value != s.saga.Version.Value {
		s.repo.mu.Unlock()
		s.release()
		return errors.Wrapf(domain.ErrPersistenceConflict, "correlation id %s", s.saga.CorrelationID)
	}

	committed := s.saga.Clone()
	committed.Version = committed.Version.Update()
	committed.Timestamps = committed.Timestamps.Update()
	s.repo.sagas[s.saga.CorrelationID] = &committed
	s.repo.mu.Unlock()

	*s.saga = committed.Clone()
	s.release()
	return nil
}

func (s *memorySession) Rollback() error {
	if s.done {
		return nil
	}
	s.release()
	return nil
}

func (s *memorySession) release() {
	s.done = true
	<-s.lock
}
