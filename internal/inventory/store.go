// Package inventory implements the domain participants: an atomic
// check-and-reserve store, a per-order ledger for duplicate handling, and
// the message handlers that tie them to the broker.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Resource names used as store keys.
const (
	ResourceRoadBike = "road_bike"
	ResourceDirtBike = "dirt_bike"
	ResourceRoom     = "room"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Store holds non-negative counts per resource. Reserve is a single atomic
// check-and-decrement across all requested resources: either every count is
// decremented or none is.
type Store interface {
	Reserve(ctx context.Context, want map[string]int) error
	Release(ctx context.Context, want map[string]int) error
	Available(ctx context.Context, resource string) (int, error)
}

// MemoryStore is the mutex-guarded in-memory Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryStore(counts map[string]int) *MemoryStore {
	s := &MemoryStore{counts: make(map[string]int, len(counts))}
	for r, n := range counts {
		s.counts[r] = n
	}
	return s
}

func (s *MemoryStore) Reserve(ctx context.Context, want map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for resource, n := range want {
		if s.counts[resource] < n {
			return fmt.Errorf("%w: %s requested %d, available %d",
				ErrInsufficientStock, resource, n, s.counts[resource])
		}
	}
	for resource, n := range want {
		s.counts[resource] -= n
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, want map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for resource, n := range want {
		s.counts[resource] += n
	}
	return nil
}

func (s *MemoryStore) Available(ctx context.Context, resource string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[resource], nil
}

// PostgresStore keeps counts in an inventory table (resource TEXT PRIMARY
// KEY, available INT). The guarded UPDATE makes check-and-decrement atomic
// per resource; the surrounding transaction makes the set all-or-nothing.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, want map[string]int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for resource, n := range want {
		tag, err := tx.Exec(ctx,
			"UPDATE inventory SET available = available - $2 WHERE resource = $1 AND available >= $2",
			resource, n)
		if err != nil {
			return fmt.Errorf("failed to reserve %s: %w", resource, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s requested %d", ErrInsufficientStock, resource, n)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, want map[string]int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for resource, n := range want {
		if _, err := tx.Exec(ctx,
			"UPDATE inventory SET available = available + $2 WHERE resource = $1",
			resource, n); err != nil {
			return fmt.Errorf("failed to release %s: %w", resource, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	return nil
}

func (s *PostgresStore) Available(ctx context.Context, resource string) (int, error) {
	var available int
	err := s.db.QueryRow(ctx, "SELECT available FROM inventory WHERE resource = $1", resource).Scan(&available)
	if err != nil {
		return 0, fmt.Errorf("failed to read availability of %s: %w", resource, err)
	}
	return available, nil
}
