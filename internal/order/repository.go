package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Repository persists order rows. Exists is the idempotency gate preventing
// duplicate saga instances for the same order id.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Exists(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Get(ctx context.Context, id string) (*Order, error)
	// ListStale returns non-terminal orders untouched for longer than
	// olderThan, for crash reconciliation.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*Order, error)
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, o *Order) error {
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, from_location, to_location, room, road_bikes, dirt_bikes, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.From, o.To, o.Room, o.RoadBikes, o.DirtBikes, o.Amount, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check order existence: %w", err)
	}
	return exists, nil
}

// UpdateStatus moves the order along the status graph. The row is locked
// while the transition is checked so concurrent writers cannot interleave an
// illegal step.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, "SELECT status FROM orders WHERE id = $1 FOR UPDATE", id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read order status: %w", err)
	}
	if !CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}
	if _, err := tx.Exec(ctx, "UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1",
		id, status, time.Now()); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.db.QueryRow(ctx, `
		SELECT id, from_location, to_location, room, road_bikes, dirt_bikes, amount, status, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.From, &o.To, &o.Room, &o.RoadBikes, &o.DirtBikes, &o.Amount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

func (r *PostgresRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, from_location, to_location, room, road_bikes, dirt_bikes, amount, status, created_at, updated_at
		FROM orders
		WHERE status IN ($1, $2, $3) AND updated_at < $4
		ORDER BY updated_at ASC
	`, StatusPending, StatusItemsConfirmed, StatusPaymentDenied, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.From, &o.To, &o.Room, &o.RoadBikes, &o.DirtBikes, &o.Amount, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// MemoryRepository is the in-memory Repository used by tests and demos.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func (r *MemoryRepository) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return ErrDuplicateOrder
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	clone := *o
	r.orders[o.ID] = &clone
	return nil
}

func (r *MemoryRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.orders[id]
	return ok, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(o.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, status)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (r *MemoryRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var stale []*Order
	for _, o := range r.orders {
		if !o.Status.Terminal() && o.UpdatedAt.Before(cutoff) {
			clone := *o
			stale = append(stale, &clone)
		}
	}
	return stale, nil
}
