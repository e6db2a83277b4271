package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Booking statuses tracked by a participant for its own orders.
const (
	BookingPending   = "PENDING"
	BookingApproved  = "APPROVED"
	BookingDenied    = "DENIED"
	BookingCancelled = "CANCELLED"
)

var ErrBookingNotFound = errors.New("booking not found")

// Booking is a participant's record of one order: what was asked for and
// what was decided. Its existence is the duplicate-delivery gate; its
// quantities are what a compensation gives back.
type Booking struct {
	OrderID    string
	Quantities map[string]int
	Status     string
}

type Ledger interface {
	Get(ctx context.Context, orderID string) (*Booking, error)
	Create(ctx context.Context, b *Booking) error
	UpdateStatus(ctx context.Context, orderID, status string) error
}

type MemoryLedger struct {
	mu       sync.RWMutex
	bookings map[string]*Booking
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{bookings: make(map[string]*Booking)}
}

func (l *MemoryLedger) Get(ctx context.Context, orderID string) (*Booking, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bookings[orderID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	clone := *b
	return &clone, nil
}

func (l *MemoryLedger) Create(ctx context.Context, b *Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bookings[b.OrderID]; ok {
		return fmt.Errorf("booking %s already exists", b.OrderID)
	}
	clone := *b
	l.bookings[b.OrderID] = &clone
	return nil
}

func (l *MemoryLedger) UpdateStatus(ctx context.Context, orderID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[orderID]
	if !ok {
		return ErrBookingNotFound
	}
	b.Status = status
	return nil
}

// PostgresLedger stores bookings in a bookings table (order_id TEXT PRIMARY
// KEY, quantities JSONB, status TEXT, updated_at TIMESTAMPTZ).
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Get(ctx context.Context, orderID string) (*Booking, error) {
	var b Booking
	var quantities []byte
	err := l.db.QueryRow(ctx,
		"SELECT order_id, quantities, status FROM bookings WHERE order_id = $1", orderID).
		Scan(&b.OrderID, &quantities, &b.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if err := json.Unmarshal(quantities, &b.Quantities); err != nil {
		return nil, fmt.Errorf("failed to decode booking quantities: %w", err)
	}
	return &b, nil
}

func (l *PostgresLedger) Create(ctx context.Context, b *Booking) error {
	quantities, err := json.Marshal(b.Quantities)
	if err != nil {
		return fmt.Errorf("failed to encode booking quantities: %w", err)
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO bookings (order_id, quantities, status, updated_at)
		VALUES ($1, $2, $3, $4)
	`, b.OrderID, quantities, b.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (l *PostgresLedger) UpdateStatus(ctx context.Context, orderID, status string) error {
	tag, err := l.db.Exec(ctx,
		"UPDATE bookings SET status = $2, updated_at = $3 WHERE order_id = $1",
		orderID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}
