// Package order owns the order row and its status lifecycle.
package order

import "time"

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusItemsConfirmed Status = "ITEMS_CONFIRMED"
	StatusItemsDenied    Status = "ITEMS_DENIED"
	StatusPaymentDenied  Status = "PAYMENT_DENIED"
	StatusApproved       Status = "APPROVED"
	StatusCancelled      Status = "CANCELLED"
	StatusError          Status = "ERROR"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusItemsConfirmed, StatusItemsDenied},
	StatusItemsConfirmed: {StatusApproved, StatusPaymentDenied},
	StatusPaymentDenied:  {StatusItemsDenied},
	StatusApproved:       {StatusCancelled},
}

// CanTransition reports whether the status graph allows from -> to.
// ERROR is reachable from anywhere.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition except ERROR can follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusItemsDenied, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Order is the saga's working record. The repository is the only writer of
// durable state; the orchestrator holds a copy during a run and writes back
// on every transition.
type Order struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Room      string    `json:"room"`
	RoadBikes int       `json:"road_bike_requested"`
	DirtBikes int       `json:"dirt_bike_requested"`
	Amount    float64   `json:"amount"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
