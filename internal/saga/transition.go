// Package saga drives the booking transaction: fan out reservations,
// join the responses, charge the payment, and compensate whatever had
// succeeded when a step fails.
package saga

import (
	"fmt"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
)

type State int

const (
	StateStart State = iota
	StateItemsConfirmed
	StateItemsDenied
	StatePaymentAccepted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateItemsConfirmed:
		return "ItemsConfirmed"
	case StateItemsDenied:
		return "ItemsDenied"
	case StatePaymentAccepted:
		return "PaymentAccepted"
	case StateErrored:
		return "Errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the saga instance is done and can be dropped
// from the active set.
func (s State) Terminal() bool {
	return s == StateItemsDenied || s == StatePaymentAccepted || s == StateErrored
}

// Event is what moves a saga forward: a resolved join, a payment outcome,
// or an unrecoverable failure.
type Event interface{ isEvent() }

// ItemsResolved carries the joined outcome of both reservation requests. A
// response missing at the timeout counts as not approved.
type ItemsResolved struct {
	BikeApproved  bool
	HotelApproved bool
}

// PaymentResolved carries the payment service's decision.
type PaymentResolved struct {
	Approved bool
}

// Failed marks a saga that cannot make progress (publish failure,
// persistence failure).
type Failed struct {
	Err error
}

func (ItemsResolved) isEvent()   {}
func (PaymentResolved) isEvent() {}
func (Failed) isEvent()          {}

// Effect is a side effect the orchestrator must execute, in order. SetStatus
// effects precede the effect they gate, so every transition is persisted
// before the next command goes out.
type Effect interface{ isEffect() }

type SetStatus struct{ Status order.Status }
type RequestPayment struct{}
type CompensateBike struct{}
type CompensateHotel struct{}

func (SetStatus) isEffect()       {}
func (RequestPayment) isEffect()  {}
func (CompensateBike) isEffect()  {}
func (CompensateHotel) isEffect() {}

// Transition is the pure state machine: given the current state and an
// event it yields the next state and the effects to execute. It never
// compensates a resource that was not approved.
func Transition(state State, event Event) (State, []Effect, error) {
	if _, failed := event.(Failed); failed {
		return StateErrored, nil, nil
	}

	switch state {
	case StateStart:
		e, ok := event.(ItemsResolved)
		if !ok {
			return state, nil, fmt.Errorf("unexpected %T in %s", event, state)
		}
		if e.BikeApproved && e.HotelApproved {
			return StateItemsConfirmed, []Effect{
				SetStatus{order.StatusItemsConfirmed},
				RequestPayment{},
			}, nil
		}
		effects := []Effect{SetStatus{order.StatusItemsDenied}}
		if e.BikeApproved {
			effects = append(effects, CompensateBike{})
		}
		if e.HotelApproved {
			effects = append(effects, CompensateHotel{})
		}
		return StateItemsDenied, effects, nil

	case StateItemsConfirmed:
		e, ok := event.(PaymentResolved)
		if !ok {
			return state, nil, fmt.Errorf("unexpected %T in %s", event, state)
		}
		if e.Approved {
			return StatePaymentAccepted, []Effect{SetStatus{order.StatusApproved}}, nil
		}
		// Payment denial compensates everything: both reservations were
		// approved to get here.
		return StateItemsDenied, []Effect{
			SetStatus{order.StatusPaymentDenied},
			CompensateBike{},
			CompensateHotel{},
			SetStatus{order.StatusItemsDenied},
		}, nil
	}

	return state, nil, fmt.Errorf("unexpected %T in %s", event, state)
}
