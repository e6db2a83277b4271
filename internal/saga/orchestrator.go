package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

// ErrNotCancellable is returned by Cancel for orders that are not APPROVED.
var ErrNotCancellable = errors.New("order is not approved, cannot cancel")

type resource int

const (
	resourceBike resource = iota
	resourceHotel
)

// instance is one in-flight saga. bike/hotel stay nil until the respective
// response arrives; the join fires when both are set or the timer expires.
type instance struct {
	order *order.Order
	state State
	bike  *bool
	hotel *bool
	timer *time.Timer
}

// Orchestrator owns the saga state machine for every active order. All
// instance mutation happens under mu; effects execute outside it so handler
// callbacks can re-enter freely.
type Orchestrator struct {
	repo        order.Repository
	bus         rabbit.Bus
	log         zerolog.Logger
	joinTimeout time.Duration

	mu     sync.Mutex
	active map[string]*instance
}

func New(repo order.Repository, bus rabbit.Bus, joinTimeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		bus:         bus,
		log:         log.With().Str("component", "saga").Logger(),
		joinTimeout: joinTimeout,
		active:      make(map[string]*instance),
	}
}

// Start persists the order as PENDING and fans out the bike and hotel
// reservation commands. A duplicate order id is rejected before anything
// mutates.
func (o *Orchestrator) Start(ctx context.Context, ord *order.Order) error {
	exists, err := o.repo.Exists(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("check order existence: %w", err)
	}
	if exists {
		return order.ErrDuplicateOrder
	}

	ord.Status = order.StatusPending
	if err := o.repo.Create(ctx, ord); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}

	inst := &instance{order: ord, state: StateStart}
	o.mu.Lock()
	o.active[ord.ID] = inst
	inst.timer = time.AfterFunc(o.joinTimeout, func() { o.joinTimedOut(ord.ID) })
	o.mu.Unlock()

	o.log.Info().Str("order_id", ord.ID).Msg("saga started, fanning out reservations")

	bikeReq, err := json.Marshal(contract.BikeRequest{
		OrderID:   ord.ID,
		RoadBikes: ord.RoadBikes,
		DirtBikes: ord.DirtBikes,
	})
	if err != nil {
		o.fail(ctx, ord.ID, fmt.Errorf("encode bike request: %w", err))
		return nil
	}
	hotelReq, err := json.Marshal(contract.HotelRequest{
		OrderID: ord.ID,
		From:    ord.From,
		To:      ord.To,
		Room:    ord.Room,
	})
	if err != nil {
		o.fail(ctx, ord.ID, fmt.Errorf("encode hotel request: %w", err))
		return nil
	}
	if err := o.bus.Publish(ctx, contract.Exchange, contract.KeyBikeRequest, bikeReq); err != nil {
		o.fail(ctx, ord.ID, err)
		return nil
	}
	if err := o.bus.Publish(ctx, contract.Exchange, contract.KeyHotelRequest, hotelReq); err != nil {
		o.fail(ctx, ord.ID, err)
	}
	return nil
}

// HandleBooking consumes a validated booking order from the intake queue
// and starts its saga.
func (o *Orchestrator) HandleBooking(ctx context.Context, body []byte) {
	booking, err := contract.DecodeBookingOrder(body)
	if err != nil {
		o.log.Error().Err(err).Msg("dropping malformed booking order")
		return
	}
	ord := &order.Order{
		ID:        booking.OrderID,
		From:      booking.From,
		To:        booking.To,
		Room:      booking.Room,
		RoadBikes: booking.RoadBikes,
		DirtBikes: booking.DirtBikes,
		Amount:    booking.Amount,
	}
	if err := o.Start(ctx, ord); err != nil {
		o.log.Warn().Err(err).Str("order_id", booking.OrderID).Msg("booking rejected")
	}
}

// HandleBikeResponse records the bike service's decision for the join.
func (o *Orchestrator) HandleBikeResponse(ctx context.Context, body []byte) {
	o.handleReservationResponse(ctx, body, resourceBike, contract.BikeApproved)
}

// HandleHotelResponse records the hotel service's decision for the join.
func (o *Orchestrator) HandleHotelResponse(ctx context.Context, body []byte) {
	o.handleReservationResponse(ctx, body, resourceHotel, contract.HotelApproved)
}

func (o *Orchestrator) handleReservationResponse(ctx context.Context, body []byte, res resource, approvedSentinel string) {
	resp, err := contract.DecodeResponse(body)
	if err != nil {
		o.log.Error().Err(err).Msg("dropping malformed reservation response")
		return
	}
	approved := resp.Status == approvedSentinel

	o.mu.Lock()
	inst, ok := o.active[resp.OrderID]
	if !ok || inst.state != StateStart {
		o.mu.Unlock()
		o.log.Warn().Str("order_id", resp.OrderID).Str("status", resp.Status).
			Msg("response with no active saga, dropping")
		return
	}
	slot := &inst.bike
	if res == resourceHotel {
		slot = &inst.hotel
	}
	if *slot != nil {
		o.mu.Unlock()
		o.log.Warn().Str("order_id", resp.OrderID).Str("status", resp.Status).
			Msg("duplicate reservation response, dropping")
		return
	}
	*slot = &approved
	if inst.bike == nil || inst.hotel == nil {
		// Logical join: nothing happens until both responses are in.
		o.mu.Unlock()
		return
	}
	inst.timer.Stop()
	event := ItemsResolved{BikeApproved: *inst.bike, HotelApproved: *inst.hotel}
	o.stepLocked(ctx, inst, event)
}

// HandlePaymentResponse moves an ItemsConfirmed saga to its terminal state.
func (o *Orchestrator) HandlePaymentResponse(ctx context.Context, body []byte) {
	resp, err := contract.DecodeResponse(body)
	if err != nil {
		o.log.Error().Err(err).Msg("dropping malformed payment response")
		return
	}

	o.mu.Lock()
	inst, ok := o.active[resp.OrderID]
	if !ok || inst.state != StateItemsConfirmed {
		o.mu.Unlock()
		o.log.Warn().Str("order_id", resp.OrderID).Str("status", resp.Status).
			Msg("payment response with no awaiting saga, dropping")
		return
	}
	o.stepLocked(ctx, inst, PaymentResolved{Approved: resp.Status == contract.PaymentApproved})
}

// HandleBikeRevertAck and HandleHotelRevertAck log the participants'
// compensation confirmations.
func (o *Orchestrator) HandleBikeRevertAck(ctx context.Context, body []byte) {
	o.handleRevertAck(body, "bike")
}

func (o *Orchestrator) HandleHotelRevertAck(ctx context.Context, body []byte) {
	o.handleRevertAck(body, "hotel")
}

func (o *Orchestrator) handleRevertAck(body []byte, service string) {
	resp, err := contract.DecodeResponse(body)
	if err != nil {
		o.log.Error().Err(err).Msg("dropping malformed revert ack")
		return
	}
	o.log.Info().Str("order_id", resp.OrderID).Str("service", service).
		Str("status", resp.Status).Msg("reservation reverted")
}

// Cancel releases an APPROVED order: both participants get a compensation
// command and the order moves to CANCELLED. Anything else is rejected.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string) error {
	ord, err := o.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if ord.Status != order.StatusApproved {
		o.log.Warn().Str("order_id", orderID).Str("status", string(ord.Status)).
			Msg("cancellation rejected")
		return ErrNotCancellable
	}
	if err := o.repo.UpdateStatus(ctx, orderID, order.StatusCancelled); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	bikeErr := o.compensate(ctx, orderID, contract.KeyBikeSagaRequest)
	hotelErr := o.compensate(ctx, orderID, contract.KeyHotelSagaRequest)
	if err := errors.Join(bikeErr, hotelErr); err != nil {
		// The reservations are still held; flag the order so the ledgers
		// get reconciled instead of reporting a clean cancellation.
		o.log.Error().Err(err).Str("order_id", orderID).Msg("cancellation compensations lost")
		if uerr := o.repo.UpdateStatus(ctx, orderID, order.StatusError); uerr != nil {
			o.log.Error().Err(uerr).Str("order_id", orderID).Msg("failed to flag order")
		}
		return fmt.Errorf("issue compensations: %w", err)
	}
	o.log.Info().Str("order_id", orderID).Msg("order cancelled, compensations issued")
	return nil
}

// joinTimedOut resolves a join whose window expired: whatever is missing
// counts as denied, so the resource that did succeed gets compensated.
func (o *Orchestrator) joinTimedOut(orderID string) {
	ctx := context.Background()
	o.mu.Lock()
	inst, ok := o.active[orderID]
	if !ok || inst.state != StateStart {
		o.mu.Unlock()
		return
	}
	event := ItemsResolved{
		BikeApproved:  inst.bike != nil && *inst.bike,
		HotelApproved: inst.hotel != nil && *inst.hotel,
	}
	o.log.Warn().Str("order_id", orderID).
		Bool("bike_resolved", inst.bike != nil).
		Bool("hotel_resolved", inst.hotel != nil).
		Msg("join timed out, outcome is ambiguous; treating missing responses as denied")
	o.stepLocked(ctx, inst, event)
}

// fail moves a saga to Errored and flags the persisted order ERROR. The flag
// is written even when the instance is already gone: an effect failing after
// a terminal transition would otherwise leave the reservation held with
// nothing pointing at it.
func (o *Orchestrator) fail(ctx context.Context, orderID string, cause error) {
	o.log.Error().Err(cause).Str("order_id", orderID).Msg("saga cannot make progress")
	o.mu.Lock()
	if inst, ok := o.active[orderID]; ok {
		o.stepLocked(ctx, inst, Failed{Err: cause})
	} else {
		o.mu.Unlock()
	}
	if err := o.repo.UpdateStatus(ctx, orderID, order.StatusError); err != nil {
		o.log.Error().Err(err).Str("order_id", orderID).Msg("failed to flag order")
	}
}

// stepLocked advances the instance under o.mu, then releases the lock and
// executes the effects. State is committed before any effect runs, so a
// duplicate or late event observes the new state and is dropped.
func (o *Orchestrator) stepLocked(ctx context.Context, inst *instance, event Event) {
	next, effects, err := Transition(inst.state, event)
	if err != nil {
		o.mu.Unlock()
		o.log.Error().Err(err).Str("order_id", inst.order.ID).Msg("invalid saga transition")
		return
	}
	inst.state = next
	if next.Terminal() {
		inst.timer.Stop()
		delete(o.active, inst.order.ID)
	}
	o.mu.Unlock()

	o.log.Info().Str("order_id", inst.order.ID).Str("state", next.String()).Msg("saga advanced")
	for _, effect := range effects {
		if err := o.execute(ctx, inst, effect); err != nil {
			o.fail(ctx, inst.order.ID, err)
			return
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, inst *instance, effect Effect) error {
	switch e := effect.(type) {
	case SetStatus:
		inst.order.Status = e.Status
		if err := o.repo.UpdateStatus(ctx, inst.order.ID, e.Status); err != nil {
			return fmt.Errorf("persist status %s: %w", e.Status, err)
		}
		return nil
	case RequestPayment:
		body, err := json.Marshal(contract.PaymentRequest{OrderID: inst.order.ID, Amount: inst.order.Amount})
		if err != nil {
			return err
		}
		return o.bus.Publish(ctx, contract.Exchange, contract.KeyPaymentRequest, body)
	case CompensateBike:
		return o.compensate(ctx, inst.order.ID, contract.KeyBikeSagaRequest)
	case CompensateHotel:
		return o.compensate(ctx, inst.order.ID, contract.KeyHotelSagaRequest)
	}
	return fmt.Errorf("unknown effect %T", effect)
}

func (o *Orchestrator) compensate(ctx context.Context, orderID, routingKey string) error {
	body, err := json.Marshal(contract.Compensation{OrderID: orderID})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, contract.Exchange, routingKey, body); err != nil {
		return fmt.Errorf("publish compensation: %w", err)
	}
	return nil
}
