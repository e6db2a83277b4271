package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

// Participant consumes reservation and compensation commands for one
// resource pool and publishes the decision back to the order service. Both
// handlers are idempotent by order id and never return: a delivery that
// cannot be processed is logged and dropped.
type Participant struct {
	name   string
	store  Store
	ledger Ledger
	bus    rabbit.Bus
	log    zerolog.Logger

	responseKey string
	ackKey      string
	approved    string
	denied      string
	reverted    string
	decode      func(body []byte) (orderID string, want map[string]int, err error)
}

// NewBikeParticipant wires a Participant to the bike contract: road/dirt
// quantities in, BIKEAPPROVED/BIKEDENIED out.
func NewBikeParticipant(store Store, ledger Ledger, bus rabbit.Bus, log zerolog.Logger) *Participant {
	return &Participant{
		name:        "bike",
		store:       store,
		ledger:      ledger,
		bus:         bus,
		log:         log.With().Str("component", "bike-participant").Logger(),
		responseKey: contract.KeyBikeResponse,
		ackKey:      contract.KeyBikeSagaAck,
		approved:    contract.BikeApproved,
		denied:      contract.BikeDenied,
		reverted:    contract.BikeReverted,
		decode: func(body []byte) (string, map[string]int, error) {
			req, err := contract.DecodeBikeRequest(body)
			if err != nil {
				return "", nil, err
			}
			return req.OrderID, map[string]int{
				ResourceRoadBike: req.RoadBikes,
				ResourceDirtBike: req.DirtBikes,
			}, nil
		},
	}
}

// NewHotelParticipant wires a Participant to the hotel contract: one room
// per booking, HOTELAPPROVED/HOTELDENIED out.
func NewHotelParticipant(store Store, ledger Ledger, bus rabbit.Bus, log zerolog.Logger) *Participant {
	return &Participant{
		name:        "hotel",
		store:       store,
		ledger:      ledger,
		bus:         bus,
		log:         log.With().Str("component", "hotel-participant").Logger(),
		responseKey: contract.KeyHotelResponse,
		ackKey:      contract.KeyHotelSagaAck,
		approved:    contract.HotelApproved,
		denied:      contract.HotelDenied,
		reverted:    contract.HotelReverted,
		decode: func(body []byte) (string, map[string]int, error) {
			req, err := contract.DecodeHotelRequest(body)
			if err != nil {
				return "", nil, err
			}
			return req.OrderID, map[string]int{ResourceRoom: 1}, nil
		},
	}
}

// HandleReservation processes one reservation command. A duplicate delivery
// re-emits the recorded decision without touching inventory again.
func (p *Participant) HandleReservation(ctx context.Context, body []byte) {
	orderID, want, err := p.decode(body)
	if err != nil {
		p.log.Error().Err(err).Msg("dropping malformed reservation command")
		return
	}
	log := p.log.With().Str("order_id", orderID).Logger()

	if existing, err := p.ledger.Get(ctx, orderID); err == nil {
		log.Info().Str("status", existing.Status).Msg("duplicate reservation, re-emitting decision")
		p.respond(ctx, log, p.responseKey, orderID, p.sentinelFor(existing.Status))
		return
	} else if !errors.Is(err, ErrBookingNotFound) {
		log.Error().Err(err).Msg("failed to look up booking")
		return
	}

	if err := p.ledger.Create(ctx, &Booking{OrderID: orderID, Quantities: want, Status: BookingPending}); err != nil {
		log.Error().Err(err).Msg("failed to create booking")
		return
	}

	if err := p.store.Reserve(ctx, want); err != nil {
		if !errors.Is(err, ErrInsufficientStock) {
			log.Error().Err(err).Msg("reservation failed")
		} else {
			log.Info().Err(err).Msg("reservation denied")
		}
		if err := p.ledger.UpdateStatus(ctx, orderID, BookingDenied); err != nil {
			log.Error().Err(err).Msg("failed to record denial")
		}
		p.respond(ctx, log, p.responseKey, orderID, p.denied)
		return
	}

	if err := p.ledger.UpdateStatus(ctx, orderID, BookingApproved); err != nil {
		log.Error().Err(err).Msg("failed to record approval")
	}
	log.Info().Msg("reservation approved")
	p.respond(ctx, log, p.responseKey, orderID, p.approved)
}

// HandleCompensation releases a previously approved reservation. Anything
// not in APPROVED state is a no-op.
func (p *Participant) HandleCompensation(ctx context.Context, body []byte) {
	comp, err := contract.DecodeCompensation(body)
	if err != nil {
		p.log.Error().Err(err).Msg("dropping malformed compensation command")
		return
	}
	log := p.log.With().Str("order_id", comp.OrderID).Logger()

	booking, err := p.ledger.Get(ctx, comp.OrderID)
	if err != nil {
		log.Warn().Err(err).Msg("compensation for unknown order, ignoring")
		return
	}
	if booking.Status != BookingApproved {
		log.Warn().Str("status", booking.Status).Msg("booking is not approved, nothing to revert")
		return
	}

	if err := p.store.Release(ctx, booking.Quantities); err != nil {
		log.Error().Err(err).Msg("failed to release inventory")
		return
	}
	if err := p.ledger.UpdateStatus(ctx, comp.OrderID, BookingCancelled); err != nil {
		log.Error().Err(err).Msg("failed to record cancellation")
	}
	log.Info().Msg("reservation reverted")
	p.respond(ctx, log, p.ackKey, comp.OrderID, p.reverted)
}

func (p *Participant) sentinelFor(status string) string {
	if status == BookingApproved {
		return p.approved
	}
	return p.denied
}

func (p *Participant) respond(ctx context.Context, log zerolog.Logger, routingKey, orderID, status string) {
	body, err := json.Marshal(contract.Response{OrderID: orderID, Status: status})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		return
	}
	if err := p.bus.Publish(ctx, contract.Exchange, routingKey, body); err != nil {
		log.Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish response")
	}
}
