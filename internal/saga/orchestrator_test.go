package saga_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/inventory"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/payment"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/saga"
)

// testBus is what env needs from a bus: publishing plus local subscription.
type testBus interface {
	rabbit.Bus
	Subscribe(routingKey string, handler rabbit.Handler)
}

// failingBus rejects publishes for selected routing keys and delegates the
// rest to the wrapped MemoryBus.
type failingBus struct {
	*rabbit.MemoryBus
	mu   sync.Mutex
	deny map[string]bool
}

func newFailingBus() *failingBus {
	return &failingBus{MemoryBus: rabbit.NewMemoryBus(), deny: make(map[string]bool)}
}

func (b *failingBus) denyKeys(keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		b.deny[k] = true
	}
}

func (b *failingBus) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	denied := b.deny[routingKey]
	b.mu.Unlock()
	if denied {
		return errors.New("broker unavailable")
	}
	return b.MemoryBus.Publish(ctx, exchange, routingKey, body)
}

// env wires the orchestrator against real participants over the in-memory
// bus. Delivery is synchronous, so a full saga completes inside Start.
type env struct {
	bus        testBus
	repo       order.Repository
	bikeStore  *inventory.MemoryStore
	hotelStore *inventory.MemoryStore
	orch       *saga.Orchestrator

	mu              sync.Mutex
	paymentRequests int
}

type envConfig struct {
	rooms          int
	paymentCeiling float64
	joinTimeout    time.Duration
	withHotel      bool
	withPayment    bool
	bus            testBus
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()
	log := zerolog.Nop()
	bus := cfg.bus
	if bus == nil {
		bus = rabbit.NewMemoryBus()
	}
	repo := order.NewMemoryRepository()

	e := &env{
		bus:        bus,
		repo:       repo,
		bikeStore:  inventory.NewMemoryStore(map[string]int{inventory.ResourceRoadBike: 5, inventory.ResourceDirtBike: 5}),
		hotelStore: inventory.NewMemoryStore(map[string]int{inventory.ResourceRoom: cfg.rooms}),
	}
	e.orch = saga.New(repo, bus, cfg.joinTimeout, log)

	bike := inventory.NewBikeParticipant(e.bikeStore, inventory.NewMemoryLedger(), bus, log)
	bus.Subscribe(contract.KeyBikeRequest, bike.HandleReservation)
	bus.Subscribe(contract.KeyBikeSagaRequest, bike.HandleCompensation)

	if cfg.withHotel {
		hotel := inventory.NewHotelParticipant(e.hotelStore, inventory.NewMemoryLedger(), bus, log)
		bus.Subscribe(contract.KeyHotelRequest, hotel.HandleReservation)
		bus.Subscribe(contract.KeyHotelSagaRequest, hotel.HandleCompensation)
	}

	bus.Subscribe(contract.KeyPaymentRequest, func(ctx context.Context, body []byte) {
		e.mu.Lock()
		e.paymentRequests++
		e.mu.Unlock()
	})
	if cfg.withPayment {
		proc := payment.NewProcessor(bus, cfg.paymentCeiling, log)
		bus.Subscribe(contract.KeyPaymentRequest, proc.HandleRequest)
	}

	bus.Subscribe(contract.KeyBikeResponse, e.orch.HandleBikeResponse)
	bus.Subscribe(contract.KeyHotelResponse, e.orch.HandleHotelResponse)
	bus.Subscribe(contract.KeyPaymentResponse, e.orch.HandlePaymentResponse)
	bus.Subscribe(contract.KeyBikeSagaAck, e.orch.HandleBikeRevertAck)
	bus.Subscribe(contract.KeyHotelSagaAck, e.orch.HandleHotelRevertAck)
	return e
}

func fullEnv(t *testing.T) *env {
	return newEnv(t, envConfig{rooms: 10, paymentCeiling: 1000, joinTimeout: time.Minute, withHotel: true, withPayment: true})
}

func vacationOrder(id string, amount float64) *order.Order {
	return &order.Order{
		ID:        id,
		From:      "2026-09-01",
		To:        "2026-09-08",
		Room:      "suite-1",
		RoadBikes: 2,
		DirtBikes: 1,
		Amount:    amount,
	}
}

func (e *env) status(t *testing.T, orderID string) order.Status {
	t.Helper()
	got, err := e.repo.Get(context.Background(), orderID)
	require.NoError(t, err)
	return got.Status
}

func (e *env) available(t *testing.T, s *inventory.MemoryStore, resource string) int {
	t.Helper()
	n, err := s.Available(context.Background(), resource)
	require.NoError(t, err)
	return n
}

func TestSagaHappyPathEndsApproved(t *testing.T) {
	e := fullEnv(t)

	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 300)))

	assert.Equal(t, order.StatusApproved, e.status(t, "order-1"))
	assert.Equal(t, 3, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 4, e.available(t, e.bikeStore, inventory.ResourceDirtBike))
	assert.Equal(t, 9, e.available(t, e.hotelStore, inventory.ResourceRoom))
}

func TestSagaHotelDeniedCompensatesBike(t *testing.T) {
	e := newEnv(t, envConfig{rooms: 0, paymentCeiling: 1000, joinTimeout: time.Minute, withHotel: true, withPayment: true})

	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 300)))

	assert.Equal(t, order.StatusItemsDenied, e.status(t, "order-1"))
	// The bike reservation succeeded before the hotel denial, so it is rolled back.
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceDirtBike))
	assert.Equal(t, 0, e.paymentCount())
}

func TestSagaPaymentDeniedCompensatesBoth(t *testing.T) {
	e := fullEnv(t)

	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 5000)))

	assert.Equal(t, order.StatusItemsDenied, e.status(t, "order-1"))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceDirtBike))
	assert.Equal(t, 10, e.available(t, e.hotelStore, inventory.ResourceRoom))
}

func TestDuplicateOrderIsRejected(t *testing.T) {
	e := fullEnv(t)

	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 300)))
	err := e.orch.Start(context.Background(), vacationOrder("order-1", 300))
	require.ErrorIs(t, err, order.ErrDuplicateOrder)

	// The first run's reservations are the only ones taken.
	assert.Equal(t, 3, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 9, e.available(t, e.hotelStore, inventory.ResourceRoom))
}

func TestResponseWithoutActiveSagaIsDropped(t *testing.T) {
	e := fullEnv(t)

	body, err := json.Marshal(contract.Response{OrderID: "ghost", Status: contract.BikeApproved})
	require.NoError(t, err)
	e.orch.HandleBikeResponse(context.Background(), body)

	_, err = e.repo.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, 0, e.paymentCount())
}

func TestDuplicateResponseDoesNotFireJoinTwice(t *testing.T) {
	// No participants wired: responses are injected by hand so the join can
	// be probed between them. No payment processor either, so the saga
	// parks in ItemsConfirmed and duplicates have a live instance to hit.
	e := newEnv(t, envConfig{rooms: 10, paymentCeiling: 1000, joinTimeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, e.orch.Start(ctx, vacationOrder("order-1", 300)))

	bike, err := json.Marshal(contract.Response{OrderID: "order-1", Status: contract.BikeApproved})
	require.NoError(t, err)
	hotel, err := json.Marshal(contract.Response{OrderID: "order-1", Status: contract.HotelApproved})
	require.NoError(t, err)

	e.orch.HandleBikeResponse(ctx, bike)
	e.orch.HandleBikeResponse(ctx, bike) // redelivery before the join
	e.orch.HandleHotelResponse(ctx, hotel)
	e.orch.HandleHotelResponse(ctx, hotel) // redelivery after the join

	assert.Equal(t, 1, e.paymentCount())
	assert.Equal(t, order.StatusItemsConfirmed, e.status(t, "order-1"))
}

func TestJoinTimeoutCompensatesTheSurvivor(t *testing.T) {
	// The hotel service never answers. After the window expires the missing
	// response counts as denied and the bike reservation is released.
	e := newEnv(t, envConfig{rooms: 10, paymentCeiling: 1000, joinTimeout: 30 * time.Millisecond, withPayment: true, withHotel: false})

	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 300)))

	// The status write precedes the compensation, so wait on the stock.
	require.Eventually(t, func() bool {
		return e.available(t, e.bikeStore, inventory.ResourceRoadBike) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, order.StatusItemsDenied, e.status(t, "order-1"))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceDirtBike))
	assert.Equal(t, 0, e.paymentCount())
}

func TestCancelApprovedOrderReleasesEverything(t *testing.T) {
	e := fullEnv(t)
	ctx := context.Background()

	require.NoError(t, e.orch.Start(ctx, vacationOrder("order-1", 300)))
	require.Equal(t, order.StatusApproved, e.status(t, "order-1"))

	require.NoError(t, e.orch.Cancel(ctx, "order-1"))

	assert.Equal(t, order.StatusCancelled, e.status(t, "order-1"))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 5, e.available(t, e.bikeStore, inventory.ResourceDirtBike))
	assert.Equal(t, 10, e.available(t, e.hotelStore, inventory.ResourceRoom))
}

func TestCancelNonApprovedOrderIsRejected(t *testing.T) {
	e := newEnv(t, envConfig{rooms: 0, paymentCeiling: 1000, joinTimeout: time.Minute, withHotel: true, withPayment: true})
	ctx := context.Background()

	require.NoError(t, e.orch.Start(ctx, vacationOrder("order-1", 300)))
	require.Equal(t, order.StatusItemsDenied, e.status(t, "order-1"))

	err := e.orch.Cancel(ctx, "order-1")
	require.ErrorIs(t, err, saga.ErrNotCancellable)
	assert.Equal(t, order.StatusItemsDenied, e.status(t, "order-1"))
}

func TestCancelUnknownOrder(t *testing.T) {
	e := fullEnv(t)
	err := e.orch.Cancel(context.Background(), "ghost")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCancelReportsLostCompensations(t *testing.T) {
	bus := newFailingBus()
	e := newEnv(t, envConfig{rooms: 10, paymentCeiling: 1000, joinTimeout: time.Minute, withHotel: true, withPayment: true, bus: bus})
	ctx := context.Background()

	require.NoError(t, e.orch.Start(ctx, vacationOrder("order-1", 300)))
	require.Equal(t, order.StatusApproved, e.status(t, "order-1"))

	bus.denyKeys(contract.KeyBikeSagaRequest, contract.KeyHotelSagaRequest)
	err := e.orch.Cancel(ctx, "order-1")
	require.Error(t, err)

	// The reservations are still held, so the order is flagged for
	// reconciliation rather than reported cleanly cancelled.
	assert.Equal(t, order.StatusError, e.status(t, "order-1"))
	assert.Equal(t, 3, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 9, e.available(t, e.hotelStore, inventory.ResourceRoom))
}

func TestFailedCompensationAfterDenialFlagsOrder(t *testing.T) {
	bus := newFailingBus()
	bus.denyKeys(contract.KeyBikeSagaRequest)
	e := newEnv(t, envConfig{rooms: 0, paymentCeiling: 1000, joinTimeout: time.Minute, withHotel: true, withPayment: true, bus: bus})

	// Hotel denial triggers a bike compensation whose publish is lost; the
	// held bikes must not disappear silently.
	require.NoError(t, e.orch.Start(context.Background(), vacationOrder("order-1", 300)))

	assert.Equal(t, order.StatusError, e.status(t, "order-1"))
	assert.Equal(t, 3, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
	assert.Equal(t, 0, e.paymentCount())
}

func TestBookingIntakeStartsSaga(t *testing.T) {
	e := fullEnv(t)

	body, err := json.Marshal(contract.BookingOrder{
		OrderID:   "order-1",
		From:      "2026-09-01",
		To:        "2026-09-08",
		Room:      "suite-1",
		RoadBikes: 1,
		DirtBikes: 0,
		Amount:    150,
	})
	require.NoError(t, err)

	e.bus.Subscribe(contract.KeyBookingOrder, e.orch.HandleBooking)
	require.NoError(t, e.bus.Publish(context.Background(), contract.Exchange, contract.KeyBookingOrder, body))

	assert.Equal(t, order.StatusApproved, e.status(t, "order-1"))
	assert.Equal(t, 4, e.available(t, e.bikeStore, inventory.ResourceRoadBike))
}

func (e *env) paymentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paymentRequests
}
