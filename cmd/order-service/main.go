package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/config"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/db"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/saga"
)

type bookingRequest struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Room      string  `json:"room"`
	RoadBikes int     `json:"road_bike_requested"`
	DirtBikes int     `json:"dirt_bike_requested"`
	Amount    float64 `json:"amount"`
}

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("service", "order").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg config.OrderService
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var repo order.Repository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		repo = order.NewPostgresRepository(pool)
		log.Info().Msg("connected to PostgreSQL")
	} else {
		repo = order.NewMemoryRepository()
		log.Warn().Msg("DATABASE_URL not set, using in-memory order repository")
	}

	client := rabbit.NewClient(rabbit.Config{
		URL:             cfg.URL,
		AppID:           "OrderService",
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
	}, log)
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to connect to RabbitMQ")
	}
	defer client.Close()

	if err := client.DeclareExchange(contract.Exchange, contract.ExchangeKind); err != nil {
		log.Fatal().Err(err).Msg("unable to declare exchange")
	}
	for _, queue := range []string{
		contract.QueueOrderBooking,
		contract.QueueOrderBikeResp,
		contract.QueueOrderHotelResp,
		contract.QueueOrderPaymentResp,
		contract.QueueOrderBikeSagaAck,
		contract.QueueOrderHotelSagaAck,
	} {
		if err := client.DeclareQueue(queue); err != nil {
			log.Fatal().Err(err).Str("queue", queue).Msg("unable to declare queue")
		}
	}

	orch := saga.New(repo, client, cfg.JoinTimeout, log)

	consumers := []struct {
		queue, key string
		handler    rabbit.Handler
	}{
		{contract.QueueOrderBooking, contract.KeyBookingOrder, orch.HandleBooking},
		{contract.QueueOrderBikeResp, contract.KeyBikeResponse, orch.HandleBikeResponse},
		{contract.QueueOrderHotelResp, contract.KeyHotelResponse, orch.HandleHotelResponse},
		{contract.QueueOrderPaymentResp, contract.KeyPaymentResponse, orch.HandlePaymentResponse},
		{contract.QueueOrderBikeSagaAck, contract.KeyBikeSagaAck, orch.HandleBikeRevertAck},
		{contract.QueueOrderHotelSagaAck, contract.KeyHotelSagaAck, orch.HandleHotelRevertAck},
	}
	for _, c := range consumers {
		if err := client.Consume(ctx, c.queue, contract.Exchange, c.key, c.handler); err != nil {
			log.Fatal().Err(err).Str("queue", c.queue).Msg("unable to start consumer")
		}
	}

	go saga.NewReconciler(repo, cfg.StaleAfter, cfg.SweepInterval, log).Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /booking", func(w http.ResponseWriter, r *http.Request) {
		var req bookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		booking := contract.BookingOrder{
			OrderID:   uuid.New().String(),
			From:      req.From,
			To:        req.To,
			Room:      req.Room,
			RoadBikes: req.RoadBikes,
			DirtBikes: req.DirtBikes,
			Amount:    req.Amount,
		}
		if err := booking.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := json.Marshal(booking)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if err := client.Publish(r.Context(), contract.Exchange, contract.KeyBookingOrder, body); err != nil {
			log.Error().Err(err).Msg("failed to enqueue booking")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"order_id": booking.OrderID})
	})
	mux.HandleFunc("POST /booking/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		err := orch.Cancel(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, saga.ErrNotCancellable):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, "internal server error", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})
	mux.HandleFunc("GET /booking/{id}", func(w http.ResponseWriter, r *http.Request) {
		ord, err := repo.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ord)
	})

	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux}
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("order service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
	server.Shutdown(context.Background())
}
