package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/config"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/db"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/inventory"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("service", "hotel").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg config.HotelService
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var store inventory.Store
	var ledger inventory.Ledger
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		store = inventory.NewPostgresStore(pool)
		ledger = inventory.NewPostgresLedger(pool)
		log.Info().Msg("connected to PostgreSQL")
	} else {
		store = inventory.NewMemoryStore(map[string]int{inventory.ResourceRoom: cfg.Rooms})
		ledger = inventory.NewMemoryLedger()
		log.Warn().Int("rooms", cfg.Rooms).Msg("DATABASE_URL not set, using in-memory inventory")
	}

	client := rabbit.NewClient(rabbit.Config{
		URL:             cfg.URL,
		AppID:           "HotelService",
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
	for _, queue := range []string{contract.QueueHotelRequest, contract.QueueHotelSagaRequest} {
		if err := client.DeclareQueue(queue); err != nil {
			log.Fatal().Err(err).Str("queue", queue).Msg("unable to declare queue")
		}
	}

	participant := inventory.NewHotelParticipant(store, ledger, client, log)
	if err := client.Consume(ctx, contract.QueueHotelRequest, contract.Exchange, contract.KeyHotelRequest, participant.HandleReservation); err != nil {
		log.Fatal().Err(err).Msg("unable to start reservation consumer")
	}
	if err := client.Consume(ctx, contract.QueueHotelSagaRequest, contract.Exchange, contract.KeyHotelSagaRequest, participant.HandleCompensation); err != nil {
		log.Fatal().Err(err).Msg("unable to start compensation consumer")
	}

	log.Info().Msg("hotel service waiting for messages")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
}
