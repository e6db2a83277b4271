package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/config"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

// Publishes the same bike reservation command twice to demonstrate the
// participant's duplicate handling: the second delivery must re-emit the
// recorded decision without touching inventory.
func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("service", "redeliver").Logger()
	ctx := context.Background()

	var cfg config.Broker
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	client := rabbit.NewClient(rabbit.Config{
		URL:             cfg.URL,
		AppID:           "RedeliverTool",
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
	}, log)
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to connect to RabbitMQ")
	}
	defer client.Close()

	body, err := json.Marshal(contract.BikeRequest{
		OrderID:   uuid.New().String(),
		RoadBikes: 1,
		DirtBikes: 1,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode request")
	}

	log.Info().Msg("1st delivery")
	if err := client.Publish(ctx, contract.Exchange, contract.KeyBikeRequest, body); err != nil {
		log.Fatal().Err(err).Msg("first publish failed")
	}

	log.Info().Msg("2nd delivery (participant should re-emit, not re-reserve)")
	if err := client.Publish(ctx, contract.Exchange, contract.KeyBikeRequest, body); err != nil {
		log.Fatal().Err(err).Msg("second publish failed")
	}

	log.Info().Msg("done")
}
