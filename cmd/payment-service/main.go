package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/config"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/payment"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("service", "payment").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg config.PaymentService
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	client := rabbit.NewClient(rabbit.Config{
		URL:             cfg.URL,
		AppID:           "PaymentService",
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
	if err := client.DeclareQueue(contract.QueuePaymentRequest); err != nil {
		log.Fatal().Err(err).Msg("unable to declare queue")
	}

	processor := payment.NewProcessor(client, cfg.Ceiling, log)
	if err := client.Consume(ctx, contract.QueuePaymentRequest, contract.Exchange, contract.KeyPaymentRequest, processor.HandleRequest); err != nil {
		log.Fatal().Err(err).Msg("unable to start consumer")
	}

	log.Info().Float64("ceiling", cfg.Ceiling).Msg("payment service waiting for messages")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
}
