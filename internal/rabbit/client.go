// Package rabbit wraps the single RabbitMQ connection and channel a service
// process owns. Topology declaration, publishing and ack-based consuming all
// go through Client; nothing else touches the wire protocol.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by operations attempted while the broker
// connection is down and could not be re-established.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// Handler consumes one delivered message body. Handlers must be total: the
// delivery is acknowledged after the handler returns, panics included, so a
// malformed message is dropped rather than requeued forever.
type Handler func(ctx context.Context, body []byte)

// Bus is the narrow publishing surface producers depend on, so sagas and
// participants can run against an in-memory bus in tests.
type Bus interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

type Config struct {
	URL string
	// AppID tags published messages with the sender identity.
	AppID           string
	ConnectAttempts uint
	ConnectDelay    time.Duration
}

type Client struct {
	cfg Config
	log zerolog.Logger

	// mu guards conn/channel; consumer callbacks and publishers interleave
	// on the same channel.
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 10
	}
	if cfg.ConnectDelay == 0 {
		cfg.ConnectDelay = 2 * time.Second
	}
	return &Client{cfg: cfg, log: log.With().Str("component", "rabbit").Logger()}
}

// Connect establishes the connection and channel. Idempotent: a live channel
// makes it a no-op. Dial failures are retried with exponential backoff up to
// the configured attempts; RabbitMQ takes time to come up in Docker.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.channel != nil && !c.conn.IsClosed() {
		return nil
	}
	err := retry.Do(
		func() error {
			conn, err := amqp.Dial(c.cfg.URL)
			if err != nil {
				return err
			}
			ch, err := conn.Channel()
			if err != nil {
				conn.Close()
				return err
			}
			c.conn, c.channel = conn, ch
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.ConnectAttempts),
		retry.Delay(c.cfg.ConnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn().Err(err).Uint("attempt", n+1).Msg("failed to connect to RabbitMQ, retrying")
		}),
	)
	if err != nil {
		c.conn, c.channel = nil, nil
		c.log.Error().Err(err).Msg("giving up connecting to RabbitMQ")
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.log.Info().Str("url", c.cfg.URL).Msg("connected to RabbitMQ")
	return nil
}

func (c *Client) DeclareExchange(name, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return ErrNotConnected
	}
	if err := c.channel.ExchangeDeclare(
		name,
		kind,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func (c *Client) DeclareQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return ErrNotConnected
	}
	if _, err := c.channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (c *Client) BindQueue(queue, exchange, routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindQueueLocked(queue, exchange, routingKey)
}

func (c *Client) bindQueueLocked(queue, exchange, routingKey string) error {
	if c.channel == nil {
		return ErrNotConnected
	}
	if err := c.channel.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s/%s: %w", queue, exchange, routingKey, err)
	}
	return nil
}

// Publish sends body to the exchange under routingKey, connecting lazily if
// needed. Success means the broker accepted the message into its buffer, not
// that it was delivered.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	err := c.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			AppId:        c.cfg.AppID,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Consume binds queue to exchange/routingKey and feeds deliveries to handler
// on a dedicated goroutine. Acknowledgement happens after the handler
// returns; a panicking handler is logged and the message acked anyway.
func (c *Client) Consume(ctx context.Context, queue, exchange, routingKey string, handler Handler) error {
	c.mu.Lock()
	if c.channel == nil {
		if err := c.connectLocked(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	if err := c.bindQueueLocked(queue, exchange, routingKey); err != nil {
		c.mu.Unlock()
		return err
	}
	deliveries, err := c.channel.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack: we ack after the handler completes
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", queue, err)
	}

	log := c.log.With().Str("queue", queue).Str("routing_key", routingKey).Logger()
	go func() {
		for d := range deliveries {
			c.dispatch(ctx, log, d, handler)
		}
		log.Warn().Msg("delivery channel closed")
	}()
	log.Info().Msg("listening")
	return nil
}

func (c *Client) dispatch(ctx context.Context, log zerolog.Logger, d amqp.Delivery, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("handler panicked, dropping message")
		}
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("failed to ack message")
		}
	}()
	handler(ctx, d.Body)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.channel = nil, nil
}
