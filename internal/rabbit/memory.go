package rabbit

import (
	"context"
	"sync"
)

// MemoryBus routes published messages directly to subscribed handlers,
// standing in for the broker in tests and broker-less runs. Delivery is
// synchronous and keyed by routing key alone; every subscriber for a key
// gets a copy, like queues bound to the same key.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler for messages published under routingKey.
func (b *MemoryBus) Subscribe(routingKey string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routingKey] = append(b.handlers[routingKey], handler)
}

// Publish implements Bus. Handlers run on the caller's goroutine, so
// publishers must not hold locks a downstream handler could take again.
func (b *MemoryBus) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[routingKey]))
	copy(handlers, b.handlers[routingKey])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, body)
	}
	return nil
}
