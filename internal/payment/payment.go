// Package payment implements the payment side of the saga contract. The
// real charging logic lives elsewhere; this processor only honors the
// request/response envelope and the duplicate-delivery discipline.
package payment

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/contract"
	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/rabbit"
)

type Processor struct {
	bus     rabbit.Bus
	log     zerolog.Logger
	ceiling float64

	mu      sync.Mutex
	decided map[string]string
}

// NewProcessor approves charges up to ceiling and denies the rest.
func NewProcessor(bus rabbit.Bus, ceiling float64, log zerolog.Logger) *Processor {
	return &Processor{
		bus:     bus,
		log:     log.With().Str("component", "payment-processor").Logger(),
		ceiling: ceiling,
		decided: make(map[string]string),
	}
}

// HandleRequest decides one payment command. Duplicate deliveries re-emit
// the recorded outcome without charging twice.
func (p *Processor) HandleRequest(ctx context.Context, body []byte) {
	req, err := contract.DecodePaymentRequest(body)
	if err != nil {
		p.log.Error().Err(err).Msg("dropping malformed payment command")
		return
	}
	log := p.log.With().Str("order_id", req.OrderID).Logger()

	p.mu.Lock()
	status, seen := p.decided[req.OrderID]
	if !seen {
		status = contract.PaymentDenied
		if req.Amount > 0 && req.Amount <= p.ceiling {
			status = contract.PaymentApproved
		}
		p.decided[req.OrderID] = status
	}
	p.mu.Unlock()

	if seen {
		log.Info().Str("status", status).Msg("duplicate payment request, re-emitting decision")
	} else {
		log.Info().Float64("amount", req.Amount).Str("status", status).Msg("payment decided")
	}

	resp, err := json.Marshal(contract.Response{OrderID: req.OrderID, Status: status})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		return
	}
	if err := p.bus.Publish(ctx, contract.Exchange, contract.KeyPaymentResponse, resp); err != nil {
		log.Error().Err(err).Msg("failed to publish payment response")
	}
}
