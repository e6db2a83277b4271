package saga

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
)

// Reconciler sweeps the order repository for sagas that stopped making
// progress (process crash, lost response past the join window). Orders stuck
// in a non-terminal status get flagged ERROR so operators can reconcile the
// participants' ledgers instead of losing the run silently.
type Reconciler struct {
	repo       order.Repository
	log        zerolog.Logger
	staleAfter time.Duration
	interval   time.Duration
}

func NewReconciler(repo order.Repository, staleAfter, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		log:        log.With().Str("component", "reconciler").Logger(),
		staleAfter: staleAfter,
		interval:   interval,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	stale, err := r.repo.ListStale(ctx, r.staleAfter)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list stale orders")
		return
	}
	for _, o := range stale {
		r.log.Warn().Str("order_id", o.ID).Str("status", string(o.Status)).
			Time("updated_at", o.UpdatedAt).Msg("order stalled mid-saga, flagging for reconciliation")
		if err := r.repo.UpdateStatus(ctx, o.ID, order.StatusError); err != nil {
			r.log.Error().Err(err).Str("order_id", o.ID).Msg("failed to flag stalled order")
		}
	}
}
