package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const sweepBatchSize = 100

// Sweeper force-fails payment attempts that stayed PENDING past the timeout
// and releases the reservation they held. It closes the loop on gateway
// notifications that never arrive.
type Sweeper struct {
	payments Repository
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(payments Repository, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{payments: payments, interval: interval, timeout: timeout}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Dur("pending_timeout", s.timeout).
		Msg("sweeper: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweeper: sweep failed")
			}
		}
	}
}

// Sweep processes one batch of stuck attempts. Each attempt runs in its own
// transaction; one failure does not abort the rest. Returns how many attempts
// were swept successfully.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.timeout)

	stuck, err := s.payments.ListStuckPending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	log.Info().Int("count", len(stuck)).Time("cutoff", cutoff).Msg("sweeper: processing stuck attempts")

	swept := 0
	for _, a := range stuck {
		applied, err := s.payments.FailAttemptAndCancelOrder(ctx, a.ID, "payment timeout")
		if err != nil {
			log.Error().Err(err).
				Stringer("attempt_id", a.ID).
				Stringer("order_id", a.OrderID).
				Msg("sweeper: failed to reclaim stuck attempt")
			continue
		}
		if !applied {
			// The attempt resolved through another path between the listing and
			// the lock; nothing was reclaimed.
			log.Debug().
				Stringer("attempt_id", a.ID).
				Stringer("order_id", a.OrderID).
				Msg("sweeper: attempt already resolved, skipping")
			continue
		}
		swept++
	}

	return swept, nil
}
