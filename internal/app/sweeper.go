package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
)

// Sweeper periodically purges envelopes past their TTL so storage stays
// bounded even for peers that never poll. Expiry on the read path is
// handled by the store itself; the sweep exists purely for hygiene.
type Sweeper struct {
	Envelopes core.EnvelopeStore
	Clock     clock.Clock
	Interval  time.Duration
}

func NewSweeper(envelopes core.EnvelopeStore, clk clock.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{Envelopes: envelopes, Clock: clk, Interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped, err := s.Envelopes.Sweep(ctx, s.Clock.Now())
			if err != nil {
				log.Error().Err(err).Str("module", "app.sweeper").Msg("sweep failed")
				continue
			}
			if dropped > 0 {
				log.Info().Str("module", "app.sweeper").Int("dropped", dropped).Msg("expired envelopes purged")
			}
		}
	}
}
