package syncclient

import (
	"context"
	"time"

	"revealroom/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Poller refetches a room's votes on an interval. It is the fallback for
// when the live channel is not connected.
type Poller struct {
	api      *API
	interval time.Duration
	clock    clockwork.Clock
}

func NewPoller(api *API, interval time.Duration, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{api: api, interval: interval, clock: clock}
}

// Run polls roomID until ctx is done. Each tick where needed reports true
// fetches the votes and hands them to fn.
func (p *Poller) Run(ctx context.Context, roomID string, needed func() bool, fn func([]models.Vote)) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if needed != nil && !needed() {
				continue
			}
			votes, err := p.api.ListVotes(ctx, roomID)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("room_id", roomID).Msg("poll failed")
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(votes)
		}
	}
}
