package syncclient

import (
	"context"
	"sync"
	"time"

	"revealroom/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Follower keeps a Tally for one room current: live events while the channel
// is connected, polling otherwise, and a full reconcile on every (re)connect.
type Follower struct {
	api     *API
	channel *Channel
	poller  *Poller
	tally   *Tally

	mu         sync.Mutex
	stopPoller context.CancelFunc
	pollerDone chan struct{}
}

func NewFollower(api *API, pollInterval time.Duration, clock clockwork.Clock) *Follower {
	return &Follower{
		api:     api,
		channel: New(Config{API: api}),
		poller:  NewPoller(api, pollInterval, clock),
		tally:   NewTally(),
	}
}

func (f *Follower) Tally() *Tally { return f.tally }

func (f *Follower) State() State { return f.channel.State() }

// Follow switches to roomID. extra receives the same events after the tally
// has been updated; any of its fields may be nil.
func (f *Follower) Follow(ctx context.Context, roomID string, extra Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.haltPoller()
	f.channel.Close()

	votes, err := f.api.ListVotes(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("initial vote fetch failed")
		f.tally.Reconcile(nil)
	} else {
		f.tally.Reconcile(votes)
	}

	h := extra
	h.OnNewVote = func(v models.Vote) {
		f.tally.Apply(v)
		if extra.OnNewVote != nil {
			extra.OnNewVote(v)
		}
	}
	h.OnVoteDeleted = func(id string) {
		f.tally.Remove(id)
		if extra.OnVoteDeleted != nil {
			extra.OnVoteDeleted(id)
		}
	}
	h.OnState = func(s State) {
		if s == StateConnected {
			if votes, err := f.api.ListVotes(ctx, roomID); err == nil {
				f.tally.Reconcile(votes)
			}
		}
		if extra.OnState != nil {
			extra.OnState(s)
		}
	}

	if err := f.channel.Watch(ctx, roomID, h); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("live updates unavailable, polling")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.stopPoller, f.pollerDone = cancel, done
	go func() {
		defer close(done)
		f.poller.Run(pollCtx, roomID, func() bool { return !f.channel.Connected() }, f.tally.Reconcile)
	}()
	return nil
}

// haltPoller cancels the running poller and waits for it to exit, so no
// fetch for the previous room lands in the tally afterwards. f.mu must be held.
func (f *Follower) haltPoller() {
	if f.stopPoller == nil {
		return
	}
	f.stopPoller()
	<-f.pollerDone
	f.stopPoller, f.pollerDone = nil, nil
}

func (f *Follower) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.haltPoller()
	f.channel.Close()
}
