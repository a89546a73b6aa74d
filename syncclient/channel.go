// Package syncclient follows one room's live events over the websocket
// endpoint and keeps a local tally consistent with the server.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"revealroom/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateUnavailable  State = "unavailable"
	StateFailed       State = "failed"
	StateError        State = "error"
	StateDisabled     State = "disabled"
)

// Handlers receive the events of the watched room. They run on the channel's
// reader goroutine and must not call Watch or Close.
type Handlers struct {
	OnNewVote     func(vote models.Vote)
	OnVoteDeleted func(voteID string)
	OnRevealed    func(category models.Category)
	OnRoomUpdated func(data json.RawMessage)
	OnRoulette    func(data json.RawMessage)
	OnState       func(state State)
}

type Config struct {
	API          *API
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Channel subscribes to at most one room at a time.
type Channel struct {
	cfg Config

	// dispatchMu is held while a handler runs; gen changes only under it, so
	// once Watch or Close returns no handler of the previous room can run.
	dispatchMu sync.Mutex
	gen        uint64

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Channel {
	cfg.setDefaults()
	return &Channel{cfg: cfg, state: StateInitializing}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether live events are flowing.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// Watch tears down any current subscription, then follows roomID until ctx
// is done or Watch/Close is called again. It returns once the previous
// connection is released; connecting happens in the background.
func (c *Channel) Watch(ctx context.Context, roomID string, h Handlers) error {
	gen := c.stop()

	c.setState(gen, h, StateInitializing)

	rc, err := c.cfg.API.RealtimeConfig(ctx)
	if err != nil {
		c.setState(gen, h, StateUnavailable)
		return err
	}
	if !rc.Enabled {
		c.setState(gen, h, StateDisabled)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx, gen, roomID, h)
	}()
	return nil
}

// Close releases the current subscription.
func (c *Channel) Close() {
	c.stop()
}

// stop invalidates the current generation, cancels its connection and waits
// for it to exit. It returns the new generation.
func (c *Channel) stop() uint64 {
	c.dispatchMu.Lock()
	c.gen++
	gen := c.gen
	c.dispatchMu.Unlock()

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return gen
}

func (c *Channel) dispatch(gen uint64, fn func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if c.gen != gen {
		return
	}
	fn()
}

func (c *Channel) setState(gen uint64, h Handlers, s State) {
	c.dispatch(gen, func() {
		c.mu.Lock()
		c.state = s
		c.mu.Unlock()
		if h.OnState != nil {
			h.OnState(s)
		}
	})
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

var errSubscriptionRejected = errors.New("subscription rejected")

func (c *Channel) run(ctx context.Context, gen uint64, roomID string, h Handlers) {
	wsURL, err := c.cfg.API.WebsocketURL()
	if err != nil {
		log.Error().Err(err).Msg("invalid websocket url")
		c.setState(gen, h, StateFailed)
		return
	}

	backoff := c.cfg.MinBackoff
	for {
		c.setState(gen, h, StateConnecting)

		err := c.session(ctx, gen, wsURL, roomID, h)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSubscriptionRejected) {
			c.setState(gen, h, StateError)
			return
		}

		log.Debug().Err(err).Str("room_id", roomID).Dur("retry_in", backoff).Msg("sync channel lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session runs one connection. It sets disconnected/unavailable/failed on
// the way out unless the generation was retired.
func (c *Channel) session(ctx context.Context, gen uint64, wsURL, roomID string, h Handlers) error {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			c.setState(gen, h, StateUnavailable)
		} else {
			c.setState(gen, h, StateFailed)
		}
		return err
	}

	var writeMu sync.Mutex
	write := func(f clientFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteJSON(f)
	}

	// Closing the connection on cancel unblocks ReadMessage below.
	released := make(chan struct{})
	defer close(released)
	go func() {
		select {
		case <-ctx.Done():
			write(clientFrame{Type: "unsubscribe"})
			writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			writeMu.Unlock()
			conn.Close()
		case <-released:
			conn.Close()
		}
	}()

	channel := "room-" + roomID
	if err := write(clientFrame{Type: "subscribe", Channel: channel}); err != nil {
		c.setState(gen, h, StateDisconnected)
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.setState(gen, h, StateDisconnected)
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		switch f.Event {
		case "subscription_succeeded":
			if f.Channel == channel {
				c.setState(gen, h, StateConnected)
			}
		case "subscription_error":
			log.Warn().Str("room_id", roomID).RawJSON("data", f.Data).Msg("subscription rejected")
			return errSubscriptionRejected
		default:
			if f.Channel != "" && f.Channel != channel {
				continue
			}
			c.handle(gen, f, h)
		}
	}
}

func (c *Channel) handle(gen uint64, f frame, h Handlers) {
	switch f.Event {
	case "new-vote":
		var payload struct {
			Vote models.Vote `json:"vote"`
		}
		if err := json.Unmarshal(f.Data, &payload); err != nil || payload.Vote.ID == "" {
			log.Debug().Err(err).Msg("bad new-vote payload")
			return
		}
		if h.OnNewVote != nil {
			c.dispatch(gen, func() { h.OnNewVote(payload.Vote) })
		}

	case "vote-deleted":
		var payload struct {
			VoteID string `json:"voteId"`
		}
		if err := json.Unmarshal(f.Data, &payload); err != nil || payload.VoteID == "" {
			log.Debug().Err(err).Msg("bad vote-deleted payload")
			return
		}
		if h.OnVoteDeleted != nil {
			c.dispatch(gen, func() { h.OnVoteDeleted(payload.VoteID) })
		}

	case "gender-revealed":
		var payload struct {
			Category models.Category `json:"category"`
		}
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return
		}
		if h.OnRevealed != nil {
			c.dispatch(gen, func() { h.OnRevealed(payload.Category) })
		}

	case "room-updated":
		if h.OnRoomUpdated != nil {
			c.dispatch(gen, func() { h.OnRoomUpdated(f.Data) })
		}

	case "roulette-updated":
		if h.OnRoulette != nil {
			c.dispatch(gen, func() { h.OnRoulette(f.Data) })
		}
	}
}
