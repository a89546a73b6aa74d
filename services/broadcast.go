package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Room channel events.
const (
	EventNewVote         = "new-vote"
	EventVoteDeleted     = "vote-deleted"
	EventGenderRevealed  = "gender-revealed"
	EventRoomUpdated     = "room-updated"
	EventRouletteUpdated = "roulette-updated"
)

const (
	channelPrefix     = "room-"
	natsSubjectPrefix = "rooms."
	publishTimeout    = 3 * time.Second
)

// ChannelName is the logical channel every subscriber of a room listens on.
func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

// RoomIDFromChannel is the inverse of ChannelName.
func RoomIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || len(channel) == len(channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, channelPrefix), true
}

// Envelope is the frame carried on the fabric and forwarded verbatim to
// websocket subscribers.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Delivery is one message received from the fabric.
type Delivery struct {
	Channel string
	Payload []byte
}

// Broadcaster publishes room events to the external fan-out fabric.
//
// Publish is best-effort and at-most-once: it reports whether the fabric
// accepted the message and never fails the caller. Subscribe blocks until
// ctx is done, handing every fabric message for any room channel to fn.
type Broadcaster interface {
	Publish(ctx context.Context, roomID, event string, payload interface{}) bool
	Subscribe(ctx context.Context, fn func(Delivery)) error
	Enabled() bool
	Driver() string
	Close() error
}

func encodeEnvelope(roomID, event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{
		Event:   event,
		Channel: ChannelName(roomID),
		Data:    data,
	})
}

// RedisBroadcaster uses Redis PUBLISH / PSUBSCRIBE on room-* channels.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, roomID, event string, payload interface{}) bool {
	data, err := encodeEnvelope(roomID, event, payload)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("broadcast encode failed")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	channel := ChannelName(roomID)
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("broadcast failed, clients will rely on polling")
		return false
	}

	log.Debug().Str("channel", channel).Str("event", event).Msg("broadcasted")
	return true
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(Delivery)) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", channelPrefix, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			fn(Delivery{Channel: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}
}

func (b *RedisBroadcaster) Enabled() bool  { return true }
func (b *RedisBroadcaster) Driver() string { return "redis" }

// Close is a no-op: the client is shared with the roulette session store.
func (b *RedisBroadcaster) Close() error { return nil }

// NATSConfig holds connection settings for the NATS fabric.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBroadcaster publishes on core NATS subjects rooms.room-<id>.
type NATSBroadcaster struct {
	nc *nats.Conn
}

func NewNATSBroadcaster(config NATSConfig) (*NATSBroadcaster, error) {
	opts := []nats.Option{
		nats.Name("revealroom"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBroadcaster{nc: nc}, nil
}

func (b *NATSBroadcaster) Publish(ctx context.Context, roomID, event string, payload interface{}) bool {
	data, err := encodeEnvelope(roomID, event, payload)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("broadcast encode failed")
		return false
	}

	subject := natsSubjectPrefix + ChannelName(roomID)
	if !b.nc.IsConnected() {
		log.Warn().Str("subject", subject).Str("event", event).Msg("NATS not connected, clients will rely on polling")
		return false
	}
	if err := b.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Str("event", event).Msg("broadcast failed, clients will rely on polling")
		return false
	}

	log.Debug().Str("subject", subject).Str("event", event).Msg("broadcasted")
	return true
}

func (b *NATSBroadcaster) Subscribe(ctx context.Context, fn func(Delivery)) error {
	sub, err := b.nc.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		fn(Delivery{Channel: strings.TrimPrefix(m.Subject, natsSubjectPrefix), Payload: m.Data})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s>: %w", natsSubjectPrefix, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

func (b *NATSBroadcaster) Enabled() bool  { return true }
func (b *NATSBroadcaster) Driver() string { return "nats" }

func (b *NATSBroadcaster) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

// DisabledBroadcaster is used when no fabric is configured. Publish always
// reports false and the realtime endpoints stay off.
type DisabledBroadcaster struct{}

func (DisabledBroadcaster) Publish(ctx context.Context, roomID, event string, payload interface{}) bool {
	log.Debug().Str("room_id", roomID).Str("event", event).Msg("broadcast disabled, skipping")
	return false
}

func (DisabledBroadcaster) Subscribe(ctx context.Context, fn func(Delivery)) error {
	<-ctx.Done()
	return nil
}

func (DisabledBroadcaster) Enabled() bool  { return false }
func (DisabledBroadcaster) Driver() string { return "none" }
func (DisabledBroadcaster) Close() error   { return nil }
