package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub keeps the websocket connections of this process and fans fabric
// messages out to the connections subscribed to each room channel. Clients
// only ever subscribe; nothing a client sends is published.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex

	authorize ChannelAuthorizer
	config    HubConfig
}

// ChannelAuthorizer decides whether a room channel may be subscribed to.
type ChannelAuthorizer func(ctx context.Context, roomID string) error

type HubConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
		SendBuffer:     256,
	}
}

type Client struct {
	hub     *Hub
	id      string
	socket  *websocket.Conn
	send    chan []byte
	channel string // guarded by hub.mutex
}

// Message is a frame sent by a client.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// Client frame types.
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
)

// Server-originated events that never travel on the fabric.
const (
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventSubscriptionError     = "subscription_error"
	EventPong                  = "pong"
	EventError                 = "error"
)

func NewHub(authorize ChannelAuthorizer, config HubConfig) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Delivery, 1000),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		authorize:  authorize,
		config:     config,
	}
}

// Run owns client registration and fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			log.Info().Msg("hub shutting down")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Info().Str("connection_id", client.id).Int("total_clients", total).Msg("client registered")

			go client.writePump()
			go client.readPump()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Info().Str("connection_id", client.id).Str("channel", client.channel).Int("total_clients", len(h.clients)).Msg("client unregistered")
			}
			h.mutex.Unlock()

		case delivery := <-h.broadcast:
			h.deliver(delivery)
		}
	}
}

func (h *Hub) deliver(delivery Delivery) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for client := range h.clients {
		if client.channel != delivery.Channel {
			continue
		}
		select {
		case client.send <- delivery.Payload:
			sent++
		default:
			log.Warn().Str("connection_id", client.id).Msg("client send buffer full, closing connection")
			delete(h.clients, client)
			close(client.send)
		}
	}

	log.Debug().Str("channel", delivery.Channel).Int("clients", sent).Msg("delivered")
}

// Dispatch queues a fabric message for fan-out. It drops the message when the
// queue is full; delivery is best-effort.
func (h *Hub) Dispatch(delivery Delivery) {
	select {
	case h.broadcast <- delivery:
	default:
		log.Warn().Str("channel", delivery.Channel).Msg("broadcast queue full, dropping message")
	}
}

// Relay feeds the hub from the broadcaster's subscription until ctx is done,
// resubscribing after fabric errors.
func (h *Hub) Relay(ctx context.Context, b Broadcaster) {
	if !b.Enabled() {
		return
	}

	backoff := time.Second
	for {
		err := b.Subscribe(ctx, h.Dispatch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("driver", b.Driver()).Dur("retry_in", backoff).Msg("fabric subscription failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Upgrader returns a websocket upgrader matching the hub's buffer sizes.
func (h *Hub) Upgrader(checkOrigin func(r *http.Request) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// RegisterClient takes ownership of conn. The hub starts its pumps once the
// client is registered.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, h.config.SendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Stats returns the number of connections per subscribed channel.
func (h *Hub) Stats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	channels := make(map[string]int)
	for client := range h.clients {
		if client.channel != "" {
			channels[client.channel]++
		}
	}

	return map[string]interface{}{
		"total_connections": len(h.clients),
		"channels":          channels,
	}
}

// SubscriberCount returns how many connections listen on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for client := range h.clients {
		if client.channel == channel {
			n++
		}
	}
	return n
}

func (c *Client) setChannel(channel string) {
	c.hub.mutex.Lock()
	c.channel = channel
	c.hub.mutex.Unlock()
}

// reply queues a server frame for this client only. It is a no-op once the
// client has been dropped by the hub.
func (c *Client) reply(frame Envelope) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}

	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("connection_id", c.id).Msg("reply dropped, send buffer full")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	cfg := c.hub.config
	c.socket.SetReadLimit(cfg.MaxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			break
		}
		c.socket.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("connection_id", c.id).Msg("malformed client frame")
			c.reply(Envelope{Event: EventError, Data: errorData("malformed frame")})
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case MessagePing:
		c.reply(Envelope{Event: EventPong})

	case MessageSubscribe:
		roomID, ok := RoomIDFromChannel(msg.Channel)
		if !ok {
			c.reply(Envelope{Event: EventSubscriptionError, Channel: msg.Channel, Data: errorData("invalid channel")})
			return
		}
		if c.hub.authorize != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.hub.authorize(ctx, roomID)
			cancel()
			if err != nil {
				c.reply(Envelope{Event: EventSubscriptionError, Channel: msg.Channel, Data: errorData(err.Error())})
				return
			}
		}
		// One channel per connection: subscribing again replaces it.
		c.setChannel(msg.Channel)
		log.Info().Str("connection_id", c.id).Str("channel", msg.Channel).Msg("subscribed")
		c.reply(Envelope{Event: EventSubscriptionSucceeded, Channel: msg.Channel})

	case MessageUnsubscribe:
		c.setChannel("")
		log.Info().Str("connection_id", c.id).Msg("unsubscribed")

	default:
		log.Debug().Str("connection_id", c.id).Str("type", msg.Type).Msg("rejected client frame")
		c.reply(Envelope{Event: EventError, Data: errorData("clients cannot publish")})
	}
}

func errorData(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"message": message})
	return data
}
