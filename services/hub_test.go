package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"revealroom/services"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*services.Hub, string) {
	t.Helper()

	authorize := func(ctx context.Context, roomID string) error {
		if roomID != "known" {
			return services.NotFound("Room")
		}
		return nil
	}
	hub := services.NewHub(authorize, services.DefaultHubConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := hub.Upgrader(func(*http.Request) bool { return true })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.RegisterClient(conn)
	}))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) services.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env services.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return env
}

func TestHubSubscribeAndDeliver(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(services.Message{Type: services.MessageSubscribe, Channel: "room-known"}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Event != services.EventSubscriptionSucceeded || env.Channel != "room-known" {
		t.Fatalf("Expected subscription_succeeded, got %+v", env)
	}
	if n := hub.SubscriberCount("room-known"); n != 1 {
		t.Errorf("Expected 1 subscriber, got %d", n)
	}

	hub.Dispatch(services.Delivery{Channel: "room-other", Payload: []byte(`{"event":"new-vote","channel":"room-other"}`)})
	hub.Dispatch(services.Delivery{Channel: "room-known", Payload: []byte(`{"event":"new-vote","channel":"room-known"}`)})

	env = readEnvelope(t, conn)
	if env.Event != services.EventNewVote || env.Channel != "room-known" {
		t.Errorf("Expected only the subscribed room's event, got %+v", env)
	}
}

func TestHubRejectsUnknownRoom(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	for _, channel := range []string{"room-unknown", "lobby"} {
		conn.WriteJSON(services.Message{Type: services.MessageSubscribe, Channel: channel})
		env := readEnvelope(t, conn)
		if env.Event != services.EventSubscriptionError {
			t.Errorf("%s: expected subscription_error, got %+v", channel, env)
		}
	}
	if n := hub.SubscriberCount("room-unknown"); n != 0 {
		t.Errorf("Expected no subscribers, got %d", n)
	}
}

func TestHubClientsCannotPublish(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	conn.WriteJSON(map[string]string{"type": "publish", "channel": "room-known"})
	env := readEnvelope(t, conn)
	if env.Event != services.EventError {
		t.Errorf("Expected error frame, got %+v", env)
	}

	conn.WriteJSON(services.Message{Type: services.MessagePing})
	env = readEnvelope(t, conn)
	if env.Event != services.EventPong {
		t.Errorf("Expected pong, got %+v", env)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	conn.WriteJSON(services.Message{Type: services.MessageSubscribe, Channel: "room-known"})
	readEnvelope(t, conn)

	conn.WriteJSON(services.Message{Type: services.MessageUnsubscribe})
	conn.WriteJSON(services.Message{Type: services.MessagePing})
	readEnvelope(t, conn)

	if n := hub.SubscriberCount("room-known"); n != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", n)
	}
	stats := hub.Stats()
	if stats["total_connections"] != 1 {
		t.Errorf("Expected 1 connection, got %v", stats["total_connections"])
	}
}
