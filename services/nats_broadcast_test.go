package services

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// Nothing listens on port 1, so every dial is refused.
const unreachableNATS = "nats://127.0.0.1:1"

func TestNewNATSBroadcasterUnreachable(t *testing.T) {
	cfg := DefaultNATSConfig(unreachableNATS)
	cfg.ReconnectWait = 10 * time.Millisecond

	b, err := NewNATSBroadcaster(cfg)
	if err == nil {
		b.Close()
		t.Fatal("Expected an error connecting to an unreachable server")
	}
}

func TestNATSBroadcasterPublishWhileDisconnected(t *testing.T) {
	nc, err := nats.Connect(unreachableNATS,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Hour),
	)
	if err != nil {
		t.Fatalf("Connect with retry failed: %v", err)
	}
	b := &NATSBroadcaster{nc: nc}
	defer b.Close()

	if nc.IsConnected() {
		t.Fatal("Expected the connection to be pending")
	}
	if b.Publish(context.Background(), "r1", EventNewVote, map[string]string{"id": "v1"}) {
		t.Error("Expected Publish to report false while disconnected")
	}
	if !b.Enabled() || b.Driver() != "nats" {
		t.Errorf("Unexpected driver %s, enabled=%v", b.Driver(), b.Enabled())
	}

	if b.Publish(context.Background(), "r1", EventNewVote, make(chan int)) {
		t.Error("Expected Publish to report false for an unencodable payload")
	}
}
