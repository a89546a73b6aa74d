package handlers

import (
	"net/http"
	"time"

	"revealroom/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type RealtimeHandler struct {
	hub         *services.Hub
	broadcaster services.Broadcaster
	upgrader    websocket.Upgrader
}

// NewRealtimeHandler builds the websocket endpoints. allowOrigin decides the
// upgrade's Origin check; nil allows every origin.
func NewRealtimeHandler(hub *services.Hub, broadcaster services.Broadcaster, allowOrigin func(origin string) bool) *RealtimeHandler {
	checkOrigin := func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowOrigin == nil || allowOrigin(origin)
	}
	return &RealtimeHandler{
		hub:         hub,
		broadcaster: broadcaster,
		upgrader:    hub.Upgrader(checkOrigin),
	}
}

// Connect upgrades to a websocket. Clients then subscribe to one room
// channel; they can never publish.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	if !h.broadcaster.Enabled() {
		Fail(c, http.StatusServiceUnavailable, "Realtime updates are disabled", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	h.hub.RegisterClient(conn)
	log.Debug().Str("remote_addr", c.ClientIP()).Msg("websocket connected")
}

func (h *RealtimeHandler) Config(c *gin.Context) {
	Success(c, http.StatusOK, "Realtime configuration", gin.H{
		"enabled": h.broadcaster.Enabled(),
		"driver":  h.broadcaster.Driver(),
	})
}

func (h *RealtimeHandler) Stats(c *gin.Context) {
	stats := h.hub.Stats()
	stats["driver"] = h.broadcaster.Driver()
	Success(c, http.StatusOK, "Realtime statistics", stats)
}

func Health(c *gin.Context) {
	Success(c, http.StatusOK, "ok", gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
