// Package testutil holds the throwaway datastore, Redis and HTTP helpers
// shared by the package tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"revealroom/handlers"
	"revealroom/models"
	"revealroom/routes"
	"revealroom/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const TestSecret = "test-host-token-secret"

// SetupTestDB returns a migrated in-memory SQLite database private to t.
// It has a single connection, so concurrent writers are serialized.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// SetupTestRedis starts a miniredis server and a client connected to it.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func NewTokenIssuer(t *testing.T, clock clockwork.Clock, ttl time.Duration) *services.HostTokenIssuer {
	t.Helper()

	issuer, err := services.NewHostTokenIssuer(TestSecret, ttl, clock)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}
	return issuer
}

func CreateTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{Username: username, DisplayName: username}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// Published is one call to RecordingBroadcaster.Publish.
type Published struct {
	RoomID  string
	Event   string
	Payload interface{}
}

// RecordingBroadcaster remembers every publish. Fail makes Publish report
// false, as a down fabric would.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []Published
	Fail   bool
}

func (b *RecordingBroadcaster) Publish(ctx context.Context, roomID, event string, payload interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Published{RoomID: roomID, Event: event, Payload: payload})
	return !b.Fail
}

func (b *RecordingBroadcaster) Subscribe(ctx context.Context, fn func(services.Delivery)) error {
	<-ctx.Done()
	return nil
}

func (b *RecordingBroadcaster) Enabled() bool  { return !b.Fail }
func (b *RecordingBroadcaster) Driver() string { return "recording" }
func (b *RecordingBroadcaster) Close() error   { return nil }

func (b *RecordingBroadcaster) Events() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.events...)
}

// EventsNamed returns the recorded publishes of one event.
func (b *RecordingBroadcaster) EventsNamed(event string) []Published {
	var out []Published
	for _, p := range b.Events() {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// App is a fully wired server backed by SQLite and miniredis.
type App struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Miniredis   *miniredis.Miniredis
	Broadcaster *RecordingBroadcaster
	Clock       *clockwork.FakeClock
	Tokens      *services.HostTokenIssuer
	Users       *services.UserService
	Rooms       *services.RoomService
	Votes       *services.VoteService
	Roulette    *services.RouletteService
	Hub         *services.Hub
	Router      *gin.Engine
}

const TestAppURL = "http://localhost:3000"

func NewTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := SetupTestDB(t)
	mr, rdb := SetupTestRedis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	broadcaster := &RecordingBroadcaster{}
	tokens := NewTokenIssuer(t, clock, time.Hour)

	users := services.NewUserService(db)
	rooms := services.NewRoomService(db, broadcaster, tokens, TestAppURL, clock)
	votes := services.NewVoteService(db, broadcaster, clock)
	roulette := services.NewRouletteService(rdb, rooms, votes, broadcaster, clock)
	hub := services.NewHub(rooms.Exists, services.DefaultHubConfig())

	router := gin.New()
	routes.SetupRoutes(router, routes.Handlers{
		Users:    handlers.NewUserHandler(users),
		Rooms:    handlers.NewRoomHandler(rooms, roulette),
		Votes:    handlers.NewVoteHandler(votes),
		Roulette: handlers.NewRouletteHandler(roulette),
		Realtime: handlers.NewRealtimeHandler(hub, broadcaster, nil),
	}, tokens, votes, nil)

	return &App{
		DB:          db,
		Redis:       rdb,
		Miniredis:   mr,
		Broadcaster: broadcaster,
		Clock:       clock,
		Tokens:      tokens,
		Users:       users,
		Rooms:       rooms,
		Votes:       votes,
		Roulette:    roulette,
		Hub:         hub,
		Router:      router,
	}
}

// CreateRoom creates a trustee and a room and returns the created room with
// its plaintext PINs.
func (a *App) CreateRoom(t *testing.T, name string, category models.Category) *services.CreatedRoom {
	t.Helper()

	user := CreateTestUser(t, a.DB, "host-"+uuid.NewString()[:8])
	room, err := a.Rooms.CreateRoom(context.Background(), &services.CreateRoomRequest{
		TrusteeID: user.ID,
		RoomName:  name,
		Category:  category,
	})
	if err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}
	return room
}

// HostToken issues a host token for roomID.
func (a *App) HostToken(t *testing.T, roomID string) string {
	t.Helper()

	token, _, err := a.Tokens.Issue(roomID)
	if err != nil {
		t.Fatalf("Failed to issue host token: %v", err)
	}
	return token
}

// CastVote adds a vote through the ledger.
func (a *App) CastVote(t *testing.T, roomID, name string, category models.Category) *models.Vote {
	t.Helper()

	isOut := false
	vote, err := a.Votes.CastVote(context.Background(), &services.CreateVoteRequest{
		RoomID:   roomID,
		Name:     name,
		Category: category,
		IsOut:    &isOut,
	})
	if err != nil {
		t.Fatalf("Failed to cast test vote: %v", err)
	}
	return vote
}

// Reveal reveals the room's category, which also closes voting.
func (a *App) Reveal(t *testing.T, roomID string) {
	t.Helper()

	if _, err := a.Rooms.RevealCategory(context.Background(), roomID); err != nil {
		t.Fatalf("Failed to reveal test room: %v", err)
	}
}

// MakeRequest performs a request against handler. body is JSON-encoded
// unless it is nil; a non-empty token is sent as a Bearer header.
func MakeRequest(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// AssertStatus fails t when w has an unexpected status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// Envelope is the decoded response envelope.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode response: %v. Body: %s", err, w.Body.String())
	}
	return env
}

// DecodeData unmarshals the envelope's data into out.
func DecodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	env := DecodeEnvelope(t, w)
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("Failed to decode data: %v. Body: %s", err, w.Body.String())
	}
}
