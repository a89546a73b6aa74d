package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"revealroom/models"
)

// API is the small slice of the HTTP surface the sync channel needs.
type API struct {
	baseURL string
	http    *http.Client
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// RealtimeConfig is the server's answer to whether live updates exist.
type RealtimeConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *API) RealtimeConfig(ctx context.Context) (*RealtimeConfig, error) {
	var cfg RealtimeConfig
	if err := a.get(ctx, "/realtime/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *API) ListVotes(ctx context.Context, roomID string) ([]models.Vote, error) {
	var votes []models.Vote
	if err := a.get(ctx, "/votes?roomId="+url.QueryEscape(roomID), &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

// WebsocketURL maps the API base URL onto the /ws endpoint.
func (a *API) WebsocketURL() (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (a *API) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	if !env.Success {
		msg := resp.Status
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return fmt.Errorf("GET %s: %s", path, msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("GET %s: decode data: %w", path, err)
	}
	return nil
}
