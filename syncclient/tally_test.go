package syncclient

import (
	"testing"
	"time"

	"revealroom/models"
)

func TestTallyIsIdempotent(t *testing.T) {
	tally := NewTally()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := models.Vote{ID: "a", Name: "Ann", Category: models.CategoryMale, CreatedAt: base}
	b := models.Vote{ID: "b", Name: "Ben", Category: models.CategoryFemale, CreatedAt: base.Add(time.Minute)}

	if !tally.Apply(a) {
		t.Error("Expected first apply to be new")
	}
	if tally.Apply(a) {
		t.Error("Expected repeated apply to be a no-op")
	}
	tally.Apply(b)

	if tally.Len() != 2 {
		t.Errorf("Expected 2 votes, got %d", tally.Len())
	}
	votes := tally.Votes()
	if votes[0].ID != "b" || votes[1].ID != "a" {
		t.Errorf("Expected newest first, got %s, %s", votes[0].ID, votes[1].ID)
	}

	counts := tally.Counts()
	if counts[models.CategoryMale] != 1 || counts[models.CategoryFemale] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	if !tally.Remove("a") || tally.Remove("a") {
		t.Error("Expected remove to succeed once")
	}
	if tally.Remove("missing") {
		t.Error("Removing an unknown vote should report false")
	}

	tally.Reconcile([]models.Vote{a})
	if tally.Len() != 1 || tally.Votes()[0].ID != "a" {
		t.Errorf("Reconcile should replace the view, got %+v", tally.Votes())
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://reveal.example/api/", "wss://reveal.example/api/ws"},
	}
	for _, tt := range tests {
		got, err := NewAPI(tt.base, nil).WebsocketURL()
		if err != nil || got != tt.want {
			t.Errorf("WebsocketURL(%q) = %q, %v; expected %q", tt.base, got, err, tt.want)
		}
	}
}
