package services_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"revealroom/models"
	"revealroom/roulette"
	"revealroom/services"
	"revealroom/testutil"
)

func seeded(app *testutil.App, seed int64) {
	app.Roulette.WithRandSource(func() roulette.Intner {
		return rand.New(rand.NewSource(seed))
	})
}

func TestRouletteRunsToWinner(t *testing.T) {
	app := testutil.NewTestApp(t)
	seeded(app, 7)
	ctx := context.Background()

	room := app.CreateRoom(t, "Spin", models.CategoryMale)
	for _, name := range []string{"Ann", "Ben", "Cal"} {
		app.CastVote(t, room.ID, name, models.CategoryMale)
	}
	wrong := app.CastVote(t, room.ID, "Dee", models.CategoryFemale)

	app.Reveal(t, room.ID)
	session, err := app.Roulette.Start(ctx, room.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(session.Entries) != 3 || session.State.Phase != roulette.PhaseIdle {
		t.Fatalf("Expected 3 idle participants, got %d in %s", len(session.Entries), session.State.Phase)
	}

	var last *services.RouletteSpin
	for i := 0; i < 2; i++ {
		last, err = app.Roulette.Spin(ctx, room.ID)
		if err != nil {
			t.Fatalf("Spin #%d failed: %v", i+1, err)
		}
	}
	if last.Round.Winner == "" || last.Session.State.Phase != roulette.PhaseDone {
		t.Errorf("Expected a winner after 2 rounds, got %+v", last.Round)
	}

	if _, err := app.Roulette.Spin(ctx, room.ID); !errors.Is(err, services.ErrConflict) {
		t.Errorf("Expected conflict spinning a finished roulette, got %v", err)
	}

	votes, _ := app.Votes.ListVotes(ctx, services.VoteFilter{RoomID: room.ID})
	outcomes := map[models.Outcome]int{}
	for _, v := range votes {
		outcomes[v.Outcome]++
		if v.IsOut != (v.Outcome == models.OutcomeEliminated) {
			t.Errorf("%s: isOut=%v does not match outcome %s", v.Name, v.IsOut, v.Outcome)
		}
		if v.ID == wrong.ID && v.Outcome != models.OutcomeActive {
			t.Errorf("Wrong guess should never enter the roulette, got %s", v.Outcome)
		}
	}
	if outcomes[models.OutcomeEliminated] != 2 || outcomes[models.OutcomeWinner] != 1 {
		t.Errorf("Unexpected outcomes: %v", outcomes)
	}

	if n := len(app.Broadcaster.EventsNamed(services.EventRouletteUpdated)); n != 3 {
		t.Errorf("Expected 3 roulette-updated publishes, got %d", n)
	}

	state, err := app.Roulette.State(ctx, room.ID)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.State.Winner != last.Round.Winner {
		t.Errorf("Stored winner %q differs from spun winner %q", state.State.Winner, last.Round.Winner)
	}
}

func TestRouletteReset(t *testing.T) {
	app := testutil.NewTestApp(t)
	seeded(app, 3)
	ctx := context.Background()

	room := app.CreateRoom(t, "Again", models.CategoryFemale)
	for _, name := range []string{"Eve", "Fay"} {
		app.CastVote(t, room.ID, name, models.CategoryFemale)
	}

	app.Reveal(t, room.ID)
	if _, err := app.Roulette.Start(ctx, room.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := app.Roulette.Spin(ctx, room.ID); err != nil {
		t.Fatalf("Spin failed: %v", err)
	}

	session, err := app.Roulette.Reset(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if session.State.Phase != roulette.PhaseIdle || len(session.State.Remaining) != 2 {
		t.Errorf("Expected a fresh idle session, got %+v", session.State)
	}

	votes, _ := app.Votes.ListVotes(ctx, services.VoteFilter{RoomID: room.ID})
	for _, v := range votes {
		if v.Outcome != models.OutcomeActive || v.IsOut {
			t.Errorf("%s should be active after reset, got %s", v.Name, v.Outcome)
		}
	}
}

func TestRouletteSingleCorrectGuessWinsImmediately(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()

	room := app.CreateRoom(t, "Solo", models.CategoryMale)
	only := app.CastVote(t, room.ID, "Gus", models.CategoryMale)
	app.CastVote(t, room.ID, "Hal", models.CategoryFemale)

	app.Reveal(t, room.ID)
	session, err := app.Roulette.Start(ctx, room.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State.Phase != roulette.PhaseDone || session.State.Winner != "Gus" {
		t.Errorf("Expected Gus to win without spinning, got %+v", session.State)
	}

	vote, _ := app.Votes.GetVote(ctx, only.ID)
	if vote.Outcome != models.OutcomeWinner {
		t.Errorf("Expected winner outcome, got %s", vote.Outcome)
	}
}

func TestRouletteWithoutCorrectGuesses(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()

	room := app.CreateRoom(t, "Twins", models.CategoryMixed)
	app.CastVote(t, room.ID, "Ida", models.CategoryMale)

	app.Reveal(t, room.ID)
	session, err := app.Roulette.Start(ctx, room.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State.Phase != roulette.PhaseEmpty {
		t.Errorf("Expected empty roulette, got %s", session.State.Phase)
	}

	if _, err := app.Roulette.Spin(ctx, room.ID); !errors.Is(err, services.ErrBadRequest) {
		t.Errorf("Expected bad request, got %v", err)
	}
}

func TestRouletteUnknownSession(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Idle", models.CategoryMale)

	if _, err := app.Roulette.Spin(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected not found spinning without a session, got %v", err)
	}
	if _, err := app.Roulette.State(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := app.Roulette.Start(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected not found for unknown room, got %v", err)
	}
}

func TestRouletteSessionExpires(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Ttl", models.CategoryMale)
	app.CastVote(t, room.ID, "Jo", models.CategoryMale)

	app.Reveal(t, room.ID)
	if _, err := app.Roulette.Start(ctx, room.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	app.Miniredis.FastForward(3 * time.Hour)

	if _, err := app.Roulette.State(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected the session to expire, got %v", err)
	}
}

func TestRouletteRequiresReveal(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Early", models.CategoryFemale)
	app.CastVote(t, room.ID, "Kim", models.CategoryFemale)

	if _, err := app.Roulette.Start(ctx, room.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("Expected conflict starting before the reveal, got %v", err)
	}
	if _, err := app.Roulette.State(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected no session before the reveal, got %v", err)
	}
	if n := len(app.Broadcaster.EventsNamed(services.EventRouletteUpdated)); n != 0 {
		t.Errorf("Expected no roulette publishes before the reveal, got %d", n)
	}

	app.Reveal(t, room.ID)
	session, err := app.Roulette.Start(ctx, room.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State.Winner != "Kim" {
		t.Errorf("Expected Kim to win, got %+v", session.State)
	}
}
