package handlers_test

import (
	"net/http"
	"testing"

	"revealroom/models"
	"revealroom/testutil"
)

func TestCastVoteValidation(t *testing.T) {
	app := testutil.NewTestApp(t)
	room := app.CreateRoom(t, "Validation", models.CategoryMale)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"missing isOut", map[string]interface{}{"roomId": room.ID, "name": "A", "category": "male"}, http.StatusUnprocessableEntity},
		{"mixed guess", map[string]interface{}{"roomId": room.ID, "name": "A", "category": "mixed", "isOut": false}, http.StatusUnprocessableEntity},
		{"empty name", map[string]interface{}{"roomId": room.ID, "name": "", "category": "male", "isOut": false}, http.StatusUnprocessableEntity},
		{"unknown room", map[string]interface{}{"roomId": "missing", "name": "A", "category": "male", "isOut": false}, http.StatusNotFound},
		{"malformed", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.MakeRequest(t, app.Router, http.MethodPost, "/votes", tt.body, "")
			testutil.AssertStatus(t, w, tt.status)
		})
	}
}

func TestVoteHostRoutes(t *testing.T) {
	app := testutil.NewTestApp(t)
	room := app.CreateRoom(t, "Mine", models.CategoryMale)
	other := app.CreateRoom(t, "Theirs", models.CategoryMale)
	vote := app.CastVote(t, room.ID, "Fran", models.CategoryFemale)
	token := app.HostToken(t, room.ID)

	w := testutil.MakeRequest(t, app.Router, http.MethodPatch, "/votes/"+vote.ID, map[string]string{"name": "Franny"}, "")
	testutil.AssertStatus(t, w, http.StatusUnauthorized)

	w = testutil.MakeRequest(t, app.Router, http.MethodPatch, "/votes/"+vote.ID, map[string]string{"name": "Franny"}, app.HostToken(t, other.ID))
	testutil.AssertStatus(t, w, http.StatusForbidden)

	w = testutil.MakeRequest(t, app.Router, http.MethodPatch, "/votes/"+vote.ID, map[string]string{"roomId": other.ID}, token)
	testutil.AssertStatus(t, w, http.StatusForbidden)

	w = testutil.MakeRequest(t, app.Router, http.MethodPatch, "/votes/"+vote.ID, map[string]interface{}{"name": "Franny", "isOut": true}, token)
	testutil.AssertStatus(t, w, http.StatusOK)
	var updated models.Vote
	testutil.DecodeData(t, w, &updated)
	if updated.Name != "Franny" || !updated.IsOut || updated.Outcome != models.OutcomeEliminated {
		t.Errorf("Unexpected vote after update: %+v", updated)
	}

	w = testutil.MakeRequest(t, app.Router, http.MethodDelete, "/votes/missing", nil, token)
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = testutil.MakeRequest(t, app.Router, http.MethodDelete, "/votes/"+vote.ID, nil, token)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.MakeRequest(t, app.Router, http.MethodGet, "/votes/"+vote.ID, nil, "")
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestListVotesQuery(t *testing.T) {
	app := testutil.NewTestApp(t)
	room := app.CreateRoom(t, "Query", models.CategoryMale)
	app.CastVote(t, room.ID, "Gil", models.CategoryMale)
	app.CastVote(t, room.ID, "Hana", models.CategoryFemale)

	w := testutil.MakeRequest(t, app.Router, http.MethodGet, "/votes?roomId="+room.ID+"&category=female", nil, "")
	testutil.AssertStatus(t, w, http.StatusOK)
	var votes []models.Vote
	testutil.DecodeData(t, w, &votes)
	if len(votes) != 1 || votes[0].Name != "Hana" {
		t.Errorf("Expected only Hana, got %+v", votes)
	}

	w = testutil.MakeRequest(t, app.Router, http.MethodGet, "/votes?category=robot", nil, "")
	testutil.AssertStatus(t, w, http.StatusUnprocessableEntity)
}
