package handlers_test

import (
	"net/http"
	"testing"

	"revealroom/models"
	"revealroom/testutil"
)

func TestUserLifecycle(t *testing.T) {
	app := testutil.NewTestApp(t)

	w := testutil.MakeRequest(t, app.Router, http.MethodPost, "/users", map[string]string{"username": "ivy", "displayName": "Ivy"}, "")
	testutil.AssertStatus(t, w, http.StatusCreated)
	var user models.User
	testutil.DecodeData(t, w, &user)

	w = testutil.MakeRequest(t, app.Router, http.MethodPost, "/users", map[string]string{"username": "ivy"}, "")
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = testutil.MakeRequest(t, app.Router, http.MethodPost, "/users", map[string]string{}, "")
	testutil.AssertStatus(t, w, http.StatusUnprocessableEntity)

	w = testutil.MakeRequest(t, app.Router, http.MethodPatch, "/users/"+user.ID, map[string]string{"displayName": "Ivy B."}, "")
	testutil.AssertStatus(t, w, http.StatusOK)
	var updated models.User
	testutil.DecodeData(t, w, &updated)
	if updated.DisplayName != "Ivy B." || updated.Username != "ivy" {
		t.Errorf("Unexpected user after update: %+v", updated)
	}

	w = testutil.MakeRequest(t, app.Router, http.MethodGet, "/users/missing", nil, "")
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestListUsersPagination(t *testing.T) {
	app := testutil.NewTestApp(t)
	for _, name := range []string{"a", "b", "c"} {
		testutil.CreateTestUser(t, app.DB, name)
	}

	w := testutil.MakeRequest(t, app.Router, http.MethodGet, "/users?page=2&limit=2", nil, "")
	testutil.AssertStatus(t, w, http.StatusOK)

	var page struct {
		Data       []models.User `json:"data"`
		Pagination struct {
			Page       int   `json:"page"`
			TotalItems int64 `json:"totalItems"`
			TotalPages int   `json:"totalPages"`
			HasNext    bool  `json:"hasNext"`
			HasPrev    bool  `json:"hasPrev"`
		} `json:"pagination"`
	}
	testutil.DecodeData(t, w, &page)

	if len(page.Data) != 1 {
		t.Errorf("Expected 1 user on page 2, got %d", len(page.Data))
	}
	if page.Pagination.TotalItems != 3 || page.Pagination.TotalPages != 2 || page.Pagination.HasNext || !page.Pagination.HasPrev {
		t.Errorf("Unexpected pagination: %+v", page.Pagination)
	}
}
