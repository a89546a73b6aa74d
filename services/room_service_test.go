package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"revealroom/models"
	"revealroom/services"
	"revealroom/testutil"
)

func TestCreateRoom(t *testing.T) {
	app := testutil.NewTestApp(t)
	room := app.CreateRoom(t, "Alice & Bob", models.CategoryMale)

	if room.ID == "" || room.Category != models.CategoryMale {
		t.Fatalf("Unexpected room: %+v", room)
	}
	if !services.IsPinFormat(room.OwnerPin) || !services.IsPinFormat(room.MemberPin) {
		t.Errorf("Expected 4-digit PINs, got %q and %q", room.OwnerPin, room.MemberPin)
	}
	if room.RoomURL != testutil.TestAppURL+"/room/"+room.ID {
		t.Errorf("Unexpected room URL %s", room.RoomURL)
	}

	var stored models.Room
	if err := app.DB.First(&stored, "id = ?", room.ID).Error; err != nil {
		t.Fatalf("Failed to load room: %v", err)
	}
	if stored.OwnerPinHash != services.HashPin(room.OwnerPin) {
		t.Error("Owner PIN should be stored hashed")
	}
	if stored.OwnerPinHash == room.OwnerPin || stored.MemberPinHash == room.MemberPin {
		t.Error("PINs must not be stored in plaintext")
	}

	data, _ := json.Marshal(stored)
	if strings.Contains(string(data), stored.OwnerPinHash) {
		t.Error("PIN hashes must never be serialized")
	}
}

func TestCreateRoomErrors(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	app.CreateRoom(t, "Taken", models.CategoryFemale)
	user := testutil.CreateTestUser(t, app.DB, "trustee")

	tests := []struct {
		name string
		req  services.CreateRoomRequest
		want error
	}{
		{"duplicate name", services.CreateRoomRequest{TrusteeID: user.ID, RoomName: "Taken", Category: models.CategoryMale}, services.ErrConflict},
		{"unknown trustee", services.CreateRoomRequest{TrusteeID: "nobody", RoomName: "Fresh", Category: models.CategoryMale}, services.ErrNotFound},
		{"bad category", services.CreateRoomRequest{TrusteeID: user.ID, RoomName: "Fresh", Category: "robot"}, services.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Rooms.CreateRoom(ctx, &tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifyPin(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Pins", models.CategoryFemale)

	result, err := app.Rooms.VerifyPin(ctx, room.ID, room.OwnerPin)
	if err != nil {
		t.Fatalf("VerifyPin failed: %v", err)
	}
	if !result.Verified || result.Category != models.CategoryFemale {
		t.Errorf("Unexpected verification: %+v", result)
	}
	if _, err := app.Tokens.Authorize(result.HostToken, room.ID); err != nil {
		t.Errorf("Issued token should authorize the room: %v", err)
	}

	wrong := "0000"
	if room.OwnerPin == wrong {
		wrong = "0001"
	}
	if _, err := app.Rooms.VerifyPin(ctx, room.ID, wrong); !errors.Is(err, services.ErrBadRequest) {
		t.Errorf("Expected bad request for wrong PIN, got %v", err)
	}
	if room.MemberPin != room.OwnerPin {
		if _, err := app.Rooms.VerifyPin(ctx, room.ID, room.MemberPin); !errors.Is(err, services.ErrBadRequest) {
			t.Errorf("Member PIN must not grant host access, got %v", err)
		}
	}
	if _, err := app.Rooms.VerifyPin(ctx, "missing", room.OwnerPin); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	for _, pin := range []string{"-123", "1.23", "+123", "12345"} {
		if _, err := app.Rooms.VerifyPin(ctx, room.ID, pin); !errors.Is(err, services.ErrValidation) {
			t.Errorf("Expected validation error for PIN %q, got %v", pin, err)
		}
	}
}

func TestSetClosedIsIdempotent(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Closing", models.CategoryMale)

	for i := 0; i < 2; i++ {
		status, err := app.Rooms.SetClosed(ctx, room.ID, true)
		if err != nil {
			t.Fatalf("SetClosed #%d failed: %v", i+1, err)
		}
		if !status.IsClose {
			t.Errorf("SetClosed #%d: expected closed", i+1)
		}
	}

	status, err := app.Rooms.SetClosed(ctx, room.ID, false)
	if err != nil || status.IsClose {
		t.Errorf("Expected reopened room, got %+v, %v", status, err)
	}

	if n := len(app.Broadcaster.EventsNamed(services.EventRoomUpdated)); n != 3 {
		t.Errorf("Expected 3 room-updated publishes, got %d", n)
	}
}

func TestPublicViewHidesCategory(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Secret", models.CategoryFemale)
	app.CastVote(t, room.ID, "Lena", models.CategoryMale)

	public, err := app.Rooms.GetPublicRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetPublicRoom failed: %v", err)
	}
	if public.VoteCount != 1 {
		t.Errorf("Expected 1 vote, got %d", public.VoteCount)
	}

	data, _ := json.Marshal(public)
	var fields map[string]interface{}
	json.Unmarshal(data, &fields)
	for _, key := range []string{"category", "gender"} {
		if _, ok := fields[key]; ok {
			t.Errorf("Public view must not contain %q", key)
		}
	}

	host, err := app.Rooms.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if host.Category != models.CategoryFemale {
		t.Errorf("Expected host view category female, got %s", host.Category)
	}

	name := "Secret renamed"
	if _, err := app.Rooms.UpdateRoom(ctx, room.ID, &services.UpdateRoomRequest{RoomName: &name}); err != nil {
		t.Fatalf("UpdateRoom failed: %v", err)
	}
	updates := app.Broadcaster.EventsNamed(services.EventRoomUpdated)
	if len(updates) != 1 {
		t.Fatalf("Expected one room-updated publish, got %d", len(updates))
	}
	payload, _ := json.Marshal(updates[0].Payload)
	if strings.Contains(string(payload), "female") {
		t.Errorf("room-updated leaked the category: %s", payload)
	}
}

func TestListRooms(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	for _, name := range []string{"One", "Two", "Three"} {
		app.CreateRoom(t, name, models.CategoryMale)
	}
	app.CreateRoom(t, "Four", models.CategoryMixed)

	page, err := app.Rooms.ListRooms(ctx, services.RoomFilter{}, services.PageRequest{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(page.Data) != 3 || page.Pagination.TotalItems != 4 || !page.Pagination.HasNext {
		t.Errorf("Unexpected page: %d rooms, %+v", len(page.Data), page.Pagination)
	}

	mixed, err := app.Rooms.ListRooms(ctx, services.RoomFilter{Category: models.CategoryMixed}, services.PageRequest{})
	if err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(mixed.Data) != 1 || mixed.Data[0].RoomName != "Four" {
		t.Errorf("Expected only room Four, got %+v", mixed.Data)
	}
}

func TestDeleteRoomRemovesVotes(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Gone", models.CategoryMale)
	app.CastVote(t, room.ID, "Mo", models.CategoryMale)
	app.CastVote(t, room.ID, "Ned", models.CategoryFemale)

	if err := app.Rooms.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}

	var count int64
	app.DB.Model(&models.Vote{}).Where("room_id = ?", room.ID).Count(&count)
	if count != 0 {
		t.Errorf("Expected votes to be removed, %d left", count)
	}
	if err := app.Rooms.Exists(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected room to be gone, got %v", err)
	}
	if err := app.Rooms.DeleteRoom(ctx, room.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
}

func TestRevealCategory(t *testing.T) {
	app := testutil.NewTestApp(t)
	room := app.CreateRoom(t, "Reveal", models.CategoryMixed)

	reveal, err := app.Rooms.RevealCategory(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("RevealCategory failed: %v", err)
	}
	if reveal.Category != models.CategoryMixed || !reveal.Timestamp.Equal(app.Clock.Now()) {
		t.Errorf("Unexpected reveal: %+v", reveal)
	}

	published := app.Broadcaster.EventsNamed(services.EventGenderRevealed)
	if len(published) != 1 || published[0].RoomID != room.ID {
		t.Errorf("Expected one gender-revealed publish, got %+v", published)
	}
}

func TestRevealLocksRoom(t *testing.T) {
	app := testutil.NewTestApp(t)
	ctx := context.Background()
	room := app.CreateRoom(t, "Locked", models.CategoryFemale)
	app.CastVote(t, room.ID, "Lea", models.CategoryFemale)

	if _, err := app.Rooms.RevealedCategory(ctx, room.ID); !errors.Is(err, services.ErrConflict) {
		t.Errorf("Expected conflict reading the answer before the reveal, got %v", err)
	}

	app.Reveal(t, room.ID)

	public, err := app.Rooms.GetPublicRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetPublicRoom failed: %v", err)
	}
	if !public.IsRevealed || !public.IsClose {
		t.Errorf("Expected a revealed, closed room, got %+v", public)
	}

	isOut := false
	_, err = app.Votes.CastVote(ctx, &services.CreateVoteRequest{
		RoomID: room.ID, Name: "Late", Category: models.CategoryFemale, IsOut: &isOut,
	})
	if !errors.Is(err, services.ErrConflict) || err.Error() != services.MsgRoomClosed {
		t.Errorf("Expected room-closed conflict for a late vote, got %v", err)
	}

	if _, err := app.Rooms.SetClosed(ctx, room.ID, false); !errors.Is(err, services.ErrConflict) {
		t.Errorf("Expected conflict reopening a revealed room, got %v", err)
	}
	if _, err := app.Rooms.SetClosed(ctx, room.ID, true); err != nil {
		t.Errorf("Closing a revealed room again should succeed, got %v", err)
	}

	male := models.CategoryMale
	if _, err := app.Rooms.UpdateRoom(ctx, room.ID, &services.UpdateRoomRequest{Category: &male}); !errors.Is(err, services.ErrConflict) {
		t.Errorf("Expected conflict changing the category after the reveal, got %v", err)
	}
	name := "Renamed"
	if _, err := app.Rooms.UpdateRoom(ctx, room.ID, &services.UpdateRoomRequest{RoomName: &name}); err != nil {
		t.Errorf("Renaming a revealed room should succeed, got %v", err)
	}

	category, err := app.Rooms.RevealedCategory(ctx, room.ID)
	if err != nil || category != models.CategoryFemale {
		t.Errorf("Expected female after the reveal, got %s, %v", category, err)
	}
}
