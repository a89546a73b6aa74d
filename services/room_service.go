package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revealroom/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RoomService is the room registry: lifecycle, PIN checks and the public and
// host projections of a room.
type RoomService struct {
	db          *gorm.DB
	broadcaster Broadcaster
	tokens      *HostTokenIssuer
	appURL      string
	clock       clockwork.Clock
}

func NewRoomService(db *gorm.DB, broadcaster Broadcaster, tokens *HostTokenIssuer, appURL string, clock clockwork.Clock) *RoomService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoomService{
		db:          db,
		broadcaster: broadcaster,
		tokens:      tokens,
		appURL:      appURL,
		clock:       clock,
	}
}

type CreateRoomRequest struct {
	TrusteeID string          `json:"trusteeId" binding:"required"`
	RoomName  string          `json:"roomName" binding:"required,min=1,max=100"`
	Category  models.Category `json:"category" binding:"required,oneof=male female mixed"`
}

type UpdateRoomRequest struct {
	TrusteeID *string          `json:"trusteeId" binding:"omitempty,min=1"`
	RoomName  *string          `json:"roomName" binding:"omitempty,min=1,max=100"`
	Category  *models.Category `json:"category" binding:"omitempty,oneof=male female mixed"`
}

type CloseRoomRequest struct {
	IsClose *bool `json:"isClose" binding:"required"`
}

type VerifyPinRequest struct {
	Pin string `json:"pin" binding:"required,len=4,number"`
}

type RoomFilter struct {
	TrusteeID string          `form:"trusteeId"`
	Category  models.Category `form:"category" binding:"omitempty,oneof=male female mixed"`
}

// TrusteeRef is the owner summary embedded in room views.
type TrusteeRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PublicRoomView is what participants see. It has no category field at all,
// so the answer cannot be read before the reveal.
type PublicRoomView struct {
	ID         string     `json:"id"`
	RoomName   string     `json:"roomName"`
	IsClose    bool       `json:"isClose"`
	IsRevealed bool       `json:"isRevealed"`
	Trustee    TrusteeRef `json:"trustee"`
	VoteCount  int64      `json:"voteCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// RoomView is the host projection.
type RoomView struct {
	ID         string          `json:"id"`
	RoomName   string          `json:"roomName"`
	Category   models.Category `json:"category"`
	IsClose    bool            `json:"isClose"`
	IsRevealed bool            `json:"isRevealed"`
	Trustee    TrusteeRef      `json:"trustee"`
	VoteCount  int64           `json:"voteCount"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// CreatedRoom is returned once, on creation. It is the only response that
// carries the plaintext PINs.
type CreatedRoom struct {
	RoomView
	RoomURL   string `json:"roomUrl"`
	OwnerPin  string `json:"ownerPin"`
	MemberPin string `json:"memberPin"`
}

type RoomStatus struct {
	ID         string    `json:"id"`
	RoomName   string    `json:"roomName"`
	IsClose    bool      `json:"isClose"`
	IsRevealed bool      `json:"isRevealed"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type PinVerification struct {
	Verified  bool            `json:"verified"`
	Category  models.Category `json:"category"`
	HostToken string          `json:"hostToken"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type Reveal struct {
	Category  models.Category `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *RoomService) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*CreatedRoom, error) {
	if !req.Category.ValidForRoom() {
		return nil, Validation("Category must be male, female, or mixed", nil)
	}

	trustee, err := s.findTrustee(ctx, req.TrusteeID)
	if err != nil {
		return nil, err
	}

	taken, err := s.roomNameTaken(ctx, req.RoomName, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, Conflict(MsgRoomNameTaken)
	}

	ownerPin, err := GeneratePin()
	if err != nil {
		return nil, err
	}
	memberPin, err := GeneratePin()
	if err != nil {
		return nil, err
	}

	room := models.Room{
		RoomName:      req.RoomName,
		Category:      req.Category,
		OwnerPinHash:  HashPin(ownerPin),
		MemberPinHash: HashPin(memberPin),
		TrusteeID:     trustee.ID,
	}
	if err := s.db.WithContext(ctx).Omit("Trustee", "Votes").Create(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Conflict(MsgRoomNameTaken)
		}
		return nil, fmt.Errorf("create room: %w", err)
	}
	room.Trustee = *trustee

	log.Info().Str("room_id", room.ID).Str("trustee_id", trustee.ID).Msg("room created")

	return &CreatedRoom{
		RoomView:  hostView(&room, 0),
		RoomURL:   s.appURL + "/room/" + room.ID,
		OwnerPin:  ownerPin,
		MemberPin: memberPin,
	}, nil
}

// VerifyPin checks pin against the owner PIN and, on success, issues a host
// token scoped to the room.
func (s *RoomService) VerifyPin(ctx context.Context, roomID, pin string) (*PinVerification, error) {
	if !IsPinFormat(pin) {
		return nil, Validation("Pin must be exactly 4 digits", nil)
	}

	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if HashPin(pin) != room.OwnerPinHash {
		log.Info().Str("room_id", roomID).Msg("pin verification failed")
		return nil, BadRequest(MsgInvalidPin)
	}

	token, expiresAt, err := s.tokens.Issue(room.ID)
	if err != nil {
		return nil, err
	}

	return &PinVerification{
		Verified:  true,
		Category:  room.Category,
		HostToken: token,
		ExpiresAt: expiresAt,
	}, nil
}

// SetClosed opens or closes voting. Setting the current value again succeeds
// without writing. A revealed room stays closed.
func (s *RoomService) SetClosed(ctx context.Context, roomID string, closed bool) (*RoomStatus, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsRevealed && !closed {
		return nil, Conflict(MsgRoomRevealed)
	}

	if room.IsClose != closed {
		if err := s.db.WithContext(ctx).Model(room).Update("is_close", closed).Error; err != nil {
			return nil, fmt.Errorf("update room status: %w", err)
		}
		room.IsClose = closed
		log.Info().Str("room_id", roomID).Bool("is_close", closed).Msg("room status changed")
	}

	status := roomStatus(room)
	s.broadcaster.Publish(ctx, room.ID, EventRoomUpdated, map[string]interface{}{
		"room":      status,
		"timestamp": s.clock.Now().UTC(),
	})
	return status, nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*RoomView, error) {
	room, err := s.findRoomWithTrustee(ctx, roomID)
	if err != nil {
		return nil, err
	}
	counts, err := s.voteCounts(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	view := hostView(room, counts[room.ID])
	return &view, nil
}

func (s *RoomService) GetPublicRoom(ctx context.Context, roomID string) (*PublicRoomView, error) {
	room, err := s.findRoomWithTrustee(ctx, roomID)
	if err != nil {
		return nil, err
	}
	counts, err := s.voteCounts(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	view := publicView(room, counts[room.ID])
	return &view, nil
}

// ListRooms returns the public projection of rooms, newest first.
func (s *RoomService) ListRooms(ctx context.Context, filter RoomFilter, page PageRequest) (*Page[PublicRoomView], error) {
	query := s.db.WithContext(ctx).Model(&models.Room{}).Preload("Trustee")
	if filter.TrusteeID != "" {
		query = query.Where("trustee_id = ?", filter.TrusteeID)
	}
	if filter.Category != "" {
		query = query.Where("gender = ?", filter.Category)
	}

	rooms, err := paginate[models.Room](query, page, "created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	ids := make([]string, len(rooms.Data))
	for i := range rooms.Data {
		ids[i] = rooms.Data[i].ID
	}
	counts, err := s.voteCounts(ctx, ids...)
	if err != nil {
		return nil, err
	}

	views := make([]PublicRoomView, len(rooms.Data))
	for i := range rooms.Data {
		views[i] = publicView(&rooms.Data[i], counts[rooms.Data[i].ID])
	}
	return &Page[PublicRoomView]{Data: views, Pagination: rooms.Pagination}, nil
}

func (s *RoomService) UpdateRoom(ctx context.Context, roomID string, req *UpdateRoomRequest) (*RoomView, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.TrusteeID != nil {
		trustee, err := s.findTrustee(ctx, *req.TrusteeID)
		if err != nil {
			return nil, err
		}
		updates["trustee_id"] = trustee.ID
	}
	if req.RoomName != nil && *req.RoomName != room.RoomName {
		taken, err := s.roomNameTaken(ctx, *req.RoomName, room.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, Conflict(MsgRoomNameTaken)
		}
		updates["room_name"] = *req.RoomName
	}
	if req.Category != nil && *req.Category != room.Category {
		if !req.Category.ValidForRoom() {
			return nil, Validation("Category must be male, female, or mixed", nil)
		}
		if room.IsRevealed {
			return nil, Conflict(MsgRoomRevealed)
		}
		updates["gender"] = *req.Category
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(room).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, Conflict(MsgRoomNameTaken)
			}
			return nil, fmt.Errorf("update room: %w", err)
		}
	}

	view, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(ctx, roomID, EventRoomUpdated, map[string]interface{}{
		"room":      publicFromHost(view),
		"timestamp": s.clock.Now().UTC(),
	})
	return view, nil
}

// DeleteRoom removes the room and every vote in it.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		return tx.Delete(room).Error
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	log.Info().Str("room_id", roomID).Msg("room deleted")
	return nil
}

// RevealCategory announces the room's answer to every subscriber. Revealing
// also closes voting for good.
func (s *RoomService) RevealCategory(ctx context.Context, roomID string) (*Reveal, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if !room.IsRevealed || !room.IsClose {
		err := s.db.WithContext(ctx).Model(room).Updates(map[string]interface{}{
			"is_revealed": true,
			"is_close":    true,
		}).Error
		if err != nil {
			return nil, fmt.Errorf("mark room revealed: %w", err)
		}
		room.IsRevealed, room.IsClose = true, true
	}

	reveal := &Reveal{Category: room.Category, Timestamp: s.clock.Now().UTC()}
	s.broadcaster.Publish(ctx, room.ID, EventGenderRevealed, reveal)

	log.Info().Str("room_id", roomID).Msg("category revealed")
	return reveal, nil
}

// RevealedCategory returns the room's answer once it has been revealed. The
// roulette reads it; before the reveal it is a Conflict.
func (s *RoomService) RevealedCategory(ctx context.Context, roomID string) (models.Category, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if !room.IsRevealed {
		return "", Conflict(MsgNotRevealed)
	}
	return room.Category, nil
}

// Exists reports a NotFound error when the room is absent. It backs the
// websocket subscription check.
func (s *RoomService) Exists(ctx context.Context, roomID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if count == 0 {
		return NotFound("Room")
	}
	return nil
}

func (s *RoomService) findRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Room")
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (s *RoomService) findRoomWithTrustee(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Preload("Trustee").First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Room")
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (s *RoomService) findTrustee(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Trustee")
		}
		return nil, fmt.Errorf("get trustee: %w", err)
	}
	return &user, nil
}

func (s *RoomService) roomNameTaken(ctx context.Context, name, excludeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.Room{}).Where("room_name = ?", name)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check room name: %w", err)
	}
	return count > 0, nil
}

func (s *RoomService) voteCounts(ctx context.Context, roomIDs ...string) (map[string]int64, error) {
	counts := make(map[string]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		RoomID string
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Select("room_id, COUNT(*) AS total").
		Where("room_id IN ?", roomIDs).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}

	for _, row := range rows {
		counts[row.RoomID] = row.Total
	}
	return counts, nil
}

func hostView(room *models.Room, votes int64) RoomView {
	return RoomView{
		ID:         room.ID,
		RoomName:   room.RoomName,
		Category:   room.Category,
		IsClose:    room.IsClose,
		IsRevealed: room.IsRevealed,
		Trustee:    TrusteeRef{ID: room.Trustee.ID, Username: room.Trustee.Username},
		VoteCount:  votes,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	}
}

func publicView(room *models.Room, votes int64) PublicRoomView {
	return PublicRoomView{
		ID:         room.ID,
		RoomName:   room.RoomName,
		IsClose:    room.IsClose,
		IsRevealed: room.IsRevealed,
		Trustee:    TrusteeRef{ID: room.Trustee.ID, Username: room.Trustee.Username},
		VoteCount:  votes,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	}
}

func publicFromHost(v *RoomView) PublicRoomView {
	return PublicRoomView{
		ID:         v.ID,
		RoomName:   v.RoomName,
		IsClose:    v.IsClose,
		IsRevealed: v.IsRevealed,
		Trustee:    v.Trustee,
		VoteCount:  v.VoteCount,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

func roomStatus(room *models.Room) *RoomStatus {
	return &RoomStatus{
		ID:         room.ID,
		RoomName:   room.RoomName,
		IsClose:    room.IsClose,
		IsRevealed: room.IsRevealed,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	}
}
