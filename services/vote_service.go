package services

import (
	"context"
	"errors"
	"fmt"

	"revealroom/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// VoteService is the vote ledger. The (room_id, name) unique index decides
// duplicate races; the pre-checks only pick the friendlier error.
type VoteService struct {
	db          *gorm.DB
	broadcaster Broadcaster
	clock       clockwork.Clock
}

func NewVoteService(db *gorm.DB, broadcaster Broadcaster, clock clockwork.Clock) *VoteService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VoteService{db: db, broadcaster: broadcaster, clock: clock}
}

type CreateVoteRequest struct {
	RoomID   string          `json:"roomId" binding:"required"`
	Name     string          `json:"name" binding:"required,min=1,max=100"`
	Category models.Category `json:"category" binding:"required,oneof=male female"`
	IsOut    *bool           `json:"isOut" binding:"required"`
}

type UpdateVoteRequest struct {
	RoomID   *string          `json:"roomId" binding:"omitempty,min=1"`
	Name     *string          `json:"name" binding:"omitempty,min=1,max=100"`
	Category *models.Category `json:"category" binding:"omitempty,oneof=male female"`
	IsOut    *bool            `json:"isOut"`
}

// VoteFilter narrows ListVotes. Every set field must match.
type VoteFilter struct {
	RoomID   string          `form:"roomId"`
	Name     string          `form:"name"`
	Category models.Category `form:"category" binding:"omitempty,oneof=male female"`
	IsOut    *bool           `form:"isOut"`
}

func (s *VoteService) CastVote(ctx context.Context, req *CreateVoteRequest) (*models.Vote, error) {
	if !req.Category.ValidForVote() {
		return nil, Validation("Category must be male or female", nil)
	}

	var room models.Room
	if err := s.db.WithContext(ctx).Select("id", "room_name", "is_close").First(&room, "id = ?", req.RoomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Room")
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	// Closed takes precedence over duplicate.
	if room.IsClose {
		return nil, Conflict(MsgRoomClosed)
	}

	taken, err := s.nameTaken(ctx, req.RoomID, req.Name, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, Conflict(MsgAlreadyVoted)
	}

	vote := models.Vote{
		RoomID:   req.RoomID,
		Name:     req.Name,
		Category: req.Category,
		Outcome:  models.OutcomeActive,
	}
	if req.IsOut != nil && *req.IsOut {
		vote.IsOut = true
		vote.Outcome = models.OutcomeEliminated
	}

	if err := s.db.WithContext(ctx).Create(&vote).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Debug().Str("room_id", req.RoomID).Msg("duplicate vote lost the race")
			return nil, Conflict(MsgAlreadyVoted)
		}
		return nil, fmt.Errorf("create vote: %w", err)
	}
	vote.Room = &models.RoomRef{ID: room.ID, RoomName: room.RoomName}

	log.Info().Str("room_id", vote.RoomID).Str("vote_id", vote.ID).Msg("vote cast")

	s.broadcaster.Publish(ctx, vote.RoomID, EventNewVote, map[string]interface{}{
		"vote":      vote,
		"timestamp": s.clock.Now().UTC(),
	})
	return &vote, nil
}

// ListVotes returns matching votes, newest first.
func (s *VoteService) ListVotes(ctx context.Context, filter VoteFilter) ([]models.Vote, error) {
	query := s.db.WithContext(ctx).Model(&models.Vote{})
	if filter.RoomID != "" {
		query = query.Where("room_id = ?", filter.RoomID)
	}
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Category != "" {
		query = query.Where("gender = ?", filter.Category)
	}
	if filter.IsOut != nil {
		query = query.Where("is_out = ?", *filter.IsOut)
	}

	votes := []models.Vote{}
	if err := query.Order("created_at DESC").Order("id").Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	if err := s.attachRooms(ctx, votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (s *VoteService) GetVote(ctx context.Context, id string) (*models.Vote, error) {
	vote, err := s.findVote(ctx, id)
	if err != nil {
		return nil, err
	}
	votes := []models.Vote{*vote}
	if err := s.attachRooms(ctx, votes); err != nil {
		return nil, err
	}
	return &votes[0], nil
}

// RoomOf returns the room a vote belongs to. Host checks on vote routes use it.
func (s *VoteService) RoomOf(ctx context.Context, voteID string) (string, error) {
	vote, err := s.findVote(ctx, voteID)
	if err != nil {
		return "", err
	}
	return vote.RoomID, nil
}

func (s *VoteService) UpdateVote(ctx context.Context, id string, req *UpdateVoteRequest) (*models.Vote, error) {
	vote, err := s.findVote(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.RoomID != nil && *req.RoomID != vote.RoomID {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", *req.RoomID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check room: %w", err)
		}
		if count == 0 {
			return nil, NotFound("Room")
		}
		updates["room_id"] = *req.RoomID
	}

	if req.RoomID != nil || req.Name != nil {
		roomID, name := vote.RoomID, vote.Name
		if req.RoomID != nil {
			roomID = *req.RoomID
		}
		if req.Name != nil {
			name = *req.Name
		}
		taken, err := s.nameTaken(ctx, roomID, name, vote.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, Conflict(MsgAlreadyVoted)
		}
		if req.Name != nil {
			updates["name"] = name
		}
	}

	if req.Category != nil {
		if !req.Category.ValidForVote() {
			return nil, Validation("Category must be male or female", nil)
		}
		updates["gender"] = *req.Category
	}

	if req.IsOut != nil {
		updates["is_out"] = *req.IsOut
		switch {
		case *req.IsOut:
			updates["outcome"] = models.OutcomeEliminated
		case vote.Outcome == models.OutcomeEliminated:
			updates["outcome"] = models.OutcomeActive
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(vote).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, Conflict(MsgAlreadyVoted)
			}
			return nil, fmt.Errorf("update vote: %w", err)
		}
	}

	return s.GetVote(ctx, id)
}

func (s *VoteService) DeleteVote(ctx context.Context, id string) error {
	vote, err := s.GetVote(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Vote{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}

	log.Info().Str("room_id", vote.RoomID).Str("vote_id", vote.ID).Msg("vote deleted")

	s.broadcaster.Publish(ctx, vote.RoomID, EventVoteDeleted, map[string]interface{}{
		"voteId":    vote.ID,
		"vote":      vote,
		"timestamp": s.clock.Now().UTC(),
	})
	return nil
}

// CorrectGuesses returns the votes in roomID whose category matches answer,
// oldest first.
func (s *VoteService) CorrectGuesses(ctx context.Context, roomID string, answer models.Category) ([]models.Vote, error) {
	var votes []models.Vote
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC").Order("id").Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("list room votes: %w", err)
	}

	correct := make([]models.Vote, 0, len(votes))
	for _, v := range votes {
		if v.Category.Matches(answer) {
			correct = append(correct, v)
		}
	}
	return correct, nil
}

// MarkOutcome records a roulette result on a vote and keeps IsOut in step:
// only eliminated votes are out.
func (s *VoteService) MarkOutcome(ctx context.Context, voteID string, outcome models.Outcome) error {
	if !outcome.Valid() {
		return BadRequest(fmt.Sprintf("unknown outcome %q", outcome))
	}

	res := s.db.WithContext(ctx).Model(&models.Vote{}).Where("id = ?", voteID).Updates(map[string]interface{}{
		"outcome": outcome,
		"is_out":  outcome == models.OutcomeEliminated,
	})
	if res.Error != nil {
		return fmt.Errorf("mark outcome: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Vote")
	}
	return nil
}

// ResetOutcomes puts every vote in roomID back to active.
func (s *VoteService) ResetOutcomes(ctx context.Context, roomID string) error {
	err := s.db.WithContext(ctx).Model(&models.Vote{}).Where("room_id = ?", roomID).Updates(map[string]interface{}{
		"outcome": models.OutcomeActive,
		"is_out":  false,
	}).Error
	if err != nil {
		return fmt.Errorf("reset outcomes: %w", err)
	}
	return nil
}

func (s *VoteService) findVote(ctx context.Context, id string) (*models.Vote, error) {
	var vote models.Vote
	if err := s.db.WithContext(ctx).First(&vote, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Vote")
		}
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return &vote, nil
}

func (s *VoteService) nameTaken(ctx context.Context, roomID, name, excludeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.Vote{}).Where("room_id = ? AND name = ?", roomID, name)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check vote name: %w", err)
	}
	return count > 0, nil
}

func (s *VoteService) attachRooms(ctx context.Context, votes []models.Vote) error {
	if len(votes) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, v := range votes {
		if !seen[v.RoomID] {
			seen[v.RoomID] = true
			ids = append(ids, v.RoomID)
		}
	}

	var refs []models.RoomRef
	if err := s.db.WithContext(ctx).Model(&models.Room{}).Select("id", "room_name").Where("id IN ?", ids).Find(&refs).Error; err != nil {
		return fmt.Errorf("load vote rooms: %w", err)
	}

	byID := make(map[string]models.RoomRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	for i := range votes {
		if ref, ok := byID[votes[i].RoomID]; ok {
			votes[i].Room = &ref
		}
	}
	return nil
}
