package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome records what the roulette did with a vote. IsOut mirrors it for
// clients that only read the boolean.
type Outcome string

const (
	OutcomeActive     Outcome = "active"
	OutcomeEliminated Outcome = "eliminated"
	OutcomeWinner     Outcome = "winner"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeActive, OutcomeEliminated, OutcomeWinner:
		return true
	}
	return false
}

// Vote is one participant's named guess. (room_id, name) is unique.
type Vote struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	RoomID    string    `json:"roomId" gorm:"size:36;not null;uniqueIndex:idx_votes_room_name;index"`
	Name      string    `json:"name" gorm:"size:100;not null;uniqueIndex:idx_votes_room_name"`
	Category  Category  `json:"category" gorm:"column:gender;size:10;not null"`
	IsOut     bool      `json:"isOut" gorm:"not null;default:false"`
	Outcome   Outcome   `json:"outcome" gorm:"size:16;not null;default:'active'"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Relationships
	Room *RoomRef `json:"room,omitempty" gorm:"-"`
}

// RoomRef is the short room summary embedded in vote responses.
type RoomRef struct {
	ID       string `json:"id"`
	RoomName string `json:"roomName"`
}

func (v *Vote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Outcome == "" {
		v.Outcome = OutcomeActive
	}
	return nil
}
