package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room is one voting session about a single category. PIN columns hold
// SHA-256 hex digests and never leave the server.
type Room struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	RoomName      string    `json:"roomName" gorm:"uniqueIndex;size:100;not null"`
	Category      Category  `json:"category" gorm:"column:gender;size:10;not null"`
	OwnerPinHash  string    `json:"-" gorm:"column:owner_pin;size:64;not null"`
	MemberPinHash string    `json:"-" gorm:"column:member_pin;size:64;not null"`
	IsClose       bool      `json:"isClose" gorm:"not null;default:false"`
	IsRevealed    bool      `json:"isRevealed" gorm:"not null;default:false"`
	TrusteeID     string    `json:"trusteeId" gorm:"size:36;not null;index"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Relationships
	Trustee User   `json:"trustee,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Votes   []Vote `json:"votes,omitempty" gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
