package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a trustee: the host who owns rooms.
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Username    string    `json:"username" gorm:"uniqueIndex;size:50;not null"`
	DisplayName string    `json:"displayName" gorm:"size:100"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Relationships
	Rooms []Room `json:"rooms,omitempty" gorm:"foreignKey:TrusteeID"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
