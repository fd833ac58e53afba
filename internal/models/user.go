package models

import (
	"time"

	"gorm.io/gorm"
)

// UserType represents the type of user
type UserType string

const (
	UserTypeAdmin       UserType = "Admin"
	UserTypeFinance     UserType = "Finance"
	UserTypeOrganizer   UserType = "Organizer"
	UserTypeParticipant UserType = "Participant"
)

// User represents a user in the system
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	FirebaseUID string   `gorm:"type:varchar(128);uniqueIndex" json:"firebase_uid"`
	Name        string   `gorm:"type:varchar(255)" json:"name"`
	Phone       string   `gorm:"type:varchar(50)" json:"phone"`
	Email       string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	UserType    UserType `gorm:"type:varchar(20);default:'Participant'" json:"user_type"`

	// Relationships
	Registrations []Registration `gorm:"foreignKey:UserID" json:"registrations,omitempty"`
	Payments      []Payment      `gorm:"foreignKey:UserID" json:"payments,omitempty"`
}

// HasRole reports whether the user holds any of the given roles
func (u User) HasRole(roles ...UserType) bool {
	for _, r := range roles {
		if u.UserType == r {
			return true
		}
	}
	return false
}
