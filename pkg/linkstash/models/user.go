package models

import "time"

// User represents an account that owns links
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Name         string    `gorm:"not null;default:''" json:"name"`

	// Relationships
	Links []Link `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// Owner is the public view of a user attached to a listed link
type Owner struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}
