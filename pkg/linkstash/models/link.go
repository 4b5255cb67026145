package models

import "time"

// Link represents a bookmarked URL owned by a single user
type Link struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UserID       uint      `gorm:"not null;index" json:"userId"`
	URL          string    `gorm:"not null" json:"url"`
	Title        string    `gorm:"not null" json:"title"`
	Description  string    `json:"description,omitempty"`
	PreviewImage string    `json:"previewImage,omitempty"`
	SiteName     string    `json:"siteName,omitempty"`
	Favicon      string    `json:"favicon,omitempty"`
	IsPublic     bool      `gorm:"not null;default:false" json:"isPublic"`

	// Relationships
	User User  `gorm:"foreignKey:UserID" json:"-"`
	Tags []Tag `gorm:"many2many:link_tags;constraint:OnDelete:CASCADE" json:"tags"`
}

// Owner returns the id and display name of the owning user.
// The User relation must be preloaded for Name to be set.
func (l Link) Owner() Owner {
	return Owner{ID: l.UserID, Name: l.User.Name}
}
