package models

import "time"

// Tag is a label shared by every link that uses the same name.
// Names are unique and compared case-sensitively.
type Tag struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`

	// Relationships
	Links []Link `gorm:"many2many:link_tags;" json:"-"`
}
