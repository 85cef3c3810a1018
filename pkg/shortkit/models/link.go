package models

import (
	"time"
)

// Link represents one shortening mapping from a short code to a destination URL
type Link struct {
	ID             string     `gorm:"primarykey" json:"id"`
	OriginalURL    string     `gorm:"not null;index" json:"original_url"`
	ShortCode      string     `gorm:"uniqueIndex;not null" json:"short_code"`
	CustomAlias    string     `json:"custom_alias,omitempty"`
	UserID         *uint      `gorm:"index" json:"user_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    uint       `gorm:"default:0" json:"access_count"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`

	// Owner relationship (nil UserID means an anonymous link)
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// IsExpired reports whether the link's expiry is set and in the past
func (l *Link) IsExpired() bool {
	if l.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*l.ExpiresAt)
}
