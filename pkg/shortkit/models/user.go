package models

import (
	"time"
)

// User represents a registered account that can own links
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`

	// Relationships
	Links []Link `gorm:"foreignKey:UserID" json:"links,omitempty"`
}
