package model

import "time"

// User is the minimal identity record the push API needs: who owns a push
// and whether they may act as an administrator.
type User struct {
	ID        uint      `gorm:"primaryKey"`
	Email     string    `gorm:"size:255;not null;uniqueIndex"`
	APIToken  string    `gorm:"size:64;not null;index"` // sha256 hex of the raw token
	Admin     bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
