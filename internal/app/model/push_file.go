package model

import "time"

// PushFile is attachment metadata for a file push. The bytes live in blob
// storage under BlobKey.
type PushFile struct {
	ID          uint       `gorm:"primaryKey"`
	PushID      uint       `gorm:"not null;index"`
	Filename    string     `gorm:"size:255;not null"`
	ContentType string     `gorm:"size:127;not null;default:application/octet-stream"`
	Size        int64      `gorm:"not null"`
	BlobKey     string     `gorm:"size:64;not null;uniqueIndex"`
	PurgeAfter  *time.Time `gorm:"index"`
	Purged      bool       `gorm:"not null;default:false"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
}
