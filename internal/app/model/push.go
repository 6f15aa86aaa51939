package model

import "time"

// PushKind enumerates what a push carries.
type PushKind string

const (
	PushKindText PushKind = "text"
	PushKindFile PushKind = "file"
	PushKindURL  PushKind = "url"
	PushKindQR   PushKind = "qr"
)

// Valid reports whether k is a known kind.
func (k PushKind) Valid() bool {
	switch k {
	case PushKindText, PushKindFile, PushKindURL, PushKindQR:
		return true
	}
	return false
}

// Push is a single secret shared through a self-expiring link.
//
// Payload, Note and Passphrase hold ciphertext/digests, never plaintext.
// Once Expired is set, Payload and Passphrase are nil and stay nil.
type Push struct {
	ID                uint       `gorm:"primaryKey"`
	URLToken          string     `gorm:"size:32;not null;uniqueIndex"`
	Kind              PushKind   `gorm:"size:8;not null;default:text"`
	Name              string     `gorm:"size:255;not null;default:''"`
	Payload           []byte
	Note              []byte
	Passphrase        []byte
	ExpireAfterDays   int        `gorm:"not null"`
	ExpireAfterViews  int        `gorm:"not null"`
	Expired           bool       `gorm:"not null;default:false;index"`
	ExpiredOn         *time.Time `gorm:"index"`
	DeletableByViewer bool       `gorm:"not null"`
	RetrievalStep     bool       `gorm:"not null;default:false"`
	UserID            *uint      `gorm:"index"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`

	Files []PushFile `gorm:"foreignKey:PushID"`
}

// HasPassphrase reports whether viewers must supply a passphrase.
func (p *Push) HasPassphrase() bool {
	return len(p.Passphrase) > 0
}

// OwnedBy reports whether userID owns the push.
func (p *Push) OwnedBy(userID uint) bool {
	return p.UserID != nil && *p.UserID == userID
}
