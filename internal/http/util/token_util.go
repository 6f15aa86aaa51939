package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("token secret is not configured")
)

// TokenSigner issues short-lived HMAC tokens bound to a subject (a push token,
// or a push token plus file id). The purpose is mixed into the MAC so a token
// minted for one flow is rejected by the other.
type TokenSigner struct {
	secret  []byte
	purpose string
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenSigner returns a signer that issues compact HMAC tokens.
func NewTokenSigner(secret []byte, purpose string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret:  secret,
		purpose: purpose,
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL reports how long issued tokens stay valid.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for subject and returns it with its expiry.
func (s *TokenSigner) Issue(subject string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}

	payload := make([]byte, 16) // 8 bytes expiry + 8 random bytes
	expires := s.now().Add(s.ttl).Truncate(time.Second)
	binary.BigEndian.PutUint64(payload[:8], uint64(expires.Unix()))
	if _, err := rand.Read(payload[8:]); err != nil {
		return "", time.Time{}, err
	}

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	signature := s.sign(subject, payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(signature[:16])
	return fmt.Sprintf("%s.%s", payloadEnc, sigEnc), expires, nil
}

// Validate checks signature integrity and TTL of the token.
func (s *TokenSigner) Validate(subject, token string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(token, ".")
	if !ok {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 16 {
		return ErrInvalidToken
	}

	sigProvided, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sigProvided) != 16 {
		return ErrInvalidToken
	}

	expected := s.sign(subject, payload)
	if !hmac.Equal(sigProvided, expected[:16]) {
		return ErrInvalidToken
	}

	expires := int64(binary.BigEndian.Uint64(payload[:8]))
	if s.now().Unix() > expires {
		return ErrInvalidToken
	}

	return nil
}

func (s *TokenSigner) sign(subject string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.purpose))
	mac.Write([]byte("|"))
	mac.Write([]byte(subject))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
