package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when stored ciphertext cannot be opened with the
// configured master key.
var ErrDecrypt = errors.New("payload decryption failed")

// Cipher seals push payloads and notes with XChaCha20-Poly1305. The push
// token is bound as additional data so ciphertext cannot be moved between rows.
type Cipher struct {
	key []byte
}

// NewCipher returns a Cipher for a 32 byte master key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes", chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Cipher{key: k}, nil
}

// Seal encrypts plaintext. Empty plaintext yields nil.
func (c *Cipher) Seal(plaintext []byte, token string) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(token)), nil
}

// Open decrypts ciphertext produced by Seal. Nil ciphertext yields nil.
func (c *Cipher) Open(ciphertext []byte, token string) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(token))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// maxPassphraseBytes is the bcrypt input limit.
const maxPassphraseBytes = 72

func digestPassphrase(passphrase string, cost int) ([]byte, error) {
	if passphrase == "" {
		return nil, nil
	}
	if len(passphrase) > maxPassphraseBytes {
		return nil, ErrInvalidPassphrase
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(passphrase), cost)
}

func passphraseMatches(digest []byte, passphrase string) bool {
	return bcrypt.CompareHashAndPassword(digest, []byte(passphrase)) == nil
}

// NewURLToken returns a 22 character base64url token carrying 128 random bits.
func NewURLToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ValidURLToken reports whether s has the shape of a token from NewURLToken.
func ValidURLToken(s string) bool {
	if len(s) != 22 {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(b) == 16
}
