package schema

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrCipherUnavailable is returned when an encrypted field is used without a cipher
var ErrCipherUnavailable = errors.New("no cipher configured for encrypted fields")

// Cipher transforms encrypted-unique field values before storage.
// Seal must be deterministic so the store's unique index and equality
// filters keep working on sealed values.
type Cipher interface {
	Seal(field, plaintext string) (string, error)
	Open(field, sealed string) (string, error)
}

type aesCipher struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewAESCipher returns a deterministic AES-GCM cipher. The nonce is an
// HMAC-SHA256 of the field name and plaintext, so equal inputs seal equally.
// key must be 16, 24 or 32 bytes.
func NewAESCipher(key []byte) (Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("entity4go:nonce"))
	return &aesCipher{aead: aead, macKey: mac.Sum(nil)}, nil
}

func (c *aesCipher) nonce(field, plaintext string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(field))
	mac.Write([]byte{0})
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)[:c.aead.NonceSize()]
}

// Seal encrypts plaintext, bound to the field name
func (c *aesCipher) Seal(field, plaintext string) (string, error) {
	nonce := c.nonce(field, plaintext)
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return hex.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal for the same field
func (c *aesCipher) Open(field, sealed string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("sealed value too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], []byte(field))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}
