// Package crypto provides encryption and signing utilities for webhook secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("crypto: invalid encryption key")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	// ErrDecryptionFailed is returned when authentication of the ciphertext fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Protector encrypts and decrypts opaque payloads.
type Protector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// Cipher is an AES-256-GCM Protector. Output is nonce || sealed data.
// The purpose string is bound as additional authenticated data, so a payload
// protected for one purpose never opens under another.
type Cipher struct {
	aead    cipher.AEAD
	purpose []byte
}

var _ Protector = (*Cipher)(nil)

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be exactly %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewPurposeCipher derives a purpose-scoped key from a master key using
// HKDF-SHA256 and returns a Cipher bound to that purpose.
func NewPurposeCipher(masterKey []byte, purpose string) (*Cipher, error) {
	if purpose == "" {
		return nil, fmt.Errorf("%w: purpose is required", ErrInvalidKey)
	}
	key, err := DerivePurposeKey(masterKey, purpose)
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	c.purpose = []byte(purpose)
	return c, nil
}

// DerivePurposeKey expands masterKey into a KeySize key for purpose.
func DerivePurposeKey(masterKey []byte, purpose string) ([]byte, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", ErrInvalidKey, KeySize)
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a key in the given format: "hex", "base64" or "raw".
func ParseKey(encoded, format string) ([]byte, error) {
	switch format {
	case "hex":
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex key: %v", ErrInvalidKey, err)
		}
		return key, nil
	case "base64":
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 key: %v", ErrInvalidKey, err)
		}
		return key, nil
	case "raw", "":
		return []byte(encoded), nil
	default:
		return nil, fmt.Errorf("%w: unknown key format %q", ErrInvalidKey, format)
	}
}

// Protect seals plaintext with a random nonce.
func (c *Cipher) Protect(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, c.purpose), nil
}

// Unprotect opens data produced by Protect.
func (c *Cipher) Unprotect(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrInvalidCiphertext)
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, c.purpose)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
