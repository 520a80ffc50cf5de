package crypto

import (
	"encoding/base64"
	"fmt"
)

// NoOpProtector returns its input unchanged.
type NoOpProtector struct{}

// Protect returns plaintext as-is.
func (NoOpProtector) Protect(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Unprotect returns data as-is.
func (NoOpProtector) Unprotect(data []byte) ([]byte, error) { return data, nil }

// ProtectString protects s and returns base64 text suitable for text columns.
func ProtectString(p Protector, s string) (string, error) {
	sealed, err := p.Protect([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// UnprotectString reverses ProtectString.
func UnprotectString(p Protector, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidCiphertext, err)
	}
	plaintext, err := p.Unprotect(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
