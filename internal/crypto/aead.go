package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes for AES-256")

	// ErrInvalidNonceSize is returned when the provided nonce is not 12 bytes
	ErrInvalidNonceSize = errors.New("nonce must be exactly 12 bytes for GCM")

	// ErrAuthenticationFailed is returned when GCM authentication tag verification fails
	ErrAuthenticationFailed = errors.New("authentication failed: ciphertext has been tampered with")
)

func newGCM(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts and authenticates plaintext using AES-256-GCM. The returned
// ciphertext carries the 16-byte tag. A nonce must never be reused with the same key.
func Seal(key []byte, nonce []byte, aad []byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts ciphertext produced by Seal. No plaintext is returned unless
// the tag verifies.
func Open(key []byte, nonce []byte, aad []byte, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, errors.New("ciphertext too short (must be at least 16 bytes for tag)")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}
