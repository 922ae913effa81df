// Package secrets is the at-rest secret encryption concern backing
// config.MasterKey and the secret-rotation feature flag: SCM tokens and
// signing key references are sealed with a key derived from the
// operator-supplied master key before they ever reach the store.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Box seals and opens secret values under a single derived key.
type Box struct {
	cipher cipher.AEAD
}

// NewBox derives a 256-bit AEAD key from masterKey via HKDF-SHA256 (info
// "chengis-secrets-v1", so a future second use of the same master key for
// a different purpose derives an independent key) and constructs a Box.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("secrets: master key must not be empty")
	}
	derived := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("chengis-secrets-v1"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("secrets: construct AEAD: %w", err)
	}
	return &Box{cipher: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext. label binds the
// ciphertext to its purpose (e.g. "scm-token:github") as AEAD additional
// data, so a sealed value cannot be swapped in for a different field.
func (b *Box) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, b.cipher.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := b.cipher.Seal(nil, nonce, plaintext, []byte(label))
	return append(nonce, sealed...), nil
}

// Open decrypts a value produced by Seal with the same label.
func (b *Box) Open(sealed []byte, label string) ([]byte, error) {
	nonceSize := b.cipher.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("secrets: sealed value shorter than nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := b.cipher.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("secrets: open: %w", err)
	}
	return plaintext, nil
}

// Rotate decrypts sealed under oldKey and re-encrypts it under newKey,
// the primitive the secret-rotation scheduler's RotateFunc calls for
// every stored secret on a rotation cycle.
func Rotate(oldKey, newKey []byte, sealed []byte, label string) ([]byte, error) {
	oldBox, err := NewBox(oldKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: rotate: old key: %w", err)
	}
	plaintext, err := oldBox.Open(sealed, label)
	if err != nil {
		return nil, fmt.Errorf("secrets: rotate: decrypt under old key: %w", err)
	}
	newBox, err := NewBox(newKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: rotate: new key: %w", err)
	}
	resealed, err := newBox.Seal(plaintext, label)
	if err != nil {
		return nil, fmt.Errorf("secrets: rotate: reseal under new key: %w", err)
	}
	return resealed, nil
}
