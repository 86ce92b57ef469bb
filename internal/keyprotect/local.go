package keyprotect

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the derived encryption key from other uses of
// the master key
const hkdfInfo = "dou-gateway/keyprotect/v1"

// LocalProtector protects key material with AES-GCM under a key derived
// from a master key via HKDF-SHA256. Suitable for development or simple
// self-hosted deployments.
type LocalProtector struct {
	encKey []byte
}

// NewLocalProtector creates a local protector from a 32-byte master key
func NewLocalProtector(masterKey []byte) (*LocalProtector, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	encKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return &LocalProtector{encKey: encKey}, nil
}

// Encrypt seals plaintext with AES-GCM, prefixing the nonce
func (p *LocalProtector) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt
func (p *LocalProtector) Decrypt(ctx context.Context, blob []byte) ([]byte, error) {
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted blob too short")
	}

	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key material: %w", err)
	}
	return plaintext, nil
}

// Provider returns the backend name
func (p *LocalProtector) Provider() string {
	return "local"
}

func (p *LocalProtector) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ParseMasterKeyHex decodes a hex-encoded 32-byte master key
func ParseMasterKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
