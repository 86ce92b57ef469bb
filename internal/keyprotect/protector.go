// Package keyprotect encrypts custodial private keys at rest. Key material
// is stored only in protected form; decryption happens transiently per
// signing operation.
package keyprotect

import (
	"context"
	"fmt"
)

// Protector encrypts and decrypts custodial key material.
// Backends: local master key, AWS KMS, HashiCorp Vault transit.
type Protector interface {
	// Encrypt protects plaintext key material
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt recovers key material from its protected form
	Decrypt(ctx context.Context, blob []byte) ([]byte, error)

	// Provider returns the backend name ("local", "aws-kms", "vault")
	Provider() string
}

// Config selects and configures a Protector backend
type Config struct {
	Provider string

	// Local backend: a hex master key, or Shamir shares to combine into one
	LocalMasterKeyHex string
	MasterKeyShares   []string

	// AWS KMS backend
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault transit backend
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// New constructs the configured Protector
func New(cfg *Config) (Protector, error) {
	switch cfg.Provider {
	case "local":
		masterKey, err := resolveMasterKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewLocalProtector(masterKey)
	case "aws-kms":
		return NewAWSKMSProtector(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case "vault":
		return NewVaultProtector(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unknown key protection provider: %s", cfg.Provider)
	}
}
