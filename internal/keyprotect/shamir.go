package keyprotect

import (
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// resolveMasterKey returns the local master key either directly from hex or
// by combining Shamir shares (vault unseal style: operators each hold one
// share and no single share reveals the key).
func resolveMasterKey(cfg *Config) ([]byte, error) {
	if cfg.LocalMasterKeyHex != "" {
		return ParseMasterKeyHex(cfg.LocalMasterKeyHex)
	}
	if len(cfg.MasterKeyShares) > 0 {
		return CombineMasterKeyShares(cfg.MasterKeyShares)
	}
	return nil, fmt.Errorf("local provider requires a master key or master key shares")
}

// SplitMasterKey splits a master key into hex-encoded Shamir shares
func SplitMasterKey(masterKey []byte, parts, threshold int) ([]string, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	shares, err := shamir.Split(masterKey, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}

	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = hex.EncodeToString(s)
	}
	return out, nil
}

// CombineMasterKeyShares reconstructs the master key from hex-encoded shares
func CombineMasterKeyShares(hexShares []string) ([]byte, error) {
	if len(hexShares) < 2 {
		return nil, fmt.Errorf("at least 2 shares are required, got %d", len(hexShares))
	}

	shares := make([][]byte, len(hexShares))
	for i, hs := range hexShares {
		b, err := hex.DecodeString(hs)
		if err != nil {
			return nil, fmt.Errorf("share %d is not valid hex: %w", i, err)
		}
		shares[i] = b
	}

	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("combined key has unexpected length %d", len(key))
	}
	return key, nil
}
