// Package custody maps users to managed blockchain addresses and guards
// custodial private key material. Inner keys are generated here, stored only
// in protected form, and decrypted transiently per signing operation.
package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/dou-wallet/dou-gateway/internal/keyprotect"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

// InnerKey is the resolved custodial key of a user. It is a capability:
// callers use it for one signing or sending operation and call Close when
// done. It must never be persisted or logged.
type InnerKey struct {
	Address string
	secret  *types.Secret
}

// NewInnerKey wraps key material already in hand. Regular resolution goes
// through Store.ResolveInnerKey; this exists for construction in tests and
// tooling.
func NewInnerKey(address string, keyBytes []byte) *InnerKey {
	return &InnerKey{
		Address: address,
		secret:  types.NewSecret(keyBytes),
	}
}

// PrivateKey parses the key material into an ECDSA private key
func (k *InnerKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	pk, err := crypto.ToECDSA(k.secret.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse key material: %w", err)
	}
	return pk, nil
}

// Close zeroes the underlying key material
func (k *InnerKey) Close() {
	k.secret.Zero()
}

// AddressRepository is the persistence surface the custody store needs.
// *storage.AddressRepository satisfies it; tests substitute stubs.
type AddressRepository interface {
	CreateInner(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, encryptedKey []byte) (*types.ManagedAddress, error)
	CreateOuter(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error)
	GetInnerByUserID(ctx context.Context, userID uuid.UUID) (*types.ManagedAddress, error)
	GetByAddress(ctx context.Context, address string) (*types.ManagedAddress, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error)
}

// Store resolves users to managed addresses and key material
type Store struct {
	addresses AddressRepository
	protector keyprotect.Protector
}

// NewStore creates a custody store
func NewStore(addresses AddressRepository, protector keyprotect.Protector) *Store {
	return &Store{
		addresses: addresses,
		protector: protector,
	}
}

// CreateInnerAddress generates a fresh secp256k1 key for the user, protects
// it, and records the inner managed address. Called once at registration;
// tx lets it join the user-creation transaction.
func (s *Store) CreateInnerAddress(ctx context.Context, tx storage.DBTX, userID uuid.UUID) (*types.ManagedAddress, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	keyBytes := crypto.FromECDSA(privateKey)
	encrypted, err := s.protector.Encrypt(ctx, keyBytes)
	for i := range keyBytes {
		keyBytes[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("failed to protect private key: %w", err)
	}

	return s.addresses.CreateInner(ctx, tx, userID, address, encrypted)
}

// ResolveInnerKey returns the user's custodial address and decrypted key.
// A user without an inner address is a data-integrity error: registration
// always creates one.
func (s *Store) ResolveInnerKey(ctx context.Context, userID uuid.UUID) (*InnerKey, error) {
	row, err := s.addresses.GetInnerByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeNotFound,
			"User has no custodial address",
			fmt.Sprintf("user_id: %s", userID),
			http.StatusInternalServerError,
		)
	}

	keyBytes, err := s.protector.Decrypt(ctx, row.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unprotect private key: %w", err)
	}

	return &InnerKey{
		Address: row.Address,
		secret:  types.NewSecret(keyBytes),
	}, nil
}

// BindOuter associates an externally-owned address with the user, referencing
// the consent record that proved ownership. Fails with AlreadyBound when the
// address is associated with any user.
func (s *Store) BindOuter(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error) {
	existing, err := s.addresses.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.AlreadyBound(address)
	}

	bound, err := s.addresses.CreateOuter(ctx, tx, userID, address, signID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyBound(address)
		}
		return nil, err
	}
	return bound, nil
}

// Addresses lists all managed addresses of a user, key material omitted
func (s *Store) Addresses(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error) {
	return s.addresses.ListByUserID(ctx, userID)
}

// SameAddress compares two hex addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
