package storage

import (
	"context"
	"fmt"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddressRepository handles managed address rows. Encrypted key material
// only leaves this package through GetInnerByUserID.
type AddressRepository struct {
	store *Store
}

// NewAddressRepository creates a new AddressRepository
func NewAddressRepository(store *Store) *AddressRepository {
	return &AddressRepository{store: store}
}

const addressColumns = `id, user_id, address, kind, encrypted_key, sign_id, created_at`

func scanAddress(row pgx.Row) (*types.ManagedAddress, error) {
	var a types.ManagedAddress
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Address,
		&a.Kind,
		&a.EncryptedKey,
		&a.SignID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateInner inserts a custodial address with its encrypted key material
func (r *AddressRepository) CreateInner(ctx context.Context, tx DBTX, userID uuid.UUID, address string, encryptedKey []byte) (*types.ManagedAddress, error) {
	query := `
		INSERT INTO managed_addresses (user_id, address, kind, encrypted_key)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + addressColumns

	addr, err := scanAddress(tx.QueryRow(ctx, query, userID, address, types.AddressKindInner, encryptedKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create inner address: %w", err)
	}
	return addr, nil
}

// CreateOuter inserts an externally-owned address referencing its proof signature
func (r *AddressRepository) CreateOuter(ctx context.Context, tx DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error) {
	query := `
		INSERT INTO managed_addresses (user_id, address, kind, sign_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + addressColumns

	addr, err := scanAddress(tx.QueryRow(ctx, query, userID, address, types.AddressKindOuter, signID))
	if err != nil {
		return nil, fmt.Errorf("failed to create outer address: %w", err)
	}
	return addr, nil
}

// GetInnerByUserID retrieves the custodial address of a user, including
// encrypted key material. Returns nil when the user has none.
func (r *AddressRepository) GetInnerByUserID(ctx context.Context, userID uuid.UUID) (*types.ManagedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM managed_addresses WHERE user_id = $1 AND kind = $2`

	addr, err := scanAddress(r.store.pool.QueryRow(ctx, query, userID, types.AddressKindInner))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inner address: %w", err)
	}
	return addr, nil
}

// GetByAddress retrieves a managed address row by its address string
func (r *AddressRepository) GetByAddress(ctx context.Context, address string) (*types.ManagedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM managed_addresses WHERE address = $1`

	addr, err := scanAddress(r.store.pool.QueryRow(ctx, query, address))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return addr, nil
}

// ListByUserID retrieves all addresses of a user with key material omitted
func (r *AddressRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error) {
	query := `
		SELECT id, user_id, address, kind, sign_id, created_at
		FROM managed_addresses
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := r.store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var out []types.ManagedAddress
	for rows.Next() {
		var a types.ManagedAddress
		if err := rows.Scan(&a.ID, &a.UserID, &a.Address, &a.Kind, &a.SignID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
