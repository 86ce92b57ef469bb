package storage

import (
	"context"
	"fmt"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/jackc/pgx/v5"
)

// ContractRepository handles registered contract records
type ContractRepository struct {
	store *Store
}

// NewContractRepository creates a new ContractRepository
func NewContractRepository(store *Store) *ContractRepository {
	return &ContractRepository{store: store}
}

// GetByAddress retrieves a contract by its address. Returns nil when no row matches.
func (r *ContractRepository) GetByAddress(ctx context.Context, address string) (*types.Contract, error) {
	query := `
		SELECT id, app_id, name, address, abi, code, created_at
		FROM contracts
		WHERE address = $1
	`

	var c types.Contract
	err := r.store.pool.QueryRow(ctx, query, address).Scan(
		&c.ID,
		&c.AppID,
		&c.Name,
		&c.Address,
		&c.ABI,
		&c.Code,
		&c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}
