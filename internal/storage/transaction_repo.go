package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Transaction records one custodial submission and its lifecycle state
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	FromAddress  string
	ToAddress    *string
	TxHash       *string
	Status       types.TxStatus
	Nonce        *int64
	GasPrice     *string
	GasLimit     *int64
	Value        *string
	Data         *string
	ReplacesHash *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TransactionRepository handles transaction lifecycle records
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

const transactionColumns = `id, user_id, from_address, to_address, tx_hash, status,
	nonce, gas_price, gas_limit, value, data, replaces_hash, error_message,
	created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.FromAddress,
		&tx.ToAddress,
		&tx.TxHash,
		&tx.Status,
		&tx.Nonce,
		&tx.GasPrice,
		&tx.GasLimit,
		&tx.Value,
		&tx.Data,
		&tx.ReplacesHash,
		&tx.ErrorMessage,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Create inserts a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *Transaction) (*Transaction, error) {
	query := `
		INSERT INTO transactions (
			user_id, from_address, to_address, tx_hash, status,
			nonce, gas_price, gas_limit, value, data, replaces_hash, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + transactionColumns

	created, err := scanTransaction(r.store.pool.QueryRow(ctx, query,
		tx.UserID,
		tx.FromAddress,
		tx.ToAddress,
		tx.TxHash,
		tx.Status,
		tx.Nonce,
		tx.GasPrice,
		tx.GasLimit,
		tx.Value,
		tx.Data,
		tx.ReplacesHash,
		tx.ErrorMessage,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return created, nil
}

// UpdateStatus transitions a transaction record, optionally recording the
// confirmed hash and an error message
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status types.TxStatus, txHash, errorMessage *string) error {
	query := `
		UPDATE transactions
		SET status = $2,
			tx_hash = COALESCE($3, tx_hash),
			error_message = $4,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.store.pool.Exec(ctx, query, id, status, txHash, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// MarkSuperseded transitions the submitted record carrying txHash to
// replaced or cancelled. Terminal records are left untouched.
func (r *TransactionRepository) MarkSuperseded(ctx context.Context, txHash string, status types.TxStatus) error {
	query := `
		UPDATE transactions
		SET status = $2, updated_at = NOW()
		WHERE tx_hash = $1 AND status = $3
	`

	_, err := r.store.pool.Exec(ctx, query, txHash, status, types.TxStatusSubmitted)
	if err != nil {
		return fmt.Errorf("failed to mark transaction superseded: %w", err)
	}
	return nil
}

// GetByTxHash retrieves a transaction record by its on-chain hash
func (r *TransactionRepository) GetByTxHash(ctx context.Context, txHash string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_hash = $1`

	tx, err := scanTransaction(r.store.pool.QueryRow(ctx, query, txHash))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByAddress retrieves records where the address is sender or recipient
func (r *TransactionRepository) ListByAddress(ctx context.Context, address string) ([]Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_address = $1 OR to_address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.store.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}
