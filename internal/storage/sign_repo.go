package storage

import (
	"context"
	"fmt"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SignRepository is the consent ledger: an append-only store of every
// signature issued or rejected. No update or delete statements exist here.
type SignRepository struct {
	store *Store
}

// NewSignRepository creates a new SignRepository
func NewSignRepository(store *Store) *SignRepository {
	return &SignRepository{store: store}
}

const signColumns = `id, creator, address, message, sign, app_id, redirect_url, disposition, created_at`

func scanSign(row pgx.Row) (*types.SignatureRecord, error) {
	var s types.SignatureRecord
	err := row.Scan(
		&s.ID,
		&s.Creator,
		&s.Address,
		&s.Message,
		&s.Signature,
		&s.AppID,
		&s.RedirectURL,
		&s.Disposition,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create appends a signature record
func (r *SignRepository) Create(ctx context.Context, tx DBTX, rec *types.SignatureRecord) (*types.SignatureRecord, error) {
	query := `
		INSERT INTO signs (creator, address, message, sign, app_id, redirect_url, disposition)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + signColumns

	created, err := scanSign(tx.QueryRow(ctx, query,
		rec.Creator,
		rec.Address,
		rec.Message,
		rec.Signature,
		rec.AppID,
		rec.RedirectURL,
		rec.Disposition,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign record: %w", err)
	}
	return created, nil
}

// GetBySignature retrieves a record by its signature value.
// Returns nil when no row matches.
func (r *SignRepository) GetBySignature(ctx context.Context, signature string) (*types.SignatureRecord, error) {
	query := `SELECT ` + signColumns + ` FROM signs WHERE sign = $1 ORDER BY created_at LIMIT 1`

	rec, err := scanSign(r.store.pool.QueryRow(ctx, query, signature))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sign record: %w", err)
	}
	return rec, nil
}

// ListByCreator retrieves all records created by a user, newest first
func (r *SignRepository) ListByCreator(ctx context.Context, creator uuid.UUID) ([]types.SignatureRecord, error) {
	query := `SELECT ` + signColumns + ` FROM signs WHERE creator = $1 ORDER BY created_at DESC`

	rows, err := r.store.pool.Query(ctx, query, creator)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign records: %w", err)
	}
	defer rows.Close()

	var out []types.SignatureRecord
	for rows.Next() {
		rec, err := scanSign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sign record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
