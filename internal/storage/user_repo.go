package storage

import (
	"context"
	"fmt"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository handles user data operations
type UserRepository struct {
	store *Store
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

const userColumns = `id, phone, user_name, email, card, region, level, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.Phone,
		&u.UserName,
		&u.Email,
		&u.Card,
		&u.Region,
		&u.Level,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new user keyed by phone number.
// The unique constraint on phone surfaces through IsUniqueViolation.
func (r *UserRepository) Create(ctx context.Context, tx DBTX, phone string) (*types.User, error) {
	query := `
		INSERT INTO users (phone)
		VALUES ($1)
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, query, phone))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.store.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`

	user, err := scanUser(r.store.pool.QueryRow(ctx, query, phone))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}
	return user, nil
}

// UpdateProfile updates the mutable profile fields of a user
func (r *UserRepository) UpdateProfile(ctx context.Context, u *types.User) error {
	query := `
		UPDATE users
		SET user_name = $2, email = $3, card = $4, region = $5, level = $6, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.store.pool.Exec(ctx, query,
		u.ID,
		u.UserName,
		u.Email,
		u.Card,
		u.Region,
		u.Level,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}
