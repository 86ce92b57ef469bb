package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dou-wallet/dou-gateway/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApplicationRepository handles relying-party application records.
// Applications are created and updated administratively; this service
// only reads them.
type ApplicationRepository struct {
	store *Store
}

// NewApplicationRepository creates a new ApplicationRepository
func NewApplicationRepository(store *Store) *ApplicationRepository {
	return &ApplicationRepository{store: store}
}

const applicationColumns = `id, name, description, domain, logo, redirect_urls, developers`

func scanApplication(row pgx.Row) (*types.Application, error) {
	var app types.Application
	var redirectsJSON, developersJSON []byte
	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Description,
		&app.Domain,
		&app.Logo,
		&redirectsJSON,
		&developersJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(redirectsJSON) > 0 {
		if err := json.Unmarshal(redirectsJSON, &app.RedirectURLs); err != nil {
			return nil, fmt.Errorf("failed to parse redirect URLs: %w", err)
		}
	}
	if len(developersJSON) > 0 {
		if err := json.Unmarshal(developersJSON, &app.Developers); err != nil {
			return nil, fmt.Errorf("failed to parse developers: %w", err)
		}
	}
	return &app, nil
}

// GetByID retrieves an application by ID. Returns nil when no row matches.
func (r *ApplicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`

	app, err := scanApplication(r.store.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

// List retrieves all applications
func (r *ApplicationRepository) List(ctx context.Context) ([]types.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications ORDER BY name`

	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []types.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, *app)
	}
	return out, rows.Err()
}
