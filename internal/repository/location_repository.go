package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowdata/salesreport/internal/database"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/jackc/pgx/v5"
)

// LocationRepository defines data access operations over the ip_locations
// table.
type LocationRepository interface {
	// GetByIP returns the persisted Location for an address.
	// Returns nil, nil if no Location exists (not an error).
	GetByIP(ctx context.Context, ip string) (*models.Location, error)

	// Count returns the number of persisted Location rows for an address.
	// Used to verify the at-most-one invariant; always 0 or 1 under the
	// primary key, surfaced for diagnostics.
	Count(ctx context.Context, ip string) (int, error)
}

// locationRepository is the concrete implementation of LocationRepository.
type locationRepository struct {
	db *database.Database
}

// NewLocationRepository creates a new instance of LocationRepository.
func NewLocationRepository(db *database.Database) LocationRepository {
	return &locationRepository{
		db: db,
	}
}

// GetByIP looks up one persisted Location by its address.
func (r *locationRepository) GetByIP(ctx context.Context, ip string) (*models.Location, error) {
	query := `
		SELECT ip_address, city, state, zip_code, resolved_at
		FROM ip_locations
		WHERE ip_address = $1
	`

	var loc models.Location
	err := r.db.Pool.QueryRow(ctx, query, ip).Scan(
		&loc.IPAddress,
		&loc.City,
		&loc.State,
		&loc.ZipCode,
		&loc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query location for %s: %w", ip, err)
	}

	return &loc, nil
}

// Count returns how many Location rows exist for the address.
func (r *locationRepository) Count(ctx context.Context, ip string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ip_locations WHERE ip_address = $1`, ip).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locations for %s: %w", ip, err)
	}
	return count, nil
}
