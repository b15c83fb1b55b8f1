package repository

import (
	"context"
	"fmt"

	"github.com/flowdata/salesreport/internal/database"
	"github.com/flowdata/salesreport/internal/models"
)

// OrderRepository defines data access operations over the orders table
// used by the enrichment coordinator and the reporting reader.
type OrderRepository interface {
	// DistinctUnresolvedIPs enumerates the distinct IP addresses known to
	// the store (from orders or the IP-addresses load) that have no
	// resolved Location yet. Returns an empty slice when everything is
	// resolved (not an error).
	DistinctUnresolvedIPs(ctx context.Context) ([]string, error)

	// ApplyLocations joins resolved locations onto orders in a single
	// set-based update and returns the number of orders enriched.
	// Orders already carrying a city are left untouched.
	ApplyLocations(ctx context.Context) (int64, error)

	// ExportRows reads the flat export projection of every order,
	// including orders whose location fields are still NULL.
	ExportRows(ctx context.Context) ([]models.ExportRow, error)

	// QuarterlySales aggregates sales for the given state and calendar
	// year, grouped by quarter and city, ordered by quarter then city.
	// Orders without a resolved city are excluded.
	QuarterlySales(ctx context.Context, state string, year int) ([]models.QuarterlySales, error)
}

// orderRepository is the concrete implementation of OrderRepository.
type orderRepository struct {
	db *database.Database
}

// NewOrderRepository creates a new instance of OrderRepository.
func NewOrderRepository(db *database.Database) OrderRepository {
	return &orderRepository{
		db: db,
	}
}

// DistinctUnresolvedIPs unions the addresses referenced by orders with the
// separately loaded IP-addresses table and removes everything already
// present in ip_locations.
func (r *orderRepository) DistinctUnresolvedIPs(ctx context.Context) ([]string, error) {
	query := `
		SELECT c.ip_address
		FROM (
			SELECT ip_address FROM orders WHERE ip_address <> ''
			UNION
			SELECT ip_address FROM ip_addresses
		) c
		LEFT JOIN ip_locations l ON l.ip_address = c.ip_address
		WHERE l.ip_address IS NULL
		ORDER BY c.ip_address
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved IPs: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan unresolved IP row: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unresolved IP rows: %w", err)
	}

	if ips == nil {
		ips = []string{}
	}
	return ips, nil
}

// ApplyLocations performs the set-based enrichment join. One statement
// updates every matching order, not one statement per order.
func (r *orderRepository) ApplyLocations(ctx context.Context) (int64, error) {
	query := `
		UPDATE orders o
		SET city     = l.city,
		    state    = l.state,
		    zip_code = l.zip_code
		FROM ip_locations l
		WHERE o.ip_address = l.ip_address
		  AND o.city IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to apply locations to orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExportRows reads the flat export of every order.
func (r *orderRepository) ExportRows(ctx context.Context) ([]models.ExportRow, error) {
	query := `
		SELECT order_number, city, state, zip_code
		FROM orders
		ORDER BY order_number
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query export rows: %w", err)
	}
	defer rows.Close()

	var result []models.ExportRow
	for rows.Next() {
		var row models.ExportRow
		if err := rows.Scan(&row.OrderNumber, &row.City, &row.State, &row.ZipCode); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export rows: %w", err)
	}

	if result == nil {
		result = []models.ExportRow{}
	}
	return result, nil
}

// QuarterlySales aggregates enriched orders by quarter and city for one
// state and year.
func (r *orderRepository) QuarterlySales(ctx context.Context, state string, year int) ([]models.QuarterlySales, error) {
	query := `
		SELECT EXTRACT(QUARTER FROM order_date)::int AS quarter,
		       city,
		       SUM(sale_amount) AS total_sales
		FROM orders
		WHERE state = $1
		  AND EXTRACT(YEAR FROM order_date)::int = $2
		  AND city IS NOT NULL
		GROUP BY quarter, city
		ORDER BY quarter, city
	`

	rows, err := r.db.Pool.Query(ctx, query, state, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarterly sales (state=%s, year=%d): %w", state, year, err)
	}
	defer rows.Close()

	var result []models.QuarterlySales
	for rows.Next() {
		var row models.QuarterlySales
		if err := rows.Scan(&row.Quarter, &row.City, &row.TotalSales); err != nil {
			return nil, fmt.Errorf("failed to scan quarterly sales row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quarterly sales rows: %w", err)
	}

	if result == nil {
		result = []models.QuarterlySales{}
	}
	return result, nil
}
