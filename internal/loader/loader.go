package loader

import (
	"context"
	"fmt"

	"github.com/flowdata/salesreport/internal/database"
	apperrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/jackc/pgx/v5"
)

const (
	insertOrderSQL = `
		INSERT INTO orders (order_number, order_date, ip_address, sale_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_number) DO NOTHING`

	insertIPAddressSQL = `
		INSERT INTO ip_addresses (ip_address)
		VALUES ($1)
		ON CONFLICT (ip_address) DO NOTHING`

	insertLocationSQL = `
		INSERT INTO ip_locations (ip_address, city, state, zip_code, resolved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ip_address) DO NOTHING`
)

// Loader appends rows to the store in bounded-size batches. Each batch is
// committed in its own transaction, so a mid-load failure leaves prior
// batches durable and only the failing batch and later ones unapplied.
// Inserts skip natural-key conflicts, which makes re-running a load a
// safe no-op; retry policy belongs to the caller.
type Loader struct {
	db  *database.Database
	log *logger.Logger

	// commit is the seam between batching and the store; tests replace it.
	commit func(ctx context.Context, b *pgx.Batch) (int64, error)
}

// New creates a new Loader backed by the given database.
func New(db *database.Database, log *logger.Logger) *Loader {
	l := &Loader{
		db:  db,
		log: log,
	}
	l.commit = l.commitBatch
	return l
}

// LoadOrders bulk-inserts orders, batchSize rows per transaction.
// Returns the number of rows actually inserted; rows whose order number
// already exists are skipped by the store and not counted.
func (l *Loader) LoadOrders(ctx context.Context, orders []models.Order, batchSize int) (int64, error) {
	return loadBatches(ctx, l, "orders", orders, batchSize, func(b *pgx.Batch, o models.Order) {
		b.Queue(insertOrderSQL, o.OrderNumber, o.OrderDate, o.IPAddress, o.SaleAmount)
	})
}

// LoadIPAddresses bulk-inserts distinct IP addresses awaiting resolution.
func (l *Loader) LoadIPAddresses(ctx context.Context, ips []string, batchSize int) (int64, error) {
	return loadBatches(ctx, l, "ip_addresses", ips, batchSize, func(b *pgx.Batch, ip string) {
		b.Queue(insertIPAddressSQL, ip)
	})
}

// LoadLocations bulk-inserts resolved locations. An address that already
// has a Location row is skipped, never duplicated.
func (l *Loader) LoadLocations(ctx context.Context, locations []models.Location, batchSize int) (int64, error) {
	return loadBatches(ctx, l, "ip_locations", locations, batchSize, func(b *pgx.Batch, loc models.Location) {
		b.Queue(insertLocationSQL, loc.IPAddress, loc.City, loc.State, loc.ZipCode, loc.ResolvedAt)
	})
}

// loadBatches partitions rows into consecutive batches of at most
// batchSize and commits each one independently. Memory held per commit is
// bounded by batchSize regardless of total row count. A failing batch
// aborts the load with a LoadError naming the zero-based batch index.
func loadBatches[T any](ctx context.Context, l *Loader, table string, rows []T, batchSize int, enqueue func(*pgx.Batch, T)) (int64, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	var inserted int64
	for start, batchIdx := 0, 0; start < len(rows); start, batchIdx = start+batchSize, batchIdx+1 {
		end := min(start+batchSize, len(rows))

		b := &pgx.Batch{}
		for _, row := range rows[start:end] {
			enqueue(b, row)
		}

		n, err := l.commit(ctx, b)
		if err != nil {
			l.log.Error("Bulk load batch failed", err, map[string]interface{}{
				"table": table,
				"batch": batchIdx,
				"rows":  b.Len(),
			})
			return inserted, apperrors.NewLoadError(table, batchIdx, err)
		}
		inserted += n

		l.log.Debug("Bulk load batch committed", map[string]interface{}{
			"table":    table,
			"batch":    batchIdx,
			"rows":     b.Len(),
			"inserted": n,
		})
	}

	l.log.Info("Bulk load complete", map[string]interface{}{
		"table":    table,
		"rows":     len(rows),
		"inserted": inserted,
		"batches":  batchCount(len(rows), batchSize),
	})

	return inserted, nil
}

// commitBatch sends one batch inside its own transaction and returns the
// number of rows the store reports as inserted.
func (l *Loader) commitBatch(ctx context.Context, b *pgx.Batch) (int64, error) {
	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)

	var inserted int64
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to execute batch statement %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return inserted, nil
}

// batchCount returns ceil(n / size).
func batchCount(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}
