package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLoader returns a Loader whose commit seam records every batch
// instead of touching a store.
func newTestLoader(commit func(ctx context.Context, b *pgx.Batch) (int64, error)) *Loader {
	l := New(nil, logger.New("test"))
	l.commit = commit
	return l
}

func makeOrders(n int) []models.Order {
	orders := make([]models.Order, n)
	for i := range orders {
		orders[i] = models.Order{
			OrderNumber: string(rune('A' + i%26)),
			OrderDate:   time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC),
			IPAddress:   "1.2.3.4",
			SaleAmount:  10,
		}
	}
	return orders
}

func TestLoadOrders_BatchPartitioning(t *testing.T) {
	tests := []struct {
		name        string
		rows        int
		batchSize   int
		wantCommits int
		wantSizes   []int
	}{
		{
			name:        "exact multiple",
			rows:        10,
			batchSize:   5,
			wantCommits: 2,
			wantSizes:   []int{5, 5},
		},
		{
			name:        "remainder batch",
			rows:        7,
			batchSize:   3,
			wantCommits: 3,
			wantSizes:   []int{3, 3, 1},
		},
		{
			name:        "single oversized batch",
			rows:        4,
			batchSize:   100,
			wantCommits: 1,
			wantSizes:   []int{4},
		},
		{
			name:        "batch size one",
			rows:        3,
			batchSize:   1,
			wantCommits: 3,
			wantSizes:   []int{1, 1, 1},
		},
		{
			name:        "no rows",
			rows:        0,
			batchSize:   10,
			wantCommits: 0,
			wantSizes:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sizes []int
			l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
				sizes = append(sizes, b.Len())
				return int64(b.Len()), nil
			})

			inserted, err := l.LoadOrders(context.Background(), makeOrders(tt.rows), tt.batchSize)

			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), inserted)
			assert.Len(t, sizes, tt.wantCommits, "commit count must be ceil(rows/batchSize)")
			assert.Equal(t, tt.wantSizes, sizes)

			// Peak batch size never exceeds the configured bound
			for _, size := range sizes {
				assert.LessOrEqual(t, size, tt.batchSize)
			}
		})
	}
}

func TestLoadOrders_InvalidBatchSize(t *testing.T) {
	l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
		t.Fatal("commit must not be called")
		return 0, nil
	})

	_, err := l.LoadOrders(context.Background(), makeOrders(3), 0)
	require.Error(t, err)

	_, err = l.LoadOrders(context.Background(), makeOrders(3), -1)
	require.Error(t, err)
}

func TestLoadOrders_FailingBatchSurfacesLoadError(t *testing.T) {
	cause := errors.New("connection reset")
	calls := 0
	l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
		calls++
		if calls == 3 {
			return 0, cause
		}
		return int64(b.Len()), nil
	})

	inserted, err := l.LoadOrders(context.Background(), makeOrders(10), 2)

	require.Error(t, err)

	var loadErr *apperrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "orders", loadErr.Table)
	assert.Equal(t, 2, loadErr.Batch, "zero-based index of the first failing batch")
	assert.ErrorIs(t, loadErr, cause)

	// Prior batches stay committed; the load stops at the failure
	assert.Equal(t, int64(4), inserted)
	assert.Equal(t, 3, calls, "no batches after the failing one")
}

func TestLoadOrders_ConflictSkippedRowsNotCounted(t *testing.T) {
	// The store reports fewer inserted rows than queued when natural-key
	// conflicts are skipped
	l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
		return int64(b.Len() - 1), nil
	})

	inserted, err := l.LoadOrders(context.Background(), makeOrders(6), 3)

	require.NoError(t, err)
	assert.Equal(t, int64(4), inserted)
}

func TestLoadIPAddresses_Batching(t *testing.T) {
	var sizes []int
	l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
		sizes = append(sizes, b.Len())
		return int64(b.Len()), nil
	})

	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5"}
	inserted, err := l.LoadIPAddresses(context.Background(), ips, 2)

	require.NoError(t, err)
	assert.Equal(t, int64(5), inserted)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestLoadLocations_Batching(t *testing.T) {
	city := "Chicago"
	locations := []models.Location{
		{IPAddress: "1.2.3.4", City: &city, ResolvedAt: time.Now()},
		{IPAddress: "5.6.7.8", ResolvedAt: time.Now()},
	}

	var sizes []int
	l := newTestLoader(func(ctx context.Context, b *pgx.Batch) (int64, error) {
		sizes = append(sizes, b.Len())
		return int64(b.Len()), nil
	})

	inserted, err := l.LoadLocations(context.Background(), locations, 10)

	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.Equal(t, []int{2}, sizes)
}

func TestBatchCount(t *testing.T) {
	assert.Equal(t, 0, batchCount(0, 10))
	assert.Equal(t, 1, batchCount(1, 10))
	assert.Equal(t, 1, batchCount(10, 10))
	assert.Equal(t, 2, batchCount(11, 10))
	assert.Equal(t, 4, batchCount(10, 3))
}
