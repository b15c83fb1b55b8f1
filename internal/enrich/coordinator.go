package enrich

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/google/uuid"
)

// State is a stage of the enrichment pipeline.
type State string

// Pipeline states. Failed is terminal and reachable from any stage;
// progress already committed by the bulk loader survives the transition.
const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateResolving State = "resolving"
	StateJoining   State = "joining"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// InputReader parses the pipeline's input files.
type InputReader interface {
	ReadOrdersFile(path string) ([]models.Order, int, error)
	ReadIPAddressesFile(path string) ([]string, error)
}

// BulkLoader appends rows to the store in bounded batches.
type BulkLoader interface {
	LoadOrders(ctx context.Context, orders []models.Order, batchSize int) (int64, error)
	LoadIPAddresses(ctx context.Context, ips []string, batchSize int) (int64, error)
	LoadLocations(ctx context.Context, locations []models.Location, batchSize int) (int64, error)
}

// OrderStore is the coordinator's view of the orders table.
type OrderStore interface {
	DistinctUnresolvedIPs(ctx context.Context) ([]string, error)
	ApplyLocations(ctx context.Context) (int64, error)
}

// LocationCache is the dedup layer the coordinator resolves through.
type LocationCache interface {
	ResolveOrFetch(ctx context.Context, ip string) (*models.Location, error)
	Fresh() []models.Location
}

// FailureRecord is one unresolved address and why, reported in the run
// summary.
type FailureRecord struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// RunSummary reports what one pipeline run accomplished. It is emitted
// even on partial success: a Failed run still reports how much was
// committed, which is what makes a re-run safe to reason about.
type RunSummary struct {
	RunID          string          `json:"run_id"`
	State          State           `json:"state"`
	OrdersRead     int             `json:"orders_read"`
	OrdersSkipped  int             `json:"orders_skipped"`
	OrdersInserted int64           `json:"orders_inserted"`
	IPsLoaded      int64           `json:"ips_loaded"`
	IPsResolved    int             `json:"ips_resolved"`
	IPsFailed      int             `json:"ips_failed"`
	Failures       []FailureRecord `json:"failures,omitempty"`
	OrdersEnriched int64           `json:"orders_enriched"`
	Duration       time.Duration   `json:"duration"`
}

// RunConfig carries the per-run parameters of the coordinator.
type RunConfig struct {
	OrdersFile string
	IPFile     string
	BatchSize  int
	Workers    int
}

// Coordinator sequences the enrichment stages and owns the consistency
// contract between orders, IP addresses, and locations:
// load both input files, enumerate unresolved addresses, resolve them
// through the dedup cache, bulk-load the fresh locations, then apply the
// set-based join. Every stage is idempotent under re-execution because
// loads key on natural identifiers and resolution skips resolved
// addresses.
type Coordinator struct {
	reader InputReader
	loader BulkLoader
	orders OrderStore
	cache  LocationCache
	cfg    RunConfig
	log    *logger.Logger

	mu    sync.Mutex
	state State
}

// NewCoordinator creates a Coordinator over the given collaborators.
func NewCoordinator(reader InputReader, loader BulkLoader, orders OrderStore, cache LocationCache, cfg RunConfig, log *logger.Logger) *Coordinator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	cfg.Workers = workers

	return &Coordinator{
		reader: reader,
		loader: loader,
		orders: orders,
		cache:  cache,
		cfg:    cfg,
		log:    log,
		state:  StateIdle,
	}
}

// State returns the pipeline's current stage.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes one full pipeline run. Row-level and per-IP failures are
// absorbed into the summary; batch-level and connectivity failures return
// a non-nil error alongside a summary of what was committed before the
// failure.
func (c *Coordinator) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID: uuid.New().String(),
	}
	start := time.Now()
	log := c.log.WithRunID(summary.RunID)

	fail := func(stage string, err error) (*RunSummary, error) {
		c.setState(StateFailed)
		summary.State = StateFailed
		summary.Duration = time.Since(start)
		log.Error("Pipeline run failed", err, map[string]interface{}{
			"stage":           stage,
			"orders_inserted": summary.OrdersInserted,
			"ips_resolved":    summary.IPsResolved,
		})
		return summary, err
	}

	log.Info("Pipeline run starting", map[string]interface{}{
		"orders_file": c.cfg.OrdersFile,
		"ip_file":     c.cfg.IPFile,
		"batch_size":  c.cfg.BatchSize,
		"workers":     c.cfg.Workers,
	})

	// Stage 1: load both input files
	c.setState(StateLoading)

	orders, skipped, err := c.reader.ReadOrdersFile(c.cfg.OrdersFile)
	if err != nil {
		return fail("loading", err)
	}
	summary.OrdersRead = len(orders)
	summary.OrdersSkipped = skipped

	inserted, err := c.loader.LoadOrders(ctx, orders, c.cfg.BatchSize)
	summary.OrdersInserted = inserted
	if err != nil {
		return fail("loading", err)
	}

	ips, err := c.reader.ReadIPAddressesFile(c.cfg.IPFile)
	if err != nil {
		return fail("loading", err)
	}

	ipsLoaded, err := c.loader.LoadIPAddresses(ctx, ips, c.cfg.BatchSize)
	summary.IPsLoaded = ipsLoaded
	if err != nil {
		return fail("loading", err)
	}

	// Stage 2+3: enumerate and resolve unresolved addresses
	c.setState(StateResolving)

	unresolved, err := c.orders.DistinctUnresolvedIPs(ctx)
	if err != nil {
		return fail("resolving", err)
	}

	log.Info("Resolving addresses", map[string]interface{}{
		"distinct_unresolved": len(unresolved),
	})

	failures, err := c.resolveAll(ctx, unresolved)
	if err != nil {
		return fail("resolving", err)
	}
	summary.Failures = failures
	summary.IPsFailed = len(failures)

	// Stage 4: persist the fresh locations
	fresh := c.cache.Fresh()
	summary.IPsResolved = len(fresh)

	if _, err := c.loader.LoadLocations(ctx, fresh, c.cfg.BatchSize); err != nil {
		return fail("resolving", err)
	}

	// Stage 5: set-based join of locations onto orders
	c.setState(StateJoining)

	enriched, err := c.orders.ApplyLocations(ctx)
	if err != nil {
		return fail("joining", err)
	}
	summary.OrdersEnriched = enriched

	c.setState(StateComplete)
	summary.State = StateComplete
	summary.Duration = time.Since(start)

	log.Info("Pipeline run complete", map[string]interface{}{
		"orders_read":     summary.OrdersRead,
		"orders_skipped":  summary.OrdersSkipped,
		"orders_inserted": summary.OrdersInserted,
		"ips_loaded":      summary.IPsLoaded,
		"ips_resolved":    summary.IPsResolved,
		"ips_failed":      summary.IPsFailed,
		"orders_enriched": summary.OrdersEnriched,
		"duration_ms":     summary.Duration.Milliseconds(),
	})

	return summary, nil
}

// resolveAll dispatches the distinct unresolved addresses across a bounded
// worker pool. Resolution failures are collected as expected outcomes;
// any other error (store connectivity, cancellation) stops the pool and
// fails the stage.
func (c *Coordinator) resolveAll(ctx context.Context, ips []string) ([]FailureRecord, error) {
	if len(ips) == 0 {
		return nil, nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan string)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var failures []FailureRecord
	var fatal error

	workers := min(c.cfg.Workers, len(ips))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range work {
				_, err := c.cache.ResolveOrFetch(poolCtx, ip)
				if err == nil {
					continue
				}

				if failure := apperrors.AsResolutionFailure(err); failure != nil {
					mu.Lock()
					failures = append(failures, FailureRecord{IP: failure.IP, Reason: failure.Reason})
					mu.Unlock()
					continue
				}

				// Unrecoverable: remember the first cause and drain
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
				cancel()
			}
		}()
	}

feed:
	for _, ip := range ips {
		select {
		case work <- ip:
		case <-poolCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failures, nil
}
