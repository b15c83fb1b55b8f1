package enrich

import (
	"context"
	"sync"

	apperrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
)

// Resolver issues one network lookup for an IP address.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*models.Location, error)
}

// LocationLookup checks for a Location persisted by a prior run.
type LocationLookup interface {
	GetByIP(ctx context.Context, ip string) (*models.Location, error)
}

// Cache is the dedup layer in front of the resolver. For a given run, at
// most one resolution attempt happens per distinct address no matter how
// many orders reference it: repeat calls are served from the in-run map,
// addresses persisted by prior runs are served from the store, and only
// genuinely new addresses reach the network.
//
// The check-fetch-record sequence for one address is a critical section,
// guarded by a per-address lock so distinct addresses can be dispatched
// concurrently across a worker pool.
type Cache struct {
	resolver Resolver
	store    LocationLookup
	log      *logger.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	resolved map[string]*models.Location
	failed   map[string]*apperrors.ResolutionFailure
	fresh    []models.Location
}

// NewCache creates a dedup Cache over the given resolver and store.
func NewCache(resolver Resolver, store LocationLookup, log *logger.Logger) *Cache {
	return &Cache{
		resolver: resolver,
		store:    store,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
		resolved: make(map[string]*models.Location),
		failed:   make(map[string]*apperrors.ResolutionFailure),
	}
}

// ResolveOrFetch returns the Location for an address, consulting the
// in-run cache, then the store, then the network. Failed resolutions are
// also remembered for the rest of the run so an address is attempted at
// most once. Store errors propagate as-is; they are connectivity problems,
// not resolution outcomes.
func (c *Cache) ResolveOrFetch(ctx context.Context, ip string) (*models.Location, error) {
	lock := c.lockFor(ip)
	lock.Lock()
	defer lock.Unlock()

	// In-run hit, success or failure
	c.mu.Lock()
	if loc, ok := c.resolved[ip]; ok {
		c.mu.Unlock()
		return loc, nil
	}
	if failure, ok := c.failed[ip]; ok {
		c.mu.Unlock()
		return nil, failure
	}
	c.mu.Unlock()

	// Persisted by a prior run
	loc, err := c.store.GetByIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		c.log.Debug("Location served from store", map[string]interface{}{
			"ip": ip,
		})
		c.record(ip, loc, false)
		return loc, nil
	}

	// New address: one network resolution
	loc, err = c.resolver.Resolve(ctx, ip)
	if err != nil {
		if failure := apperrors.AsResolutionFailure(err); failure != nil {
			c.mu.Lock()
			c.failed[ip] = failure
			c.mu.Unlock()
			return nil, failure
		}
		return nil, err
	}

	c.record(ip, loc, true)
	return loc, nil
}

// Fresh returns the Locations resolved over the network during this run,
// in resolution order. These are the rows the coordinator bulk-loads;
// store and in-run hits are excluded.
func (c *Cache) Fresh() []models.Location {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Location, len(c.fresh))
	copy(out, c.fresh)
	return out
}

// Failures returns the resolution failures recorded during this run.
func (c *Cache) Failures() []*apperrors.ResolutionFailure {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*apperrors.ResolutionFailure, 0, len(c.failed))
	for _, failure := range c.failed {
		out = append(out, failure)
	}
	return out
}

// record stores a success in the in-run cache.
func (c *Cache) record(ip string, loc *models.Location, fromNetwork bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resolved[ip] = loc
	if fromNetwork {
		c.fresh = append(c.fresh, *loc)
	}
}

// lockFor returns the per-address lock, creating it on first use.
func (c *Cache) lockFor(ip string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[ip]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[ip] = lock
	}
	return lock
}
