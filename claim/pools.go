package claim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/workpool"
)

// Config defines the budget of one pool.
type Config struct {
	// Limit is the maximum number of claimed or running items of the pool
	// across every process sharing the ledger. Zero pauses the pool.
	Limit int

	// RateLimit is the maximum sustained claims per second handed out by
	// this process. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// poolState tracks runtime state for a single pool.
type poolState struct {
	config  Config
	limiter *rate.Limiter
}

func newPoolState(cfg Config) *poolState {
	ps := &poolState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ps.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ps
}

// Pools maps pool keys to their configuration. It is safe for concurrent
// use and can be updated while dispatchers run.
type Pools struct {
	mu    sync.RWMutex
	pools map[string]*poolState
}

// NewPools creates a Pools registry with the given static limits.
func NewPools(limits map[string]int) *Pools {
	p := &Pools{pools: make(map[string]*poolState, len(limits))}
	for key, limit := range limits {
		p.pools[key] = newPoolState(Config{Limit: limit})
	}
	return p
}

// Set creates or replaces the configuration of a pool.
func (p *Pools) Set(key string, cfg Config) error {
	if key == "" {
		return fmt.Errorf("%w: empty pool key", workpool.ErrInvalidArgument)
	}
	if cfg.Limit < 0 || cfg.RateLimit < 0 {
		return fmt.Errorf("%w: pool %q: negative limit", workpool.ErrInvalidArgument, key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[key] = newPoolState(cfg)
	return nil
}

// SetLimit changes the concurrency limit of a pool, keeping its rate
// limiter. Unknown pools are created.
func (p *Pools) SetLimit(key string, limit int) error {
	if key == "" {
		return fmt.Errorf("%w: empty pool key", workpool.ErrInvalidArgument)
	}
	if limit < 0 {
		return fmt.Errorf("%w: pool %q: negative limit", workpool.ErrInvalidArgument, key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.pools[key]; ok {
		ps.config.Limit = limit
		return nil
	}
	p.pools[key] = newPoolState(Config{Limit: limit})
	return nil
}

// Remove deletes a pool. Items already in the ledger stay there and are
// claimed again once the pool is reconfigured.
func (p *Pools) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, key)
}

// Limit returns the concurrency limit of a pool, or ErrPoolUnknown.
func (p *Pools) Limit(key string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ps, ok := p.pools[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", workpool.ErrPoolUnknown, key)
	}
	return ps.config.Limit, nil
}

// Config returns the configuration of a pool.
func (p *Pools) Config(key string) (Config, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ps, ok := p.pools[key]
	if !ok {
		return Config{}, false
	}
	return ps.config, true
}

// Has reports whether key is configured.
func (p *Pools) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pools[key]
	return ok
}

// Keys returns the configured pool keys in sorted order.
func (p *Pools) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.pools))
	for k := range p.pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reserve takes one token from the pool's rate limiter. The returned
// release func gives the token back when no item was claimed with it.
func (p *Pools) reserve(key string, now time.Time) (release func(), ok bool) {
	p.mu.RLock()
	ps := p.pools[key]
	p.mu.RUnlock()
	if ps == nil || ps.limiter == nil {
		return func() {}, true
	}

	r := ps.limiter.ReserveN(now, 1)
	if !r.OK() {
		return func() {}, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return func() {}, false
	}
	return func() { r.CancelAt(now) }, true
}
