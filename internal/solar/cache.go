package solar

import (
	"sync"

	"go.uber.org/zap"
)

type cacheKey struct {
	date  Date
	coord Coordinate
}

// Cache keeps the windows for the current (date, coordinate) pair and
// recomputes them only when either changes
type Cache struct {
	provider Provider
	logger   *zap.Logger

	mu        sync.Mutex
	key       cacheKey
	windows   Windows
	valid     bool
	onCompute func(Windows, error)
}

// NewCache creates a window cache backed by provider
func NewCache(provider Provider, logger *zap.Logger) *Cache {
	return &Cache{
		provider: provider,
		logger:   logger,
	}
}

// Windows returns the windows for date and coord, computing them on a miss
func (c *Cache) Windows(date Date, coord Coordinate) (Windows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{date: date, coord: coord}
	if c.valid && c.key == key {
		return c.windows, nil
	}

	windows, err := ComputeWindows(c.provider, date, coord)
	if c.onCompute != nil {
		c.onCompute(windows, err)
	}
	if err != nil {
		return Windows{}, err
	}

	if c.valid && c.key.coord == coord {
		c.logger.Info("Date rolled over, windows recomputed",
			zap.Stringer("old_date", c.key.date),
			zap.Stringer("new_date", date))
	}

	c.key = key
	c.windows = windows
	c.valid = true

	if windows.Degenerate() {
		c.logger.Warn("No sunrise/sunset for date",
			zap.Stringer("date", date),
			zap.Stringer("coordinate", coord),
			zap.String("polar", string(windows.Polar)))
	} else {
		c.logger.Info("Lighting windows updated",
			zap.Stringer("date", date),
			zap.Stringer("coordinate", coord),
			zap.Time("sunrise", windows.Sunrise),
			zap.Time("sunset", windows.Sunset))
	}

	return windows, nil
}

// OnCompute registers fn to be called after every provider computation
func (c *Cache) OnCompute(fn func(Windows, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCompute = fn
}

// Invalidate drops the cached windows so the next lookup recomputes them
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// Provider returns the underlying provider
func (c *Cache) Provider() Provider {
	return c.provider
}
