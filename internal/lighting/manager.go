package lighting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goldenhour/internal/clock"
	"goldenhour/internal/location"
	"goldenhour/internal/metrics"
	"goldenhour/internal/solar"

	"go.uber.org/zap"
)

// ErrNoLocation is returned when windows are requested before any fix
var ErrNoLocation = errors.New("no location fix yet")

// Options configures a Manager
type Options struct {
	// TickInterval between recomputations, one second when zero
	TickInterval time.Duration

	// Location is the display time zone, time.Local when nil
	Location *time.Location

	// Metrics is optional
	Metrics *metrics.Metrics
}

type nextKey struct {
	date  solar.Date
	coord solar.Coordinate
}

// Manager recomputes the lighting state once per tick and publishes a
// Snapshot to renderers and subscribers
type Manager struct {
	clock    clock.Clock
	cache    *solar.Cache
	locator  *location.Locator
	metrics  *metrics.Metrics
	loc      *time.Location
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	coord     *solar.Coordinate
	loading   bool
	locErr    error
	snapshot  Snapshot
	lastState solar.LightingState
	lastErr   string

	// next event for nextFor, valid until it passes
	next    solar.UpcomingEvent
	nextErr error
	nextFor nextKey
	hasNext bool

	subsMu      sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSubID   int
	renderers   []Renderer

	// Control channels
	stopChan    chan struct{}
	stoppedChan chan struct{}
	cancel      context.CancelFunc
	started     bool
	stopOnce    sync.Once
}

// NewManager creates a manager. The locator's status updates drive the
// coordinate, loading flag and location error shown in snapshots.
func NewManager(clk clock.Clock, cache *solar.Cache, locator *location.Locator, logger *zap.Logger, opts Options) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	m := &Manager{
		clock:       clk,
		cache:       cache,
		locator:     locator,
		metrics:     opts.Metrics,
		loc:         opts.Location,
		interval:    opts.TickInterval,
		logger:      logger.Named("lighting"),
		subscribers: make(map[int]func(Snapshot)),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}

	locator.OnStatus(m.handleLocationStatus)
	if m.metrics != nil {
		cache.OnCompute(m.metrics.ObserveWindows)
	}
	return m
}

// AddRenderer registers a renderer called synchronously on every tick
func (m *Manager) AddRenderer(r Renderer) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.renderers = append(m.renderers, r)
}

// Subscribe registers fn for every published snapshot and returns a func
// that removes it
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subscribers, id)
	}
}

// Start requests a location fix in the background, publishes a first
// snapshot and begins ticking
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("lighting manager already started")
	}
	m.started = true
	m.loading = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("Starting lighting manager", zap.Duration("tick_interval", m.interval))

	go func() {
		// Failures are recorded through the status listener. A cached fix
		// publishes no status, so apply it here.
		fix, err := m.locator.Request(ctx)
		if err != nil {
			return
		}
		m.setCoordinate(fix.Coordinate)
		m.Tick()
	}()

	m.Tick()

	ticker := m.clock.NewTicker(m.interval)
	go m.run(ticker)
	return nil
}

// Stop cancels the periodic recomputation. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		m.logger.Info("Lighting manager was not started, nothing to stop")
		return
	}

	m.stopOnce.Do(func() {
		m.logger.Info("Stopping lighting manager")
		m.cancel()
		close(m.stopChan)
		<-m.stoppedChan
		m.logger.Info("Lighting manager stopped")
	})
}

func (m *Manager) run(ticker clock.Ticker) {
	defer close(m.stoppedChan)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.Tick()
		case <-m.stopChan:
			return
		}
	}
}

// RefreshLocation asks for a new location fix. A fix younger than the
// locator's max age is reused. Only one request is outstanding at a time.
func (m *Manager) RefreshLocation(ctx context.Context) (location.Fix, error) {
	fix, err := m.locator.Request(ctx)
	if err != nil {
		return location.Fix{}, err
	}
	m.setCoordinate(fix.Coordinate)
	m.Tick()
	return fix, nil
}

func (m *Manager) handleLocationStatus(status location.Status) {
	switch {
	case status.Loading:
		m.mu.Lock()
		m.loading = true
		m.mu.Unlock()

	case status.Err != nil:
		m.mu.Lock()
		m.loading = false
		m.locErr = status.Err
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ObserveLocation(status.Err)
		}

	case status.Fix != nil:
		m.setCoordinate(status.Fix.Coordinate)
		if m.metrics != nil {
			m.metrics.ObserveLocation(nil)
		}
	}

	m.Tick()
}

func (m *Manager) setCoordinate(coord solar.Coordinate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.coord == nil || *m.coord != coord {
		m.logger.Info("Coordinate updated", zap.Stringer("coordinate", coord))
	}
	c := coord
	m.coord = &c
	m.loading = false
	m.locErr = nil
}

// Snapshot returns the most recently published snapshot
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Today returns the solar date at the current coordinate, or the display
// date before the first fix
func (m *Manager) Today() solar.Date {
	now := m.clock.Now()

	m.mu.RLock()
	coord := m.coord
	m.mu.RUnlock()

	if coord == nil {
		return solar.DateOf(now.In(m.loc))
	}
	return solar.SolarDateOf(now, *coord)
}

// WindowsFor computes the windows of an arbitrary date at the current coordinate
func (m *Manager) WindowsFor(date solar.Date) (solar.Windows, error) {
	m.mu.RLock()
	coord := m.coord
	m.mu.RUnlock()

	if coord == nil {
		return solar.Windows{}, ErrNoLocation
	}
	windows, err := solar.ComputeWindows(m.cache.Provider(), date, *coord)
	if err != nil {
		return solar.Windows{}, err
	}
	return windows.In(m.loc), nil
}

// Tick recomputes the snapshot for the current instant and publishes it
func (m *Manager) Tick() Snapshot {
	now := m.clock.Now().In(m.loc)

	m.mu.Lock()
	snap := m.compute(now)
	m.snapshot = snap
	m.mu.Unlock()

	m.publish(snap)
	return snap
}

// compute builds a snapshot; m.mu must be held
func (m *Manager) compute(now time.Time) Snapshot {
	snap := Snapshot{Now: now, Loading: m.loading}
	if m.locErr != nil {
		snap.Error = m.locErr.Error()
	}
	if m.coord == nil {
		return snap
	}

	coord := *m.coord
	snap.Coordinate = &coord

	date := solar.SolarDateOf(now, coord)
	windows, err := m.cache.Windows(date, coord)
	if err != nil {
		m.reportError(err)
		snap.Error = err.Error()
		return snap
	}

	state := solar.Classify(now, windows)
	snap.State = state
	snap.Polar = windows.Polar
	local := windows.In(m.loc)
	snap.Windows = &local

	if state != m.lastState {
		m.logger.Info("Lighting state changed",
			zap.String("old", string(m.lastState)),
			zap.String("new", string(state)),
			zap.Time("at", now))
		m.lastState = state
	}

	untilNext := 0.0
	next, err := m.nextEvent(now, date, coord, windows)
	switch {
	case err == nil:
		next.At = next.At.In(m.loc)
		snap.Next = &next
		snap.Countdown = solar.FormatCountdown(next.At, now)
		untilNext = next.At.Sub(now).Seconds()
	case errors.Is(err, solar.ErrNoUpcomingEvent):
		snap.Countdown = solar.ZeroCountdown
	default:
		m.reportError(err)
		snap.Error = err.Error()
	}

	if m.metrics != nil {
		m.metrics.ObserveTick(state, untilNext, windows.Degenerate())
	}
	return snap
}

// nextEvent reuses the previous result while it is still in the future for
// the same date and coordinate
func (m *Manager) nextEvent(now time.Time, date solar.Date, coord solar.Coordinate, windows solar.Windows) (solar.UpcomingEvent, error) {
	key := nextKey{date: date, coord: coord}
	if m.hasNext && m.nextFor == key && (m.nextErr != nil || m.next.At.After(now)) {
		return m.next, m.nextErr
	}

	next, err := solar.NextEvent(now, coord, windows, m.cache.Provider())
	m.next, m.nextErr, m.nextFor, m.hasNext = next, err, key, true
	return next, err
}

// reportError logs an error once until it changes
func (m *Manager) reportError(err error) {
	if msg := err.Error(); msg != m.lastErr {
		m.logger.Warn("Failed to compute lighting state", zap.Error(err))
		m.lastErr = msg
	}
}

func (m *Manager) publish(snap Snapshot) {
	m.subsMu.Lock()
	renderers := append([]Renderer(nil), m.renderers...)
	subscribers := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.subsMu.Unlock()

	for _, r := range renderers {
		r.Render(snap)
	}
	for _, fn := range subscribers {
		fn(snap)
	}
}
