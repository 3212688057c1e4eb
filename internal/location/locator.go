package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goldenhour/internal/clock"
	"goldenhour/internal/solar"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrLocationUnavailable wraps every failure to obtain a fix
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrPermissionDenied is returned when the source refuses access
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrTimeout is returned when no fix arrives within the timeout
	ErrTimeout = errors.New("location request timed out")

	// ErrUnsupported is returned when the source cannot provide a position
	ErrUnsupported = errors.New("location capability unsupported")
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxAge  = 5 * time.Minute
)

// Fix is a position reported by a Source
type Fix struct {
	Coordinate solar.Coordinate `json:"coordinate"`
	Timestamp  time.Time        `json:"timestamp"`
	Accuracy   float64          `json:"accuracy,omitempty"`
	Source     string           `json:"source"`
}

// Request carries the hints passed to a Source
type Request struct {
	HighAccuracy bool
	MaxAge       time.Duration
}

// Source yields a position fix or fails
type Source interface {
	Name() string
	Locate(ctx context.Context, req Request) (Fix, error)
}

// Options configures a Locator
type Options struct {
	Timeout      time.Duration
	MaxAge       time.Duration
	HighAccuracy bool
}

// DefaultOptions returns a 10 second timeout, 5 minute cache tolerance and high accuracy
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		MaxAge:       DefaultMaxAge,
		HighAccuracy: true,
	}
}

// Status is published when a request starts and when it completes
type Status struct {
	Loading bool
	Fix     *Fix
	Err     error
}

// Locator requests fixes from a Source with at most one request outstanding
type Locator struct {
	source Source
	clock  clock.Clock
	opts   Options
	logger *zap.Logger

	group singleflight.Group

	mu        sync.Mutex
	last      *Fix
	loading   bool
	listeners []func(Status)
}

// NewLocator creates a locator. A zero Timeout takes DefaultTimeout; a zero
// MaxAge disables reuse of earlier fixes.
func NewLocator(source Source, clk clock.Clock, opts Options, logger *zap.Logger) *Locator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAge < 0 {
		opts.MaxAge = 0
	}
	return &Locator{
		source: source,
		clock:  clk,
		opts:   opts,
		logger: logger.Named("location"),
	}
}

// OnStatus registers a listener. Each request notifies it exactly once when
// loading starts and once when it completes.
func (l *Locator) OnStatus(fn func(Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Loading reports whether a request is outstanding
func (l *Locator) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Last returns the most recent successful fix
func (l *Locator) Last() (Fix, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Fix{}, false
	}
	return *l.last, true
}

// Request returns a fix no older than MaxAge, asking the source only when
// the cached fix is too old. Concurrent callers share one source request.
// Failures are never retried and always wrap ErrLocationUnavailable.
func (l *Locator) Request(ctx context.Context) (Fix, error) {
	if fix, ok := l.fresh(); ok {
		l.logger.Debug("Reusing cached fix", zap.Time("timestamp", fix.Timestamp))
		return fix, nil
	}

	// The shared request is bounded by the timeout, not by the first caller's context
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan("fix", func() (interface{}, error) {
		return l.locate(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Fix{}, res.Err
		}
		return res.Val.(Fix), nil
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, ctx.Err())
	}
}

func (l *Locator) fresh() (Fix, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil || l.opts.MaxAge == 0 {
		return Fix{}, false
	}
	if l.clock.Since(l.last.Timestamp) > l.opts.MaxAge {
		return Fix{}, false
	}
	return *l.last, true
}

type locateResult struct {
	fix Fix
	err error
}

func (l *Locator) locate(parent context.Context) (Fix, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	timer := l.clock.AfterFunc(l.opts.Timeout, func() {
		cancel(ErrTimeout)
	})
	defer timer.Stop()

	l.begin()

	req := Request{HighAccuracy: l.opts.HighAccuracy, MaxAge: l.opts.MaxAge}
	done := make(chan locateResult, 1)
	go func() {
		fix, err := l.source.Locate(ctx, req)
		done <- locateResult{fix: fix, err: err}
	}()

	var res locateResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = context.Cause(ctx)
	}

	if res.err == nil {
		res.err = res.fix.Coordinate.Validate()
	}
	if res.err != nil {
		err := fmt.Errorf("%w: %w", ErrLocationUnavailable, res.err)
		l.complete(nil, err)
		return Fix{}, err
	}

	if res.fix.Timestamp.IsZero() {
		res.fix.Timestamp = l.clock.Now()
	}
	if res.fix.Source == "" {
		res.fix.Source = l.source.Name()
	}
	l.complete(&res.fix, nil)
	return res.fix, nil
}

// copyListeners returns the listeners; l.mu must be held
func (l *Locator) copyListeners() []func(Status) {
	listeners := make([]func(Status), len(l.listeners))
	copy(listeners, l.listeners)
	return listeners
}

func (l *Locator) begin() {
	l.mu.Lock()
	l.loading = true
	listeners := l.copyListeners()
	l.mu.Unlock()

	l.logger.Info("Requesting location fix",
		zap.String("source", l.source.Name()),
		zap.Duration("timeout", l.opts.Timeout))

	for _, fn := range listeners {
		fn(Status{Loading: true})
	}
}

func (l *Locator) complete(fix *Fix, err error) {
	l.mu.Lock()
	l.loading = false
	if fix != nil {
		f := *fix
		l.last = &f
	}
	listeners := l.copyListeners()
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("Location fix failed", zap.String("source", l.source.Name()), zap.Error(err))
	} else {
		l.logger.Info("Location fix acquired",
			zap.String("source", fix.Source),
			zap.Stringer("coordinate", fix.Coordinate),
			zap.Float64("accuracy", fix.Accuracy))
	}

	for _, fn := range listeners {
		fn(Status{Fix: fix, Err: err})
	}
}
