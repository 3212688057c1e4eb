package metrics

import (
	"context"
	"errors"
	"net/http"

	"goldenhour/internal/location"
	"goldenhour/internal/solar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "goldenhour_"

	resultSuccess = "success"
	resultError   = "error"

	outcomeTimeout          = "timeout"
	outcomePermissionDenied = "permission_denied"
	outcomeUnsupported      = "unsupported"
	outcomeCanceled         = "canceled"
)

// Metrics bundles the scheduler and location collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal         prometheus.Counter
	WindowComputations *prometheus.CounterVec
	LocationRequests   *prometheus.CounterVec
	LightingState      *prometheus.GaugeVec
	SecondsToNextEvent prometheus.Gauge
	PolarDay           prometheus.Gauge
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "ticks_total",
			Help: "Total scheduler recomputations",
		}),
		WindowComputations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "window_computations_total",
				Help: "Total lighting window computations by result",
			},
			[]string{"result"},
		),
		LocationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "location_requests_total",
				Help: "Total location fix requests by outcome",
			},
			[]string{"outcome"},
		),
		LightingState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "lighting_state",
				Help: "Current lighting state (1 for the active state)",
			},
			[]string{"state"},
		),
		SecondsToNextEvent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "seconds_to_next_event",
			Help: "Seconds until the next lighting window starts",
		}),
		PolarDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "polar_day",
			Help: "1 when the sun does not rise or set on the current date",
		}),
	}
	m.registry.MustRegister(
		m.TicksTotal,
		m.WindowComputations,
		m.LocationRequests,
		m.LightingState,
		m.SecondsToNextEvent,
		m.PolarDay,
	)
	for _, state := range solar.AllStates {
		m.LightingState.WithLabelValues(string(state)).Set(0)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one recomputation
func (m *Metrics) ObserveTick(state solar.LightingState, untilNext float64, polar bool) {
	m.TicksTotal.Inc()
	for _, s := range solar.AllStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.LightingState.WithLabelValues(string(s)).Set(v)
	}
	m.SecondsToNextEvent.Set(untilNext)
	if polar {
		m.PolarDay.Set(1)
	} else {
		m.PolarDay.Set(0)
	}
}

// ObserveWindows records a window computation
func (m *Metrics) ObserveWindows(_ solar.Windows, err error) {
	if err != nil {
		m.WindowComputations.WithLabelValues(resultError).Inc()
		return
	}
	m.WindowComputations.WithLabelValues(resultSuccess).Inc()
}

// ObserveLocation records the outcome of a completed location request
func (m *Metrics) ObserveLocation(err error) {
	m.LocationRequests.WithLabelValues(LocationOutcome(err)).Inc()
}

// LocationOutcome maps a location error to its metric label
func LocationOutcome(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, location.ErrTimeout):
		return outcomeTimeout
	case errors.Is(err, location.ErrPermissionDenied):
		return outcomePermissionDenied
	case errors.Is(err, location.ErrUnsupported):
		return outcomeUnsupported
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	default:
		return resultError
	}
}
