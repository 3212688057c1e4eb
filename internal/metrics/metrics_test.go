package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"goldenhour/internal/location"
	"goldenhour/internal/solar"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTick(t *testing.T) {
	m := New()

	m.ObserveTick(solar.StateBlue, 42, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LightingState.WithLabelValues("blue")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LightingState.WithLabelValues("golden")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LightingState.WithLabelValues("day")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.SecondsToNextEvent))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PolarDay))

	m.ObserveTick(solar.StateDay, 7, true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LightingState.WithLabelValues("blue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LightingState.WithLabelValues("day")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolarDay))
}

func TestObserveWindows(t *testing.T) {
	m := New()

	m.ObserveWindows(solar.Windows{}, nil)
	m.ObserveWindows(solar.Windows{}, nil)
	m.ObserveWindows(solar.Windows{}, errors.New("provider failed"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WindowComputations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WindowComputations.WithLabelValues("error")))
}

func TestLocationOutcome(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("%w: %w", location.ErrLocationUnavailable, err)
	}

	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{wrap(location.ErrTimeout), "timeout"},
		{wrap(location.ErrPermissionDenied), "permission_denied"},
		{wrap(location.ErrUnsupported), "unsupported"},
		{wrap(context.Canceled), "canceled"},
		{wrap(errors.New("boom")), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, LocationOutcome(tt.err))
		})
	}

	m := New()
	m.ObserveLocation(nil)
	m.ObserveLocation(wrap(location.ErrTimeout))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocationRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocationRequests.WithLabelValues("timeout")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveTick(solar.StateGolden, 90, false)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `goldenhour_lighting_state{state="golden"} 1`)
	assert.Contains(t, string(body), "goldenhour_seconds_to_next_event 90")
	assert.Contains(t, string(body), "goldenhour_ticks_total 1")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ObserveTick(solar.StateDay, 1, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TicksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TicksTotal))
}
