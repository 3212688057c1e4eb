package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goldenhour/internal/clock"
	"goldenhour/internal/lighting"
	"goldenhour/internal/location"
	"goldenhour/internal/metrics"
	"goldenhour/internal/solar"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var helsinki = solar.Coordinate{Latitude: 60.1695, Longitude: 24.9354}

// fixedProvider puts sunrise at 06:00 and sunset at 18:00 UTC every day
type fixedProvider struct{}

func (fixedProvider) SunriseSunset(date solar.Date, coord solar.Coordinate) (solar.Instants, error) {
	return solar.Instants{
		Sunrise: time.Date(date.Year, date.Month, date.Day, 6, 0, 0, 0, time.UTC),
		Sunset:  time.Date(date.Year, date.Month, date.Day, 18, 0, 0, 0, time.UTC),
	}, nil
}

type deniedSource struct{}

func (deniedSource) Name() string { return "denied" }

func (deniedSource) Locate(ctx context.Context, req location.Request) (location.Fix, error) {
	return location.Fix{}, location.ErrPermissionDenied
}

type fixture struct {
	clock   *clock.MockClock
	manager *lighting.Manager
	server  *Server
}

func newFixture(t *testing.T, source func(clock.Clock) location.Source) *fixture {
	logger := zap.NewNop()
	clk := clock.NewMockClock(time.Date(2024, time.June, 21, 17, 45, 0, 0, time.UTC))
	m := metrics.New()

	locator := location.NewLocator(source(clk), clk, location.DefaultOptions(), logger)
	manager := lighting.NewManager(clk, solar.NewCache(fixedProvider{}, logger), locator, logger, lighting.Options{
		Location: time.UTC,
		Metrics:  m,
	})
	manager.Tick()

	return &fixture{
		clock:   clk,
		manager: manager,
		server:  NewServer(manager, m, logger, 0),
	}
}

func static(clk clock.Clock) location.Source {
	return location.NewStaticSource(helsinki, clk)
}

func denied(clock.Clock) location.Source {
	return deniedSource{}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) locate(t *testing.T) {
	_, err := f.manager.RefreshLocation(context.Background())
	require.NoError(t, err)
}

func TestHandleSnapshot(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodGet, "/api/snapshot")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var before lighting.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&before))
	assert.Nil(t, before.Coordinate)
	assert.Empty(t, before.State)

	f.locate(t)

	w = f.do(http.MethodGet, "/api/snapshot")
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "golden", raw["state"])
	assert.Equal(t, "00:15:00", raw["countdown"])

	next, ok := raw["next_event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "evening_blue", next["kind"])
	assert.Equal(t, "Evening blue hour", next["label"])

	windows, ok := raw["windows"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-06-21", windows["date"])
}

func TestHandleSnapshotMethodNotAllowed(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodPost, "/api/snapshot")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleWindows(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodGet, "/api/windows")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no coordinate yet")

	f.locate(t)

	w = f.do(http.MethodGet, "/api/windows")
	require.Equal(t, http.StatusOK, w.Code)
	var today solar.Windows
	require.NoError(t, json.NewDecoder(w.Body).Decode(&today))
	assert.Equal(t, solar.Date{Year: 2024, Month: time.June, Day: 21}, today.Date)
	assert.True(t, today.EveningGolden.Start.Equal(time.Date(2024, time.June, 21, 17, 30, 0, 0, time.UTC)))
	assert.Equal(t, helsinki, today.Coordinate)

	w = f.do(http.MethodGet, "/api/windows?date=2024-12-21")
	require.Equal(t, http.StatusOK, w.Code)
	var winter solar.Windows
	require.NoError(t, json.NewDecoder(w.Body).Decode(&winter))
	assert.Equal(t, solar.Date{Year: 2024, Month: time.December, Day: 21}, winter.Date)

	w = f.do(http.MethodGet, "/api/windows?date=tomorrow")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/windows")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleRefreshLocation(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodGet, "/api/location/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.do(http.MethodPost, "/api/location/refresh")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RefreshResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, helsinki, resp.Fix.Coordinate)
	assert.Equal(t, location.SourceStatic, resp.Fix.Source)
	require.NotNil(t, resp.Snapshot.Coordinate)
	assert.Equal(t, solar.StateGolden, resp.Snapshot.State)
}

func TestHandleRefreshLocation_Failure(t *testing.T) {
	f := newFixture(t, denied)

	w := f.do(http.MethodPost, "/api/location/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "location unavailable")
	assert.Contains(t, resp.Error, "permission denied")

	snap := f.manager.Snapshot()
	assert.False(t, snap.Loading)
	assert.Contains(t, snap.Error, "permission denied")
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, false, response["located"])

	w = f.do(http.MethodPut, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleMetrics(t *testing.T) {
	f := newFixture(t, static)
	f.locate(t)

	w := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "goldenhour_ticks_total")
	assert.Contains(t, body, `goldenhour_lighting_state{state="golden"} 1`)
	assert.Contains(t, body, `goldenhour_location_requests_total{outcome="success"} 1`)
}

func TestHandleSitemap(t *testing.T) {
	f := newFixture(t, static)

	w := f.do(http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	for _, ep := range endpoints {
		assert.Contains(t, w.Body.String(), ep.Path)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `<a href="/api/snapshot">`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	var listed []Endpoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Equal(t, endpoints, listed)

	w = f.do(http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t, static)
	f.locate(t)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	read := func() lighting.Snapshot {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var snap lighting.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		return snap
	}

	first := read()
	assert.Equal(t, solar.StateGolden, first.State)
	assert.Equal(t, "00:15:00", first.Countdown)

	f.clock.Advance(15 * time.Minute)
	f.manager.Tick()

	second := read()
	assert.Equal(t, solar.StateGolden, second.State, "sunset itself is golden")
	require.NotNil(t, second.Next)
	assert.True(t, second.Next.NextDay)
	assert.True(t, second.Now.After(first.Now))
}

func TestStart_DisabledPort(t *testing.T) {
	f := newFixture(t, static)

	assert.NoError(t, f.server.Start())
	assert.NoError(t, f.server.Stop())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, static)
	logger := zap.NewNop()
	server := NewServer(f.manager, nil, logger, 18765)

	require.NoError(t, server.Start())
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18765/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.NoError(t, server.Stop())
}
