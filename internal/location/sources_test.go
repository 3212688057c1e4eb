package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"goldenhour/internal/clock"
	"goldenhour/internal/ha"
	"goldenhour/internal/mqtt"
	"goldenhour/internal/solar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStaticSource_InvalidCoordinate(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	source := NewStaticSource(solar.Coordinate{Latitude: 91}, clk)

	_, err := source.Locate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, solar.ErrInvalidCoordinate)
}

func TestHomeAssistantSource_Zone(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := ha.NewMockClient()
	client.SetState(&ha.State{
		EntityID: "zone.home",
		State:    "0",
		Attributes: map[string]interface{}{
			"latitude":  austin.Latitude,
			"longitude": austin.Longitude,
		},
		LastUpdated: epoch.Add(-48 * time.Hour),
	})

	source := NewHomeAssistantSource(client, "zone.home", clk, zap.NewNop())
	fix, err := source.Locate(context.Background(), Request{MaxAge: DefaultMaxAge})
	require.NoError(t, err)

	assert.Equal(t, austin, fix.Coordinate)
	assert.Equal(t, SourceHomeAssistant, fix.Source)
	assert.Equal(t, epoch, fix.Timestamp, "zones are stamped with the current time")
	assert.Equal(t, 1, client.Connects())

	_, err = source.Locate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.Connects(), "connection is reused")
}

func TestHomeAssistantSource_Tracker(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := ha.NewMockClient()
	updated := epoch.Add(-2 * time.Minute)
	client.SetState(&ha.State{
		EntityID: "device_tracker.phone",
		State:    "home",
		Attributes: map[string]interface{}{
			"latitude":     60.1699,
			"longitude":    24.9384,
			"gps_accuracy": 12,
		},
		LastUpdated: updated,
	})

	source := NewHomeAssistantSource(client, "device_tracker.phone", clk, zap.NewNop())
	fix, err := source.Locate(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, 60.1699, fix.Coordinate.Latitude)
	assert.Equal(t, 24.9384, fix.Coordinate.Longitude)
	assert.Equal(t, 12.0, fix.Accuracy)
	assert.Equal(t, updated, fix.Timestamp)
}

func TestHomeAssistantSource_Errors(t *testing.T) {
	clk := clock.NewMockClock(epoch)

	t.Run("invalid token", func(t *testing.T) {
		client := ha.NewMockClient()
		client.ConnectErr = fmt.Errorf("%w: bad token", ha.ErrAuthInvalid)
		source := NewHomeAssistantSource(client, "zone.home", clk, zap.NewNop())

		_, err := source.Locate(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("connection refused", func(t *testing.T) {
		client := ha.NewMockClient()
		client.ConnectErr = errors.New("dial tcp: connection refused")
		source := NewHomeAssistantSource(client, "zone.home", clk, zap.NewNop())

		_, err := source.Locate(context.Background(), Request{})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("unknown entity", func(t *testing.T) {
		client := ha.NewMockClient()
		source := NewHomeAssistantSource(client, "person.nobody", clk, zap.NewNop())

		_, err := source.Locate(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrUnsupported)
		assert.ErrorIs(t, err, ha.ErrEntityNotFound)
	})

	t.Run("no coordinates", func(t *testing.T) {
		client := ha.NewMockClient()
		client.SetState(&ha.State{
			EntityID:   "person.away",
			State:      "not_home",
			Attributes: map[string]interface{}{"friendly_name": "Away"},
		})
		source := NewHomeAssistantSource(client, "person.away", clk, zap.NewNop())

		_, err := source.Locate(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestHomeAssistantSource_ThroughLocator(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := ha.NewMockClient()
	client.ConnectErr = ha.ErrAuthInvalid

	locator := NewLocator(NewHomeAssistantSource(client, "zone.home", clk, zap.NewNop()), clk, DefaultOptions(), zap.NewNop())
	_, err := locator.Request(context.Background())
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

// fakeMQTT records the subscription so tests can publish to it
type fakeMQTT struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	topic      string
	handler    mqtt.MessageHandler
}

func (f *fakeMQTT) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeMQTT) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeMQTT) publish(payload string) {
	f.mu.Lock()
	handler, topic := f.handler, f.topic
	f.mu.Unlock()
	handler(fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func ownTracksPayload(lat, lon float64, at time.Time) string {
	return fmt.Sprintf(`{"_type":"location","lat":%g,"lon":%g,"tst":%d,"acc":8}`, lat, lon, at.Unix())
}

func TestOwnTracksSource_WaitsForFirstMessage(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := &fakeMQTT{}
	source := NewOwnTracksSource(client, "owntracks/user/phone", clk, zap.NewNop())

	done := make(chan Fix, 1)
	go func() {
		fix, err := source.Locate(context.Background(), Request{MaxAge: DefaultMaxAge})
		assert.NoError(t, err)
		done <- fix
	}()

	require.Eventually(t, client.subscribed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "owntracks/user/phone", client.topic)
	assert.True(t, client.IsConnected())

	client.publish(`{"_type":"transition","event":"enter"}`)
	client.publish(`not json`)
	client.publish(ownTracksPayload(69.6492, 18.9553, epoch.Add(-time.Minute)))

	select {
	case fix := <-done:
		assert.Equal(t, 69.6492, fix.Coordinate.Latitude)
		assert.Equal(t, 18.9553, fix.Coordinate.Longitude)
		assert.Equal(t, 8.0, fix.Accuracy)
		assert.Equal(t, SourceOwnTracks, fix.Source)
		assert.True(t, fix.Timestamp.Equal(epoch.Add(-time.Minute)))
	case <-time.After(time.Second):
		t.Fatal("Locate did not return after a location message")
	}
}

func TestOwnTracksSource_StalePositionIsNotReused(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := &fakeMQTT{connected: true}
	source := NewOwnTracksSource(client, "owntracks/#", clk, zap.NewNop())
	require.NoError(t, source.ensureSubscribed(context.Background()))

	client.publish(ownTracksPayload(10, 20, epoch.Add(-10*time.Minute)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := source.Locate(ctx, Request{MaxAge: DefaultMaxAge})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Without a max age any position is good enough
	fix, err := source.Locate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, fix.Coordinate.Latitude)
}

func TestOwnTracksSource_IgnoresOutOfOrderAndInvalid(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := &fakeMQTT{connected: true}
	source := NewOwnTracksSource(client, "owntracks/#", clk, zap.NewNop())
	require.NoError(t, source.ensureSubscribed(context.Background()))

	client.publish(ownTracksPayload(10, 20, epoch))
	client.publish(ownTracksPayload(11, 21, epoch.Add(-time.Minute)))
	client.publish(ownTracksPayload(95, 21, epoch.Add(time.Second)))

	fix, err := source.Locate(context.Background(), Request{MaxAge: DefaultMaxAge})
	require.NoError(t, err)
	assert.Equal(t, 10.0, fix.Coordinate.Latitude)
}

func TestOwnTracksSource_ConnectFailure(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := &fakeMQTT{connectErr: errors.New("broker unreachable")}
	source := NewOwnTracksSource(client, "owntracks/#", clk, zap.NewNop())

	_, err := source.Locate(context.Background(), Request{})
	assert.Error(t, err)
	assert.False(t, client.subscribed())
}

func TestOwnTracksSource_TimesOutThroughLocator(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	client := &fakeMQTT{}
	locator := NewLocator(NewOwnTracksSource(client, "owntracks/#", clk, zap.NewNop()), clk, DefaultOptions(), zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := locator.Request(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return client.subscribed() && clk.PendingTimers() == 1 },
		time.Second, 5*time.Millisecond)
	clk.Advance(DefaultTimeout)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrLocationUnavailable)
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("request did not time out")
	}
}
