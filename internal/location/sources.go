package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goldenhour/internal/clock"
	"goldenhour/internal/ha"
	"goldenhour/internal/mqtt"
	"goldenhour/internal/solar"

	"go.uber.org/zap"
)

// Source names accepted in configuration
const (
	SourceStatic        = "static"
	SourceHomeAssistant = "homeassistant"
	SourceOwnTracks     = "owntracks"
)

// StaticSource always reports a configured coordinate
type StaticSource struct {
	coord solar.Coordinate
	clock clock.Clock
}

// NewStaticSource creates a source for a fixed coordinate
func NewStaticSource(coord solar.Coordinate, clk clock.Clock) *StaticSource {
	return &StaticSource{coord: coord, clock: clk}
}

func (s *StaticSource) Name() string { return SourceStatic }

// Locate implements Source
func (s *StaticSource) Locate(ctx context.Context, req Request) (Fix, error) {
	if err := s.coord.Validate(); err != nil {
		return Fix{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return Fix{Coordinate: s.coord, Timestamp: s.clock.Now(), Source: SourceStatic}, nil
}

// HomeAssistantSource reads latitude/longitude attributes of a Home Assistant
// entity such as zone.home, person.* or device_tracker.*
type HomeAssistantSource struct {
	client   ha.HAClient
	entityID string
	clock    clock.Clock
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewHomeAssistantSource creates a source reading entityID through client
func NewHomeAssistantSource(client ha.HAClient, entityID string, clk clock.Clock, logger *zap.Logger) *HomeAssistantSource {
	return &HomeAssistantSource{
		client:   client,
		entityID: entityID,
		clock:    clk,
		logger:   logger,
	}
}

func (s *HomeAssistantSource) Name() string { return SourceHomeAssistant }

// Locate implements Source
func (s *HomeAssistantSource) Locate(ctx context.Context, req Request) (Fix, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return Fix{}, err
	}

	state, err := s.client.GetState(ctx, s.entityID)
	if err != nil {
		if errors.Is(err, ha.ErrEntityNotFound) {
			return Fix{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return Fix{}, fmt.Errorf("failed to read %s: %w", s.entityID, err)
	}

	lat, okLat := state.FloatAttribute("latitude")
	lon, okLon := state.FloatAttribute("longitude")
	if !okLat || !okLon {
		return Fix{}, fmt.Errorf("%w: %s has no latitude/longitude attributes", ErrUnsupported, s.entityID)
	}

	fix := Fix{
		Coordinate: solar.Coordinate{Latitude: lat, Longitude: lon},
		Timestamp:  state.LastUpdated,
		Source:     SourceHomeAssistant,
	}
	if acc, ok := state.FloatAttribute("gps_accuracy"); ok {
		fix.Accuracy = acc
	}

	// Zones never move, so their last update time says nothing about freshness
	if fix.Timestamp.IsZero() || !isTracker(s.entityID) {
		fix.Timestamp = s.clock.Now()
	}
	if req.MaxAge > 0 && s.clock.Since(fix.Timestamp) > req.MaxAge {
		s.logger.Warn("Home Assistant position is older than requested",
			zap.String("entity_id", s.entityID),
			zap.Time("last_updated", fix.Timestamp))
	}

	return fix, nil
}

func (s *HomeAssistantSource) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.IsConnected() {
		return nil
	}
	if err := s.client.Connect(ctx); err != nil {
		if errors.Is(err, ha.ErrAuthInvalid) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return err
	}
	return nil
}

func isTracker(entityID string) bool {
	return strings.HasPrefix(entityID, "device_tracker.") || strings.HasPrefix(entityID, "person.")
}

// ownTracksMessage is the subset of an OwnTracks location payload we use
type ownTracksMessage struct {
	Type      string  `json:"_type"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timestamp int64   `json:"tst"`
	Accuracy  float64 `json:"acc"`
}

// OwnTracksSource listens for OwnTracks location messages on an MQTT topic
// and reports the most recent one
type OwnTracksSource struct {
	client mqtt.Client
	topic  string
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.Mutex
	subscribed bool
	latest     *Fix
	updated    chan struct{}
}

// NewOwnTracksSource creates a source subscribed lazily to topic
func NewOwnTracksSource(client mqtt.Client, topic string, clk clock.Clock, logger *zap.Logger) *OwnTracksSource {
	return &OwnTracksSource{
		client:  client,
		topic:   topic,
		clock:   clk,
		logger:  logger,
		updated: make(chan struct{}),
	}
}

func (s *OwnTracksSource) Name() string { return SourceOwnTracks }

// Locate implements Source. It returns the last received position when it
// is younger than req.MaxAge, otherwise waits for the next one.
func (s *OwnTracksSource) Locate(ctx context.Context, req Request) (Fix, error) {
	if err := s.ensureSubscribed(ctx); err != nil {
		return Fix{}, err
	}

	for {
		s.mu.Lock()
		latest, updated := s.latest, s.updated
		s.mu.Unlock()

		if latest != nil && (req.MaxAge <= 0 || s.clock.Since(latest.Timestamp) <= req.MaxAge) {
			return *latest, nil
		}

		select {
		case <-updated:
		case <-ctx.Done():
			return Fix{}, context.Cause(ctx)
		}
	}
}

func (s *OwnTracksSource) ensureSubscribed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return nil
	}
	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return err
		}
	}
	if err := s.client.Subscribe(s.topic, 1, s.handleMessage); err != nil {
		return err
	}
	s.subscribed = true
	return nil
}

func (s *OwnTracksSource) handleMessage(msg mqtt.Message) {
	var payload ownTracksMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Debug("Ignoring malformed OwnTracks payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if payload.Type != "location" {
		return
	}

	fix := Fix{
		Coordinate: solar.Coordinate{Latitude: payload.Latitude, Longitude: payload.Longitude},
		Accuracy:   payload.Accuracy,
		Source:     SourceOwnTracks,
	}
	if payload.Timestamp > 0 {
		fix.Timestamp = time.Unix(payload.Timestamp, 0)
	} else {
		fix.Timestamp = s.clock.Now()
	}
	if err := fix.Coordinate.Validate(); err != nil {
		s.logger.Warn("Ignoring OwnTracks position", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.latest != nil && fix.Timestamp.Before(s.latest.Timestamp) {
		s.mu.Unlock()
		return
	}
	s.latest = &fix
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()

	s.logger.Debug("OwnTracks position received",
		zap.String("topic", msg.Topic()),
		zap.Stringer("coordinate", fix.Coordinate))
}
