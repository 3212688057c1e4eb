package ha

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states    map[string]*State
	statesMu  sync.RWMutex
	connected bool
	connMu    sync.RWMutex

	// ConnectErr is returned by Connect when set
	ConnectErr error

	connects int
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states: make(map[string]*State),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connects++
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// Connects returns how many times Connect was called
func (m *MockClient) Connects() int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connects
}

// GetState retrieves a state set with SetState
func (m *MockClient) GetState(ctx context.Context, entityID string) (*State, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}

	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return state, nil
}

// SetState stores a state for later retrieval
func (m *MockClient) SetState(state *State) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.states[state.EntityID] = state
}
