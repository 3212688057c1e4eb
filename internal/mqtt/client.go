package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client represents an MQTT client interface for testing and abstraction
type Client interface {
	// Connect establishes a connection to the MQTT broker
	Connect(ctx context.Context) error

	// Disconnect closes the connection to the MQTT broker
	Disconnect()

	// Subscribe subscribes to a topic with the given QoS and handler
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// IsConnected returns whether the client is currently connected
	IsConnected() bool
}

// MessageHandler is a callback function for handling incoming MQTT messages
type MessageHandler func(Message)

// Message represents an MQTT message
type Message interface {
	Topic() string
	Payload() []byte
}

// Options configures the broker connection
type Options struct {
	Broker   string
	Port     int
	User     string
	Password string
	ClientID string
}

// Address returns the broker URL
func (o Options) Address() string {
	return fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// mqttClient implements the Client interface using the Paho MQTT client.
// Subscriptions are remembered and re-armed on every (re)connect, because a
// clean session loses them on the broker side.
type mqttClient struct {
	client pahomqtt.Client
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	subs       map[string]subscription
	connecting pahomqtt.Token
}

// NewClient creates a new MQTT client with the given options
func NewClient(o Options, logger *zap.Logger) Client {
	m := &mqttClient{
		opts:   o,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.Address())

	if o.ClientID != "" {
		opts.SetClientID(o.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("goldenhour-%d", time.Now().Unix()))
	}
	if o.User != "" {
		opts.SetUsername(o.User)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c pahomqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", o.Address()))
		m.resubscribe(c)
	}
	opts.OnConnectionLost = func(c pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	m.client = pahomqtt.NewClient(opts)
	return m
}

// Connect establishes a connection to the MQTT broker. A connect still
// retrying from an earlier call is waited on rather than started again.
func (m *mqttClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting == nil {
		m.logger.Info("Connecting to MQTT broker", zap.String("broker", m.opts.Address()))
		m.connecting = m.client.Connect()
	}
	token := m.connecting
	m.mu.Unlock()

	select {
	case <-token.Done():
		m.mu.Lock()
		if m.connecting == token {
			m.connecting = nil
		}
		m.mu.Unlock()

		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection timeout: %w", ctx.Err())
	}
}

// Disconnect closes the connection to the MQTT broker
func (m *mqttClient) Disconnect() {
	m.logger.Info("Disconnecting from MQTT broker")
	m.client.Disconnect(250)
}

// Subscribe subscribes to a topic with the given QoS and handler. The
// subscription is renewed after every reconnect.
func (m *mqttClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	m.logger.Info("Subscribing to MQTT topic", zap.String("topic", topic), zap.Uint8("qos", qos))

	sub := subscription{qos: qos, handler: handler}
	m.mu.Lock()
	m.subs[topic] = sub
	m.mu.Unlock()

	if err := m.subscribe(m.client, topic, sub); err != nil {
		m.mu.Lock()
		delete(m.subs, topic)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mqttClient) subscribe(c pahomqtt.Client, topic string, sub subscription) error {
	token := c.Subscribe(topic, sub.qos, func(client pahomqtt.Client, msg pahomqtt.Message) {
		sub.handler(msg)
	})
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// resubscribe restores every recorded subscription after a connect
func (m *mqttClient) resubscribe(c pahomqtt.Client) {
	m.mu.Lock()
	subs := make(map[string]subscription, len(m.subs))
	for topic, sub := range m.subs {
		subs[topic] = sub
	}
	m.mu.Unlock()

	for topic, sub := range subs {
		if err := m.subscribe(c, topic, sub); err != nil {
			m.logger.Error("Failed to restore MQTT subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// IsConnected reports whether the connection is open. Paho's own
// IsConnected is also true while a connect is still being retried.
func (m *mqttClient) IsConnected() bool {
	return m.client.IsConnectionOpen()
}
