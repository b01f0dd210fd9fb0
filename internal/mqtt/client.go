// Package mqtt provides the MQTT session used for telemetry, status and
// remote configuration.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by publishes while the broker connection is down
var ErrNotConnected = errors.New("MQTT client is not connected")

const publishTimeout = 5 * time.Second

// Will is the last-will message registered with the broker
type Will struct {
	Topic    string // Relative topic, prefix is added
	Payload  string
	Retained bool
}

// Config holds MQTT client configuration
type Config struct {
	Broker        string   // MQTT broker address (e.g., "tcp://localhost:1883")
	ClientID      string   // Unique client ID
	Username      string   // MQTT username (optional)
	Password      string   // MQTT password (optional)
	Prefix        string   // Topic prefix for all messages
	UseTLS        bool     // Enable TLS connection
	Will          *Will    // Last will (optional)
	Subscriptions []string // Relative topics subscribed on every connect
}

// Handlers receive session events. They run on paho goroutines and must
// not block.
type Handlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte)
}

// Client wraps the MQTT client with additional functionality
type Client struct {
	client   mqtt.Client
	config   Config
	handlers Handlers
	mu       sync.RWMutex
	logger   *zap.Logger
	isActive bool
}

// New creates a new MQTT client
func New(cfg Config, handlers Handlers, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("MQTT client id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:   cfg,
		handlers: handlers,
		logger:   logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if cfg.Will != nil {
		opts.SetWill(c.buildTopic(cfg.Will.Topic), cfg.Will.Payload, 1, cfg.Will.Retained)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn("connection lost", zap.Error(err))
		if c.handlers.OnConnectionLost != nil {
			c.handlers.OnConnectionLost(err)
		}
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info("connected to broker", zap.String("broker", cfg.Broker))
		c.subscribe(client)
		if c.handlers.OnConnect != nil {
			c.handlers.OnConnect()
		}
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logger.Debug("attempting to reconnect")
	})

	// Keep retrying in the background, Connect never blocks the control loop
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func (c *Client) subscribe(client mqtt.Client) {
	for _, rel := range c.config.Subscriptions {
		topic := c.buildTopic(rel)
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			if c.handlers.OnMessage != nil {
				c.handlers.OnMessage(msg.Topic(), msg.Payload())
			}
		})
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warn("subscribe timed out", zap.String("topic", topic))
			continue
		}
		if err := token.Error(); err != nil {
			c.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Debug("subscribed", zap.String("topic", topic))
	}
}

// Connect starts connecting to the broker and returns without waiting
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isActive {
		return nil // Already started
	}

	c.logger.Info("connecting to broker",
		zap.String("broker", c.config.Broker),
		zap.String("clientId", c.config.ClientID))

	token := c.client.Connect()
	// With connect retry the token only completes once a connection is up;
	// a completed token with an error means the options are unusable.
	if token.WaitTimeout(0) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.isActive = true
	return nil
}

// Disconnect closes connection to MQTT broker
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return
	}

	c.client.Disconnect(250) // Wait up to 250ms for graceful disconnect
	c.isActive = false

	c.logger.Info("disconnected from broker")
}

// Publish publishes a message with QoS 0 to a prefixed topic
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	return c.PublishWithQoS(topic, 0, retained, payload)
}

// PublishWithQoS publishes a message with explicit QoS and retained settings
func (c *Client) PublishWithQoS(topic string, qos byte, retained bool, payload []byte) error {
	return c.publish(c.buildTopic(topic), qos, retained, payload)
}

// PublishRaw publishes a message without adding prefix (for discovery topics)
func (c *Client) PublishRaw(topic string, retained bool, payload []byte) error {
	return c.publish(topic, 1, retained, payload)
}

func (c *Client) publish(fullTopic string, qos byte, retained bool, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(fullTopic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("failed to publish message: timed out on %s", fullTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("published",
		zap.String("topic", fullTopic),
		zap.Uint8("qos", qos),
		zap.Bool("retained", retained),
		zap.Int("bytes", len(payload)))

	return nil
}

// buildTopic constructs full topic path with prefix
func (c *Client) buildTopic(topic string) string {
	return joinTopic(c.config.Prefix, topic)
}

// IsConnected returns true if the connection to the broker is open now
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive && c.client.IsConnectionOpen()
}
