package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
)

// Logger receives handler failures and connection loss.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one received message. paho calls it on its own
// goroutine, so it must return promptly.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the broker connection of one simulator instance.
//
// It publishes the retained instance status: online on every (re)connect,
// offline on Close, and an offline LWT when the process dies.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions survive reconnects.
type Client struct {
	paho     pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	mu           sync.RWMutex
	connected    bool
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker and returns once the session is up.
//
// The will message is registered before dialling. Reconnects after a lost
// connection happen in the background; only the first dial can fail.
//
// Parameters:
//   - cfg: MQTT configuration
//   - instance: Simulator instance ID used in topic names
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the broker cannot be reached in time
func Connect(cfg config.MQTTConfig, instance string) (*Client, error) {
	id := clientID(cfg, instance)
	c := &Client{
		cfg:      cfg,
		topics:   NewTopics(cfg.TopicPrefix, instance),
		clientID: id,
		subs:     make(map[string]subscription),
	}

	opts := buildClientOptions(cfg, id)
	configureLWT(opts, c.topics, id)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK from %s within %v", ErrConnectionFailed, opts.Servers[0], defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// connectionUp may still be queued on the paho goroutine.
	c.setConnected(true)
	return c, nil
}

// Topics returns the topic builder of this instance.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// connectionUp runs on the initial connect and on every reconnect.
func (c *Client) connectionUp() {
	c.mu.Lock()
	c.connected = true
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	callback := c.onConnect
	c.mu.Unlock()

	// Clean sessions drop subscriptions on the broker side.
	for topic, sub := range subs {
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.publishStatus(statusOnline, "")

	if callback != nil {
		callback()
	}
}

func (c *Client) connectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback, logger := c.onDisconnect, c.logger
	c.mu.Unlock()

	if logger != nil {
		logger.Warn("mqtt connection lost", "instance", c.topics.Instance, "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.paho.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
		buildStatusPayload(status, c.topics.Instance, c.clientID, reason))
}

// Close marks the instance offline and disconnects. Closing a nil or
// never-connected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonGraceful).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect sets a callback run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for connection loss and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) currentLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho. Errors are logged as
// warnings, panics are recovered and logged as errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		logger := c.currentLogger()
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil && logger != nil {
			logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
