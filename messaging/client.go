// Package messaging carries protocol envelopes between the core server and
// the stations over MQTT or Kafka.
package messaging

import (
	"errors"
	"fmt"
	"sync"

	"phasetrack/config"
)

// Publisher sends raw payloads to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ErrNotConnected is returned by Publish and Subscribe before Connect
// succeeded or after Close.
var ErrNotConnected = errors.New("messaging not connected")

// transport is one broker binding.
type transport interface {
	publish(topic string, payload []byte) error
	subscribe(topic string, handler func([]byte)) error
	connected() bool
	close()
}

// Client publishes and subscribes through the configured backend.
type Client struct {
	mu  sync.RWMutex
	cfg *config.MessagingConfig
	t   transport
}

var _ Publisher = (*Client)(nil)

func NewClient(cfg *config.MessagingConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the backend named in the config.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		return nil
	}
	var (
		t   transport
		err error
	)
	switch c.cfg.Backend {
	case "mqtt":
		t, err = dialMQTT(c.cfg)
	case "kafka":
		t, err = dialKafka(c.cfg)
	default:
		return fmt.Errorf("unknown messaging backend: %q", c.cfg.Backend)
	}
	if err != nil {
		return err
	}
	c.t = t
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.t == nil {
		return ErrNotConnected
	}
	if err := c.t.publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers every message on topic to handler.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return ErrNotConnected
	}
	if err := c.t.subscribe(topic, handler); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t != nil && c.t.connected()
}

// Close disconnects and stops all subscriptions.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		c.t.close()
		c.t = nil
	}
}
