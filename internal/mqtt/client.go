// Package mqtt publishes upload outcome events to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
)

const (
	defaultConnectTimeout = 10 * time.Second
	// qos is at-least-once; subscribers dedupe on the event id.
	qos = 1
	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 250
)

// Client is the subset of MQTT operations the publisher needs.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, topic, payload string) error
	Disconnect()
}

// Config holds broker connection parameters.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// ConfigFromSettings maps settings onto a Config.
func ConfigFromSettings(s conf.MQTTSettings) Config {
	return Config{
		Broker:   s.Broker,
		ClientID: s.ClientID,
		Username: s.Username,
		Password: s.Password,
	}
}

type client struct {
	cfg  Config
	log  logger.Logger
	mu   sync.Mutex
	conn paho.Client
}

// NewClient creates an unconnected client. An empty client id gets a random
// one so several instances can share a broker.
func NewClient(cfg Config, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "evidencedesk-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.Module("mqtt")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", logger.Error(err))
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("mqtt connected", logger.String("broker", cfg.Broker))
	})

	return &client{cfg: cfg, log: log, conn: paho.NewClient(opts)}, nil
}

func (c *client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.IsConnected() {
		return nil
	}
	if err := wait(ctx, c.conn.Connect()); err != nil {
		return errors.New(fmt.Errorf("mqtt connect: %w", err)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.cfg.Broker).
			Build()
	}
	return nil
}

func (c *client) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.conn.IsConnected() {
		return fmt.Errorf("mqtt publish to %s: not connected", topic)
	}
	if err := wait(ctx, c.conn.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.IsConnected() {
		c.conn.Disconnect(disconnectQuiesce)
		c.log.Info("mqtt disconnected", logger.String("broker", c.cfg.Broker))
	}
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
