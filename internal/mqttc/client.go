// Package mqttc is the MQTT client side of the function verification tests:
// it connects to the messaging server over tcp, ssl, ws or wss, publishes,
// subscribes and collects what arrives.
package mqttc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// MQTT 3.1 limits client ids to 23 characters.
const maxClientIDLen = 23

// Options for one test client.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// ConnectRetries is the number of extra connect attempts.
	ConnectRetries uint64
	// ProtocolVersion is 3 (3.1) or 4 (3.1.1); zero lets paho negotiate.
	ProtocolVersion uint
	InsecureTLS     bool
	// Will, when WillTopic is set, is published by the server if the client
	// goes away without disconnecting.
	WillTopic    string
	WillPayload  []byte
	WillQoS      byte
	WillRetained bool
}

// NewClientID returns a random client id with prefix, cut to the MQTT 3.1
// length limit.
func NewClientID(prefix string) string {
	id := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > maxClientIDLen {
		id = id[:maxClientIDLen]
	}
	return id
}

// Client wraps a connected paho client.
type Client struct {
	id  string
	cli mqtt.Client
}

// Dial connects a client, retrying with exponential backoff up to
// o.ConnectRetries extra times.
func Dial(ctx context.Context, o Options) (*Client, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("no broker URL")
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID("fvt")
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = 30 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(o.CleanSession).
		SetKeepAlive(o.KeepAlive).
		SetConnectTimeout(o.ConnectTimeout).
		SetAutoReconnect(false).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT client [%v] connection lost: %v", o.ClientID, err)
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.ProtocolVersion != 0 {
		opts.SetProtocolVersion(o.ProtocolVersion)
	}
	if o.InsecureTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, o.WillPayload, o.WillQoS, o.WillRetained)
	}

	cli := mqtt.NewClient(opts)
	connect := func() error {
		if err := wait(ctx, cli.Connect()); err != nil {
			logger.Debug("MQTT connect [%v] to [%v]: %v", o.ClientID, o.Broker, err)
			return err
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.ConnectRetries), ctx)
	if err := backoff.Retry(connect, b); err != nil {
		// A connect still in flight after ctx ended would otherwise
		// leave a live session behind.
		cli.Disconnect(0)
		return nil, fmt.Errorf("MQTT connect %s to %s: %w", o.ClientID, o.Broker, err)
	}
	logger.Debug("MQTT client [%v] connected to [%v]", o.ClientID, o.Broker)
	return &Client{id: o.ClientID, cli: cli}, nil
}

// ID returns the client id in use.
func (c *Client) ID() string {
	return c.id
}

// IsConnected reports the paho connection state.
func (c *Client) IsConnected() bool {
	return c.cli.IsConnected()
}

// Publish sends one message and waits for the QoS handshake to complete.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := wait(ctx, c.cli.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe routes messages on filter to col.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, col *Collector) error {
	if err := wait(ctx, c.cli.Subscribe(filter, qos, col.Handler())); err != nil {
		return fmt.Errorf("subscribe to %s: %w", filter, err)
	}
	return nil
}

// Unsubscribe removes subscriptions.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if err := wait(ctx, c.cli.Unsubscribe(filters...)); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// Close disconnects, giving in-flight work 250ms.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	}
}
