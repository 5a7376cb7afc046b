package mqttc

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/atomic"
)

// Message is a received publication.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	Received  time.Time
}

// Collector gathers messages delivered to one or more subscriptions.
type Collector struct {
	count *atomic.Int64

	mu      sync.Mutex
	msgs    []Message
	changed chan struct{}
}

func NewCollector() *Collector {
	return &Collector{
		count:   atomic.NewInt64(0),
		changed: make(chan struct{}),
	}
}

// Handler is the paho callback feeding the collector.
func (c *Collector) Handler() mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		c.Add(Message{
			Topic:     m.Topic(),
			Payload:   append([]byte(nil), m.Payload()...),
			QoS:       m.Qos(),
			Retained:  m.Retained(),
			Duplicate: m.Duplicate(),
			Received:  time.Now(),
		})
	}
}

// Add records a message and wakes waiters.
func (c *Collector) Add(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.count.Inc()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Count is the number of messages received so far.
func (c *Collector) Count() int64 {
	return c.count.Load()
}

// Messages returns a copy of the received messages in arrival order.
func (c *Collector) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

// Reset drops everything received so far.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.msgs = nil
	c.count.Store(0)
	c.mu.Unlock()
}

// WaitFor blocks until at least n messages arrived or ctx ends.
func (c *Collector) WaitFor(ctx context.Context, n int64) error {
	for {
		c.mu.Lock()
		ch := c.changed
		c.mu.Unlock()
		if c.Count() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("received %d of %d messages: %w", c.Count(), n, ctx.Err())
		case <-ch:
		}
	}
}
