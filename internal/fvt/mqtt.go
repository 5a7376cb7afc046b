package fvt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/insikl/messaging-admin-ambassador/internal/mqttc"
)

const defaultExpectTimeout = 10 * time.Second

// mqttState holds the clients and collectors of one case.
type mqttState struct {
	mu         sync.Mutex
	clients    map[string]*mqttc.Client
	collectors map[string]*mqttc.Collector
}

func newMQTTState() *mqttState {
	return &mqttState{
		clients:    make(map[string]*mqttc.Client),
		collectors: make(map[string]*mqttc.Collector),
	}
}

// group returns the clients registered under name, or name#0..n-1 when the
// connect step fanned out.
func (m *mqttState) group(name string) []*mqttc.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[name]; ok {
		return []*mqttc.Client{c}
	}
	var names []string
	prefix := name + "#"
	for n := range m.clients {
		if len(n) > len(prefix) && n[:len(prefix)] == prefix {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	out := make([]*mqttc.Client, 0, len(names))
	for _, n := range names {
		out = append(out, m.clients[n])
	}
	return out
}

func (m *mqttState) collector(name string) *mqttc.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collectors[name]
	if !ok {
		col = mqttc.NewCollector()
		m.collectors[name] = col
	}
	return col
}

func (m *mqttState) add(name string, c *mqttc.Client) {
	m.mu.Lock()
	m.clients[name] = c
	m.mu.Unlock()
}

func (m *mqttState) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := name + "#"
	for n, c := range m.clients {
		if n == name || (len(n) > len(prefix) && n[:len(prefix)] == prefix) {
			c.Close()
			delete(m.clients, n)
		}
	}
}

func (m *mqttState) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, c := range m.clients {
		c.Close()
		delete(m.clients, n)
	}
}

func (e *suiteEnv) runMQTT(ctx context.Context, mq *mqttState, st MQTTStep) error {
	err := e.mqttAction(ctx, mq, st)
	if st.Fail {
		if err == nil {
			return fmt.Errorf("mqtt %s succeeded, expected it to be refused", st.Action)
		}
		return nil
	}
	return err
}

func (e *suiteEnv) mqttAction(ctx context.Context, mq *mqttState, st MQTTStep) error {
	switch st.Action {
	case ActionConnect:
		return e.mqttConnect(ctx, mq, st)
	case ActionDisconnect:
		mq.remove(st.Client)
		return nil
	case ActionProbe:
		broker, err := e.suite.broker(e.vars.expand(st.Broker))
		if err != nil {
			return err
		}
		_, err = mqttc.ProbeWebSocket(ctx, broker, st.Subprotocols, false)
		return err
	case ActionExpect:
		return e.mqttExpect(ctx, mq, st)
	}

	clients := mq.group(st.Client)
	if len(clients) == 0 {
		return fmt.Errorf("mqtt client %q is not connected", st.Client)
	}
	topic := e.vars.expand(st.Topic)
	switch st.Action {
	case ActionSubscribe:
		col := mq.collector(st.Client)
		return e.fanOut(clients, func(c *mqttc.Client) error {
			return c.Subscribe(ctx, topic, st.QoS, col)
		})
	case ActionUnsubscribe:
		return e.fanOut(clients, func(c *mqttc.Client) error {
			return c.Unsubscribe(ctx, topic)
		})
	case ActionPublish:
		count := st.Count
		if count <= 0 {
			count = 1
		}
		return e.fanOut(clients, func(c *mqttc.Client) error {
			for i := 0; i < count; i++ {
				payload := e.vars.expand(st.Payload)
				if count > 1 {
					payload = fmt.Sprintf("%s %d", payload, i)
				}
				if err := c.Publish(ctx, topic, st.QoS, st.Retained, []byte(payload)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fmt.Errorf("unknown mqtt action %q", st.Action)
}

func (e *suiteEnv) mqttConnect(ctx context.Context, mq *mqttState, st MQTTStep) error {
	broker, err := e.suite.broker(e.vars.expand(st.Broker))
	if err != nil {
		return err
	}
	clean := true
	if st.CleanSession != nil {
		clean = *st.CleanSession
	}
	base := mqttc.Options{
		Broker:          broker,
		ClientID:        e.vars.expand(st.ClientID),
		Username:        e.vars.expand(st.Username),
		Password:        e.vars.expand(st.Password),
		CleanSession:    clean,
		KeepAlive:       st.KeepAlive.Std(0),
		ConnectTimeout:  st.Timeout.Std(10 * time.Second),
		ConnectRetries:  st.Retries,
		ProtocolVersion: st.ProtocolVersion,
		InsecureTLS:     st.Insecure,
		WillTopic:       e.vars.expand(st.WillTopic),
		WillPayload:     []byte(e.vars.expand(st.WillPayload)),
		WillQoS:         st.WillQoS,
		WillRetained:    st.WillRetained,
	}
	// Reconnecting under a name replaces the old connection.
	mq.remove(st.Client)

	if st.Clients <= 1 {
		c, err := mqttc.Dial(ctx, base)
		if err != nil {
			return err
		}
		mq.add(st.Client, c)
		return nil
	}

	names := make([]string, st.Clients)
	opts := make([]mqttc.Options, st.Clients)
	for i := range names {
		names[i] = fmt.Sprintf("%s#%d", st.Client, i)
		opts[i] = base
		if base.ClientID != "" {
			opts[i].ClientID = fmt.Sprintf("%s%d", base.ClientID, i)
		}
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for i := range names {
		wg.Add(1)
		submitErr := e.pool.Submit(func() {
			defer wg.Done()
			c, err := mqttc.Dial(ctx, opts[i])
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			mq.add(names[i], c)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = multierror.Append(errs, submitErr)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// fanOut runs fn for every client on the suite pool and joins the errors.
func (e *suiteEnv) fanOut(clients []*mqttc.Client, fn func(*mqttc.Client) error) error {
	if len(clients) == 1 {
		return fn(clients[0])
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, c := range clients {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			if err := fn(c); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", c.ID(), err))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = multierror.Append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// mqttExpect waits for the client's collector to hold the expected number
// of messages, then checks payloads (in any order) and that no extra
// message trickles in.
func (e *suiteEnv) mqttExpect(ctx context.Context, mq *mqttState, st MQTTStep) error {
	col := mq.collector(st.Client)
	want := st.Messages
	if want == 0 {
		want = int64(len(st.Payloads))
	}
	ctx, cancel := context.WithTimeout(ctx, st.Timeout.Std(defaultExpectTimeout))
	defer cancel()
	if want > 0 {
		if err := col.WaitFor(ctx, want); err != nil {
			return err
		}
	}
	if got := col.Count(); got != want {
		return fmt.Errorf("client %s received %d messages, expected %d", st.Client, got, want)
	}
	if len(st.Payloads) > 0 {
		msgs := col.Messages()
		left := make(map[string]int, len(st.Payloads))
		for _, p := range st.Payloads {
			left[e.vars.expand(p)]++
		}
		for _, m := range msgs {
			left[string(m.Payload)]--
		}
		for p, n := range left {
			if n > 0 {
				return fmt.Errorf("client %s did not receive %q", st.Client, p)
			}
		}
	}
	col.Reset()
	return nil
}
