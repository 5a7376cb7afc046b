// Package exporter polls messaging server admin endpoints and exposes what
// they report as Prometheus metrics.
package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

const namespace = "ima"

// Defaults for Exporter options.
const (
	DefaultInterval    = 30 * time.Second
	DefaultTimeout     = 10 * time.Second
	DefaultResultCount = 100
	DefaultPoolSize    = 8
)

// Target is one polled server.
type Target struct {
	Name   string
	Client *admin.Client
}

// Snapshot is what one poll of a target returned.
type Snapshot struct {
	Time   time.Time
	Status *models.ServerStatus
	Stats  map[string]float64

	// Connections is ActiveConnections from the Server document, or the
	// length of the Connection list on servers that do not report it.
	Connections      int
	MQTTConnected    int
	MQTTDisconnected int
	Subscriptions    []models.SubscriptionStat
	// Truncated records, per monitor list read, whether the server cut it
	// at ResultCount.
	Truncated map[models.MonitorType]bool
	// Complete is set when every monitoring section was read.
	Complete bool

	// Err is the first failure of the poll. Sections that were read before
	// it are still filled in.
	Err error
}

// Up reports a reachable server in a running or maintenance state.
func (s *Snapshot) Up() bool {
	return s.Status != nil && admin.IsUp(s.Status.Server.State)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithInterval sets how often targets are polled.
func WithInterval(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithTimeout bounds a single poll of one target.
func WithTimeout(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithResultCount sets ResultCount on the subscription and client queries.
func WithResultCount(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.resultCount = n
		}
	}
}

// WithPoolSize bounds how many targets are polled at once.
func WithPoolSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.poolSize = n
		}
	}
}

// Exporter is a prometheus.Collector serving the last snapshot of every
// target. Scrapes never reach the admin endpoints.
type Exporter struct {
	targets     []Target
	interval    time.Duration
	timeout     time.Duration
	resultCount int
	poolSize    int

	pool  *ants.Pool
	sched gocron.Scheduler

	mu   sync.RWMutex
	last map[string]*Snapshot

	scrapeErrors *prometheus.CounterVec

	state         *prometheus.Desc
	up            *prometheus.Desc
	uptime        *prometheus.Desc
	connections   *prometheus.Desc
	mqttClients   *prometheus.Desc
	subscriptions *prometheus.Desc
	buffered      *prometheus.Desc
	stat          *prometheus.Desc
	truncated     *prometheus.Desc
	haUnsync      *prometheus.Desc
}

func New(targets []Target, opts ...Option) (*Exporter, error) {
	e := &Exporter{
		targets:     targets,
		interval:    DefaultInterval,
		timeout:     DefaultTimeout,
		resultCount: DefaultResultCount,
		poolSize:    DefaultPoolSize,
		last:        make(map[string]*Snapshot, len(targets)),

		scrapeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrape_errors_total",
				Help:      "No of failed polls of a server admin endpoint",
			},
			[]string{"server"},
		),

		state: prometheus.NewDesc(namespace+"_server_state",
			"Server state code from the service status", []string{"server"}, nil),
		up: prometheus.NewDesc(namespace+"_server_up",
			"1 when the server is running or in maintenance", []string{"server"}, nil),
		uptime: prometheus.NewDesc(namespace+"_server_uptime_seconds",
			"Server uptime", []string{"server"}, nil),
		connections: prometheus.NewDesc(namespace+"_connections",
			"Active connections", []string{"server"}, nil),
		mqttClients: prometheus.NewDesc(namespace+"_mqtt_clients",
			"MQTT clients in the monitor list, at most the result count", []string{"server", "connected"}, nil),
		subscriptions: prometheus.NewDesc(namespace+"_subscriptions",
			"Subscriptions in the monitor list, at most the result count", []string{"server"}, nil),
		buffered: prometheus.NewDesc(namespace+"_subscription_buffered_messages",
			"Messages buffered for a subscription",
			[]string{"server", "subscription", "topic", "client"}, nil),
		stat: prometheus.NewDesc(namespace+"_server_stat",
			"Numeric field of the Server monitoring document", []string{"server", "stat"}, nil),
		truncated: prometheus.NewDesc(namespace+"_monitor_truncated",
			"1 when a monitor list filled the result count and may be incomplete",
			[]string{"server", "monitor"}, nil),
		haUnsync: prometheus.NewDesc(namespace+"_ha_unsync",
			"1 when the HA pair is not synchronized, 2 when resynchronization failed",
			[]string{"server"}, nil),
	}
	for _, o := range opts {
		o(e)
	}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.Name == "" || t.Client == nil {
			return nil, fmt.Errorf("target needs a name and a client")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("target %q defined twice", t.Name)
		}
		seen[t.Name] = true
	}

	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return e, nil
}

// Start polls every target now and then on the configured interval.
func (e *Exporter) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.Local)) //nolint:gosmopolitan
	if err != nil {
		return fmt.Errorf("cannot create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(e.interval),
		gocron.NewTask(func() {
			if err := e.Poll(ctx); err != nil {
				logger.Warn("poll: %v", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("cannot create poll job: %w", err)
	}
	s.Start()
	e.sched = s
	logger.Info("polling %d servers every %v", len(e.targets), e.interval)
	return nil
}

// Stop ends polling and releases the worker pool.
func (e *Exporter) Stop() error {
	var err error
	if e.sched != nil {
		err = e.sched.Shutdown()
	}
	e.pool.Release()
	return err
}

// Poll reads every target once, concurrently, and stores the snapshots.
func (e *Exporter) Poll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, t := range e.targets {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			snap := e.pollTarget(ctx, t)
			e.mu.Lock()
			e.last[t.Name] = snap
			e.mu.Unlock()
			if snap.Err != nil {
				e.scrapeErrors.WithLabelValues(t.Name).Inc()
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", t.Name, snap.Err))
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

func (e *Exporter) pollTarget(ctx context.Context, t Target) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	snap := &Snapshot{Time: time.Now()}
	st, err := t.Client.Status(ctx, "")
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Status = st
	if !admin.IsUp(st.Server.State) {
		// Monitoring is not served while the server is down or starting.
		return snap
	}

	stats, err := t.Client.ServerStats(ctx)
	if err != nil {
		snap.Err = fmt.Errorf("server stats: %w", err)
		return snap
	}
	snap.Stats = stats.Numbers()

	snap.Truncated = make(map[models.MonitorType]bool, 3)
	if n, ok := snap.Stats["ActiveConnections"]; ok {
		snap.Connections = int(n)
	} else {
		conns, err := t.Client.Connections(ctx, admin.MonitorQuery{ResultCount: e.resultCount})
		if err != nil {
			snap.Err = fmt.Errorf("connections: %w", err)
			return snap
		}
		snap.Connections = len(conns)
		snap.Truncated[models.MonitorConnection] = len(conns) >= e.resultCount
	}

	clients, err := t.Client.MQTTClients(ctx, admin.MonitorQuery{ResultCount: e.resultCount})
	if err != nil {
		snap.Err = fmt.Errorf("mqtt clients: %w", err)
		return snap
	}
	for _, c := range clients {
		if c.IsConnected {
			snap.MQTTConnected++
		} else {
			snap.MQTTDisconnected++
		}
	}
	snap.Truncated[models.MonitorMQTTClient] = len(clients) >= e.resultCount

	subs, err := t.Client.Subscriptions(ctx, admin.MonitorQuery{
		ResultCount: e.resultCount,
		StatType:    "BufferedMsgsHighest",
	})
	if err != nil {
		snap.Err = fmt.Errorf("subscriptions: %w", err)
		return snap
	}
	snap.Subscriptions = subs
	snap.Truncated[models.MonitorSubscription] = len(subs) >= e.resultCount
	snap.Complete = true
	logger.Debug("polled [%v]: state %d, %d connections, %d subscriptions",
		t.Name, st.Server.State, snap.Connections, len(subs))
	return snap
}

// Snapshot returns the last poll of a target.
func (e *Exporter) Snapshot(name string) (*Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.last[name]
	return s, ok
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.state
	ch <- e.up
	ch <- e.uptime
	ch <- e.connections
	ch <- e.mqttClients
	ch <- e.subscriptions
	ch <- e.buffered
	ch <- e.stat
	ch <- e.truncated
	ch <- e.haUnsync
	e.scrapeErrors.Describe(ch)
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, t := range e.targets {
		s, ok := e.last[t.Name]
		if !ok {
			continue
		}
		up := 0.0
		if s.Up() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up, t.Name)
		if s.Status == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(e.state, prometheus.GaugeValue,
			float64(s.Status.Server.State), t.Name)
		ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue,
			float64(s.Status.Server.UpTimeSeconds), t.Name)
		if ha := s.Status.HighAvailability; ha != nil && ha.Enabled {
			ch <- prometheus.MustNewConstMetric(e.haUnsync, prometheus.GaugeValue, haLevel(ha), t.Name)
		}
		if s.Stats == nil {
			continue
		}
		for k, v := range s.Stats {
			ch <- prometheus.MustNewConstMetric(e.stat, prometheus.GaugeValue, v, t.Name, k)
		}
		if !s.Complete {
			continue
		}
		ch <- prometheus.MustNewConstMetric(e.connections, prometheus.GaugeValue,
			float64(s.Connections), t.Name)
		ch <- prometheus.MustNewConstMetric(e.mqttClients, prometheus.GaugeValue,
			float64(s.MQTTConnected), t.Name, "true")
		ch <- prometheus.MustNewConstMetric(e.mqttClients, prometheus.GaugeValue,
			float64(s.MQTTDisconnected), t.Name, "false")
		ch <- prometheus.MustNewConstMetric(e.subscriptions, prometheus.GaugeValue,
			float64(len(s.Subscriptions)), t.Name)
		for m, cut := range s.Truncated {
			v := 0.0
			if cut {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(e.truncated, prometheus.GaugeValue, v, t.Name, string(m))
		}
		seen := make(map[[3]string]bool, len(s.Subscriptions))
		for _, sub := range s.Subscriptions {
			key := [3]string{sub.SubName, sub.TopicString, sub.ClientID}
			if seen[key] {
				continue
			}
			seen[key] = true
			ch <- prometheus.MustNewConstMetric(e.buffered, prometheus.GaugeValue,
				float64(sub.BufferedMsgs), t.Name, sub.SubName, sub.TopicString, sub.ClientID)
		}
	}
	e.scrapeErrors.Collect(ch)
}

func haLevel(ha *models.HAInfo) float64 {
	switch {
	case admin.IsHAErrorMode(ha.NewRole):
		return 2
	case admin.IsHAWarnMode(ha.NewRole):
		return 1
	}
	return 0
}
