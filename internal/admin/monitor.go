package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"

	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// MonitorQuery filters and sorts monitoring collections.
type MonitorQuery struct {
	ResultCount     int    `url:"ResultCount,omitempty"`
	StatType        string `url:"StatType,omitempty"`
	Name            string `url:"Name,omitempty"`
	ClientID        string `url:"ClientID,omitempty"`
	SubName         string `url:"SubName,omitempty"`
	TopicString     string `url:"TopicString,omitempty"`
	SubType         string `url:"SubType,omitempty"`
	Endpoint        string `url:"Endpoint,omitempty"`
	Protocol        string `url:"Protocol,omitempty"`
	ConnectionState string `url:"ConnectionState,omitempty"`
	Duration        int    `url:"Duration,omitempty"`
}

// Monitor reads one monitoring collection and returns the raw document.
func (c *Client) Monitor(ctx context.Context, t models.MonitorType, q MonitorQuery) ([]byte, error) {
	v, err := query.Values(q)
	if err != nil {
		return nil, fmt.Errorf("invalid monitor query: %w", err)
	}
	return c.call(ctx, http.MethodGet, DomainMonitor+string(t), v, nil)
}

func (c *Client) monitorJSON(ctx context.Context, t models.MonitorType, q MonitorQuery, out any) error {
	v, err := query.Values(q)
	if err != nil {
		return fmt.Errorf("invalid monitor query: %w", err)
	}
	return c.callJSON(ctx, http.MethodGet, DomainMonitor+string(t), v, nil, out)
}

// Subscriptions lists subscriptions.
func (c *Client) Subscriptions(ctx context.Context, q MonitorQuery) ([]models.SubscriptionStat, error) {
	var l models.SubscriptionList
	if err := c.monitorJSON(ctx, models.MonitorSubscription, q, &l); err != nil {
		return nil, err
	}
	return l.Subscription, nil
}

// MQTTClients lists MQTT client states, connected or not.
func (c *Client) MQTTClients(ctx context.Context, q MonitorQuery) ([]models.MQTTClientStat, error) {
	var l models.MQTTClientList
	if err := c.monitorJSON(ctx, models.MonitorMQTTClient, q, &l); err != nil {
		return nil, err
	}
	return l.MQTTClient, nil
}

// Connections lists the open connections.
func (c *Client) Connections(ctx context.Context, q MonitorQuery) ([]models.ConnectionStat, error) {
	var l models.ConnectionList
	if err := c.monitorJSON(ctx, models.MonitorConnection, q, &l); err != nil {
		return nil, err
	}
	return l.Connection, nil
}

// ServerStats reads the server-wide statistics.
func (c *Client) ServerStats(ctx context.Context) (*models.ServerStats, error) {
	var s models.ServerStats
	if err := c.monitorJSON(ctx, models.MonitorServer, MonitorQuery{}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
