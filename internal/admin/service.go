package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"

	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// Services accepted by restart, stop and start.
const (
	ServiceServer         = "Server"
	ServiceMQConnectivity = "MQConnectivity"
	ServicePlugin         = "Plugin"
	ServiceSNMP           = "SNMP"
)

// Status reads the service status document. component narrows it to one
// section (Server, Plugin, MQConnectivity, SNMP, Cluster, HighAvailability);
// empty reads all of them.
func (c *Client) Status(ctx context.Context, component string) (*models.ServerStatus, error) {
	path := DomainService + "status"
	if component != "" {
		path += "/" + escape(component)
	}
	var s models.ServerStatus
	if err := c.callJSON(ctx, http.MethodGet, path, nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Restart restarts a service.
func (c *Client) Restart(ctx context.Context, r models.RestartRequest) (*models.Response, error) {
	if r.Service == "" {
		r.Service = ServiceServer
	}
	return c.post(ctx, DomainService+"restart", r)
}

// Stop stops a service. Stopping the Server leaves only the admin endpoint
// reachable when it runs in a separate process.
func (c *Client) Stop(ctx context.Context, service string) (*models.Response, error) {
	return c.post(ctx, DomainService+"stop", models.ServiceRequest{Service: service})
}

// Start starts a stopped service.
func (c *Client) Start(ctx context.Context, service string) (*models.Response, error) {
	return c.post(ctx, DomainService+"start", models.ServiceRequest{Service: service})
}

// DeleteClientSet deletes all clients (and their subscriptions) whose ClientID
// matches cs.ClientID and the retained messages on topics matching cs.Retain.
func (c *Client) DeleteClientSet(ctx context.Context, cs models.ClientSet) (*models.Response, error) {
	if cs.ClientID == "" {
		return nil, fmt.Errorf("ClientSet requires a ClientID pattern")
	}
	v, err := query.Values(cs)
	if err != nil {
		return nil, err
	}
	data, err := c.call(ctx, http.MethodDelete, DomainService+"ClientSet", v, nil)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// CloseConnection forcibly disconnects clients matching the request.
func (c *Client) CloseConnection(ctx context.Context, r models.CloseConnectionRequest) (*models.Response, error) {
	if r.ClientID == "" && r.UserID == "" && r.ClientAddress == "" {
		return nil, fmt.Errorf("close connection requires ClientID, UserID or ClientAddress")
	}
	return c.post(ctx, DomainService+"close/connection", r)
}

// ClientSetTransfer is the body of ClientSet export and import requests.
type ClientSetTransfer struct {
	ClientID string `json:"ClientID,omitempty"`
	Retain   string `json:"Retain,omitempty"`
	FileName string `json:"FileName"`
	Password string `json:"Password"`
	Topic    string `json:"Topic,omitempty"`
}

// ExportClientSet starts an asynchronous export; the returned response
// carries the request ID to poll with TaskStatus.
func (c *Client) ExportClientSet(ctx context.Context, r ClientSetTransfer) (*models.Response, error) {
	return c.post(ctx, DomainService+"export/ClientSet", r)
}

// ImportClientSet starts an asynchronous import of a previously exported file.
func (c *Client) ImportClientSet(ctx context.Context, r ClientSetTransfer) (*models.Response, error) {
	return c.post(ctx, DomainService+"import/ClientSet", r)
}

// TaskStatus polls an export or import request. kind is "export" or "import".
func (c *Client) TaskStatus(ctx context.Context, kind, requestID string) ([]byte, error) {
	return c.call(ctx, http.MethodGet, DomainService+"status/"+escape(kind)+"/ClientSet/"+escape(requestID), nil, nil)
}

func (c *Client) post(ctx context.Context, path string, in any) (*models.Response, error) {
	var r models.Response
	if err := c.callJSON(ctx, http.MethodPost, path, nil, in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
