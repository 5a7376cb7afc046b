// Package admin is a client for the messaging server's admin REST API
// (/ima/v1/configuration, /ima/v1/monitor, /ima/v1/service, /ima/v1/file).
package admin

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// Root of every admin REST path.
const basePath = "/ima/v1/"

// Domains under basePath.
const (
	DomainConfiguration = "configuration/"
	DomainMonitor       = "monitor/"
	DomainService       = "service/"
	DomainFile          = "file/"
)

// Client talks to one admin endpoint.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	user       string
	password   string
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sends user/password with every request.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithInsecureTLS skips verification of the admin endpoint certificate.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
}

// NewClient returns a client for the admin endpoint at baseURL. A bare
// host:port is taken as plain http, which is how the admin endpoint listens
// by default.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("admin endpoint URL is empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid admin endpoint %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid admin endpoint %q: no host", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		base: u,
		httpClient: &http.Client{
			Timeout: time.Duration(60) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the admin endpoint this client was created for.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// RawResponse is an undecoded admin API reply.
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *RawResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// URL builds the full URL of a path relative to /ima/v1/.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + basePath + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Do sends a request to a path relative to /ima/v1/ and returns the reply
// whatever its status. Only transport failures are returned as errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte) (*RawResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	logger.Debug("%s %s", method, req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debug("%s %s -> %d (%d bytes)", method, req.URL.Path, resp.StatusCode, len(data))

	return &RawResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// call is Do with non-2xx replies turned into *APIError.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	resp, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, newAPIError(resp)
	}
	return resp.Body, nil
}

// callJSON decodes a successful reply into out.
func (c *Client) callJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	data, err := c.call(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s reply: %w", method, path, err)
	}
	return nil
}

// escape path-escapes each segment of an object name the way the console's
// encodeURIComponent does.
func escape(name string) string {
	return url.PathEscape(name)
}
