// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// QueueGroup lets several ambassadors share the targets they can reach.
const QueueGroup = "ima-ambassador"

// ClientFactory builds an admin client for a route target given as a URL.
type ClientFactory func(url string) (*admin.Client, error)

// Responder answers relay requests for a set of admin endpoints.
type Responder struct {
	nc      *nats.Conn
	base    string
	factory ClientFactory

	mu      sync.Mutex
	targets map[string]*admin.Client
	byURL   map[string]*admin.Client
	routes  []models.RelayRoute
	subs    []*nats.Subscription
}

func NewResponder(nc *nats.Conn, subjectBase string, factory ClientFactory) *Responder {
	if nc == nil {
		panic("nil NATS session!")
	}
	if factory == nil {
		factory = func(u string) (*admin.Client, error) { return admin.NewClient(u) }
	}
	return &Responder{
		nc:      nc,
		base:    subjectBase,
		factory: factory,
		targets: make(map[string]*admin.Client),
		byURL:   make(map[string]*admin.Client),
	}
}

// AddTarget serves name on Subject(base, name).
func (r *Responder) AddTarget(name string, c *admin.Client) {
	r.mu.Lock()
	r.targets[name] = c
	r.mu.Unlock()
}

// AddRoute serves an extra subject. The route target is a configured target
// name or an admin endpoint URL.
func (r *Responder) AddRoute(route models.RelayRoute) {
	r.mu.Lock()
	r.routes = append(r.routes, route)
	r.mu.Unlock()
}

// Start subscribes every target and route.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.targets {
		route := models.RelayRoute{
			Topic: Subject(r.base, name),
			Route: models.PubSubRoute{Default: name},
		}
		if err := r.subscribe(route); err != nil {
			return err
		}
	}
	for _, route := range r.routes {
		if err := r.subscribe(route); err != nil {
			return err
		}
	}
	return nil
}

func (r *Responder) subscribe(route models.RelayRoute) error {
	sub, err := r.nc.QueueSubscribe(route.Topic, QueueGroup, func(msg *nats.Msg) {
		logger.Debug(
			"incoming message for relay on [%v] to endpoint [%v]",
			msg.Subject,
			route.Route.Default,
		)
		reply := r.Handle(route, msg.Data)
		if err := msg.Respond(reply); err != nil {
			logger.Error("Error on response: [%v]", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", route.Topic, err)
	}
	r.subs = append(r.subs, sub)
	logger.Info("subscribed to [%v], with endpoint [%v]", route.Topic, route.Route.Default)
	return nil
}

// Stop drains the subscriptions so in-flight requests still get replies.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if err := s.Drain(); err != nil {
			logger.Warn("drain [%v]: %v", s.Subject, err)
		}
	}
	r.subs = nil
}

// Handle serves one encoded RelayRequest and returns the encoded reply.
func (r *Responder) Handle(route models.RelayRoute, data []byte) []byte {
	var req RelayRequest
	var resp RelayResponse
	if err := json.Unmarshal(data, &req); err != nil {
		resp = RelayResponse{Status: http.StatusBadRequest, Error: fmt.Sprintf("invalid relay request: %v", err)}
		proxyReply.With(prometheus.Labels{
			"subject": route.Topic,
			"code":    "400",
		}).Inc()
	} else {
		resp = r.serve(route, req)
		code := strconv.Itoa(resp.Status)
		if resp.Status == 0 {
			code = "502"
		}
		proxyReply.With(prometheus.Labels{
			"subject": route.Topic,
			"code":    code,
		}).Inc()
	}

	out, err := json.Marshal(resp)
	if err != nil {
		logger.Error("encode relay reply: %v", err)
	}
	return out
}

func (r *Responder) serve(route models.RelayRoute, req RelayRequest) RelayResponse {
	resp := RelayResponse{ID: req.ID}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		resp.Status = http.StatusBadRequest
		resp.Error = fmt.Sprintf("method %q not relayed", req.Method)
		return resp
	}
	if strings.Contains(req.Path, "..") {
		resp.Status = http.StatusBadRequest
		resp.Error = "invalid path"
		return resp
	}

	client, err := r.client(route.Target(req.Path))
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultRelayTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	raw, err := client.Do(ctx, method, req.Path, req.Query, req.Body)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Status = raw.Status
	resp.Body = raw.Body
	return resp
}

// client resolves a route target: a configured name first, then a URL.
func (r *Responder) client(target string) (*admin.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.targets[target]; ok {
		return c, nil
	}
	if c, ok := r.byURL[target]; ok {
		return c, nil
	}
	if !strings.Contains(target, "://") {
		return nil, fmt.Errorf("unknown target %q", target)
	}
	c, err := r.factory(target)
	if err != nil {
		return nil, err
	}
	r.byURL[target] = c
	return c, nil
}
