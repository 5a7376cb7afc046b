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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// TimeoutHeader sets the relay timeout in seconds for a proxied call.
const TimeoutHeader = "X-Relay-Timeout-Seconds"

// Largest body forwarded, matching the NATS default max payload.
const maxProxyBody = 1 << 20

// Proxy turns HTTP calls on /proxy/{server}/{path} into relay requests.
type Proxy struct {
	nc   *nats.Conn
	base string
}

func NewProxy(nc *nats.Conn, subjectBase string) *Proxy {
	if nc == nil {
		panic("nil NATS session!")
	}
	return &Proxy{nc: nc, base: subjectBase}
}

// Register mounts the proxy on r.
func (p *Proxy) Register(r *mux.Router) {
	r.Handle("/proxy/{server}/{path:.*}", p).
		Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
}

// HTTP handler function for `/proxy` endpoint
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Start timer
	start := time.Now()

	vars := mux.Vars(r)
	server := vars["server"]
	if !ValidServerName(server) {
		writeError(w, http.StatusBadRequest, "missing or invalid server name")
		return
	}

	timeoutRaw, err := strconv.Atoi(r.Header.Get(TimeoutHeader))
	if err != nil || timeoutRaw <= 0 {
		// Unable to convert string to int, default to 10 seconds.
		timeoutRaw = DefaultRelayTimeoutSeconds
	}
	timeout := time.Duration(timeoutRaw) * time.Second

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(body) == 0 {
		body = nil
	}

	req := RelayRequest{
		ID:             uuid.NewString(),
		Method:         r.Method,
		Path:           vars["path"],
		Query:          r.URL.Query(),
		Body:           body,
		TimeoutSeconds: timeoutRaw,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	subj := Subject(p.base, server)
	msg, err := p.nc.Request(subj, payload, timeout)
	if err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, nats.ErrNoResponders) {
			code = http.StatusBadRequest
		}
		logger.Error("%v on subject [%v], %v", err, subj, time.Since(start))
		p.count(subj, code)
		writeError(w, code, err.Error())
		return
	}

	var resp RelayResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		p.count(subj, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "invalid relay reply: "+err.Error())
		return
	}
	if resp.Status == 0 {
		p.count(subj, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, resp.Error)
		return
	}

	p.count(subj, resp.Status)
	if len(resp.Body) == 0 && resp.Error != "" {
		writeError(w, resp.Status, resp.Error)
		return
	}
	logger.Debug("relayed %s %s via [%v]: %d, %v", r.Method, req.Path, subj, resp.Status, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (p *Proxy) count(subj string, code int) {
	// Increase counter by one
	proxyRequest.With(prometheus.Labels{
		"subject": subj,
		"code":    strconv.Itoa(code),
	}).Inc()
}

// writeError answers in the admin API's own error shape.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"Status":  status,
		"Message": strings.TrimSpace(msg),
	})
}
