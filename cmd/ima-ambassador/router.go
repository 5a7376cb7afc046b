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
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/bridge"
	"github.com/insikl/messaging-admin-ambassador/internal/exporter"
)

type targetHealth struct {
	Up     bool      `json:"up"`
	State  *int      `json:"state,omitempty"`
	Polled time.Time `json:"polled,omitempty"`
	Error  string    `json:"error,omitempty"`
	// HAWarning is set while the HA pair is out of sync.
	HAWarning string `json:"haWarning,omitempty"`
}

type health struct {
	Version string                  `json:"version"`
	Targets map[string]targetHealth `json:"targets"`
}

// Prepare HTTP handlers
func newRouter(reg *prometheus.Registry, ex *exporter.Exporter, targets []exporter.Target, proxy *bridge.Proxy) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := health{Version: BuildVersion, Targets: make(map[string]targetHealth, len(targets))}
		for _, t := range targets {
			th := targetHealth{}
			if s, ok := ex.Snapshot(t.Name); ok {
				th.Up = s.Up()
				th.Polled = s.Time
				if s.Status != nil {
					state := s.Status.Server.State
					th.State = &state
					th.HAWarning = admin.HAWarning(s.Status.HighAvailability)
				}
				if s.Err != nil {
					th.Error = s.Err.Error()
				}
			}
			h.Targets[t.Name] = th
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h)
	}).Methods(http.MethodGet)
	if proxy != nil {
		proxy.Register(r)
	}
	return r
}
