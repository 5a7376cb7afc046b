package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/config"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

const testBase = "test.ima"

func runNATS(t *testing.T) *nats.Conn {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(s.Shutdown)

	nc, err := Connect(config.NATS{URLs: s.ClientURL(), Name: "bridge-test"})
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// adminStub answers status, echoes posted configuration and 404s the rest.
func adminStub(t *testing.T, tag string) *admin.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Stub", tag)
		switch {
		case r.URL.Path == "/ima/v1/service/status":
			io.WriteString(w, `{"Version":"v1","Server":{"Status":"Running","State":1,"Name":"`+tag+`"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/ima/v1/configuration/":
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		case strings.HasPrefix(r.URL.Path, "/ima/v1/monitor/"):
			io.WriteString(w, `{"Version":"v1","Monitor":"`+tag+`","ResultCount":"`+r.URL.Query().Get("ResultCount")+`"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"Status":404,"Code":"CWLNA0136","Message":"The item or object cannot be found."}`)
		}
	}))
	t.Cleanup(srv.Close)
	c, err := admin.NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func setup(t *testing.T) (*nats.Conn, *mux.Router) {
	t.Helper()
	nc := runNATS(t)
	resp := NewResponder(nc, testBase, nil)
	resp.AddTarget("a1", adminStub(t, "a1"))
	require.NoError(t, resp.Start())
	t.Cleanup(resp.Stop)
	require.NoError(t, nc.Flush())

	r := mux.NewRouter()
	NewProxy(nc, testBase).Register(r)
	return nc, r
}

func serve(r http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProxyRoundTrip(t *testing.T) {
	_, r := setup(t)

	subj := Subject(testBase, "a1")
	before := testutil.ToFloat64(proxyRequest.With(prometheus.Labels{"subject": subj, "code": "200"}))

	rec := serve(r, http.MethodGet, "/proxy/a1/service/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"Version":"v1","Server":{"Status":"Running","State":1,"Name":"a1"}}`, rec.Body.String())
	require.Equal(t, before+1, testutil.ToFloat64(proxyRequest.With(prometheus.Labels{"subject": subj, "code": "200"})))

	rec = serve(r, http.MethodPost, "/proxy/a1/configuration/", `{"ConnectionPolicy":{"cp1":{"ClientID":"*"}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ConnectionPolicy":{"cp1":{"ClientID":"*"}}}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/proxy/a1/monitor/Subscription?ResultCount=25", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ResultCount":"25"`)

	rec = serve(r, http.MethodGet, "/proxy/a1/configuration/Endpoint/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "CWLNA0136")
}

func TestProxyErrors(t *testing.T) {
	nc, r := setup(t)

	rec := serve(r, http.MethodGet, "/proxy/a2/service/status", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/proxy/a.1/service/status", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A responder that never answers.
	_, err := nc.Subscribe(Subject(testBase, "slow"), func(*nats.Msg) {})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	start := time.Now()
	rec = serve(r, http.MethodGet, "/proxy/slow/service/status", "", map[string]string{TimeoutHeader: "1"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Less(t, time.Since(start), 5*time.Second)

	// A responder whose endpoint is down.
	resp := NewResponder(nc, testBase, nil)
	down, err := admin.NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	resp.AddTarget("down", down)
	require.NoError(t, resp.Start())
	defer resp.Stop()
	require.NoError(t, nc.Flush())
	rec = serve(r, http.MethodGet, "/proxy/down/service/status", "", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestResponderRoutes(t *testing.T) {
	nc := runNATS(t)
	a1 := adminStub(t, "a1")
	a2 := adminStub(t, "a2")

	resp := NewResponder(nc, testBase, func(u string) (*admin.Client, error) {
		if u != a2.BaseURL() {
			return nil, fmt.Errorf("unexpected target %s", u)
		}
		return a2, nil
	})
	resp.AddTarget("a1", a1)
	resp.AddRoute(models.RelayRoute{
		Topic: "site.east.admin",
		Route: models.PubSubRoute{
			Default: "a1",
			Rules:   []models.RouteRule{{Match: "monitor/", Path: a2.BaseURL()}},
		},
	})
	require.NoError(t, resp.Start())
	defer resp.Stop()

	request := func(req RelayRequest) RelayResponse {
		t.Helper()
		data, err := json.Marshal(req)
		require.NoError(t, err)
		msg, err := nc.Request("site.east.admin", data, 5*time.Second)
		require.NoError(t, err)
		var out RelayResponse
		require.NoError(t, json.Unmarshal(msg.Data, &out))
		return out
	}

	out := request(RelayRequest{ID: "r1", Path: "service/status"})
	require.Equal(t, "r1", out.ID)
	require.Equal(t, http.StatusOK, out.Status)
	require.Contains(t, string(out.Body), `"Name":"a1"`)

	out = request(RelayRequest{ID: "r2", Path: "monitor/Server"})
	require.Equal(t, http.StatusOK, out.Status)
	require.Contains(t, string(out.Body), `"Monitor":"a2"`)

	refused := prometheus.Labels{"subject": "site.east.admin", "code": "400"}
	gateway := prometheus.Labels{"subject": "site.east.admin", "code": "502"}
	before, beforeGateway := testutil.ToFloat64(proxyReply.With(refused)), testutil.ToFloat64(proxyReply.With(gateway))

	out = request(RelayRequest{ID: "r3", Method: "PATCH", Path: "service/status"})
	require.Equal(t, http.StatusBadRequest, out.Status)
	require.Equal(t, `method "PATCH" not relayed`, out.Error)
	require.Empty(t, out.Body)

	out = request(RelayRequest{ID: "r4", Path: "../../etc/passwd"})
	require.Equal(t, http.StatusBadRequest, out.Status)
	require.Equal(t, "invalid path", out.Error)

	require.Equal(t, before+2, testutil.ToFloat64(proxyReply.With(refused)))
	require.Equal(t, beforeGateway, testutil.ToFloat64(proxyReply.With(gateway)))
}

func TestProxyRefusedRequest(t *testing.T) {
	nc, r := setup(t)
	_, err := nc.Subscribe(Subject(testBase, "strict"), func(m *nats.Msg) {
		data, _ := json.Marshal(RelayResponse{Status: http.StatusBadRequest, Error: "invalid path"})
		_ = m.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	rec := serve(r, http.MethodGet, "/proxy/strict/service/status", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"Status":400,"Message":"invalid path"}`, rec.Body.String())
}

func TestHandleInvalidPayload(t *testing.T) {
	nc := runNATS(t)
	resp := NewResponder(nc, testBase, nil)
	route := models.RelayRoute{Topic: "t", Route: models.PubSubRoute{Default: "nowhere"}}

	var out RelayResponse
	require.NoError(t, json.Unmarshal(resp.Handle(route, []byte("x-prometheus-scrape-timeout-seconds=10")), &out))
	require.Equal(t, http.StatusBadRequest, out.Status)
	require.Contains(t, out.Error, "invalid relay request")

	require.NoError(t, json.Unmarshal(resp.Handle(route, []byte(`{"id":"q","path":"service/status"}`)), &out))
	require.Equal(t, "q", out.ID)
	require.Contains(t, out.Error, `unknown target "nowhere"`)
}

func TestLoadRoutes(t *testing.T) {
	dir := t.TempDir()
	routes, err := LoadRoutes(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	require.Empty(t, routes)

	path := filepath.Join(dir, "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"pubsubname": "nats", "topic": "site.east.admin", "route": {"default": "a1"}},
  {"pubsubname": "nats", "topic": "site.west.admin", "route": {"default": "http://10.0.0.2:9089",
    "rules": [{"match": "monitor/", "path": "http://10.0.0.3:9089"}]}}
]`), 0o600))
	routes, err = LoadRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	require.Equal(t, "http://10.0.0.3:9089", routes[1].Target("monitor/Server"))
	require.Equal(t, "http://10.0.0.2:9089", routes[1].Target("service/status"))

	require.NoError(t, os.WriteFile(path, []byte(`[{"topic": "x"}]`), 0o600))
	_, err = LoadRoutes(path)
	require.Error(t, err)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "io.messaging.ima.a1.admin", Subject("io.messaging.ima.", "a1"))
	require.True(t, ValidServerName("ima-server_1"))
	require.False(t, ValidServerName("a.b"))
	require.False(t, ValidServerName(""))
}
