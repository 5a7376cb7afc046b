package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// fakeServer keeps ConnectionPolicy objects and answers the way the admin
// endpoint does for the calls under test.
type fakeServer struct {
	mu       sync.Mutex
	policies map[string]map[string]any
	states   []int
	lastReq  *http.Request
	lastBody []byte
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	f := &fakeServer{
		policies: map[string]map[string]any{
			"DemoConnectionPolicy": {"ClientID": "*", "Description": "Demo connection policy"},
		},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithBasicAuth("admin", "secret"), WithUserAgent("test"))
	require.NoError(t, err)
	return f, c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	f.lastReq = r
	f.lastBody = body

	if u, p, ok := r.BasicAuth(); !ok || u != "admin" || p != "secret" {
		writeJSON(w, http.StatusUnauthorized, models.Response{Status: 401, Code: "CWLNA0105", Message: "Unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/ima/v1/configuration/ConnectionPolicy":
		writeJSON(w, 200, map[string]any{"Version": "v1", "ConnectionPolicy": f.policies})
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/ima/v1/configuration/ConnectionPolicy/"):
		name := r.URL.Path[len("/ima/v1/configuration/ConnectionPolicy/"):]
		p, ok := f.policies[name]
		if !ok {
			writeJSON(w, 404, models.Response{Status: 404, Code: models.CodeNotFound,
				Message: "The item or object cannot be found. Type: ConnectionPolicy Name: " + name})
			return
		}
		writeJSON(w, 200, map[string]any{"Version": "v1", "ConnectionPolicy": map[string]any{name: p}})
	case r.Method == http.MethodPost && r.URL.Path == "/ima/v1/configuration/":
		var doc map[string]map[string]map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			writeJSON(w, 400, models.Response{Status: 400, Code: "CWLNA0118", Message: "The properties are not valid."})
			return
		}
		for name, props := range doc["ConnectionPolicy"] {
			if props == nil {
				delete(f.policies, name)
				continue
			}
			cur := f.policies[name]
			if cur == nil {
				cur = map[string]any{}
			}
			for k, v := range props {
				cur[k] = v
			}
			f.policies[name] = cur
		}
		writeJSON(w, 200, models.Response{Status: 200, Code: models.CodeConfigComplete,
			Message: "The requested configuration change has completed successfully."})
	case r.Method == http.MethodDelete && r.URL.Path == "/ima/v1/configuration/AdminEndpoint":
		writeJSON(w, 400, models.Response{Status: 400, Code: "CWLNA0372", Message: "Delete is not allowed for AdminEndpoint object."})
	case r.Method == http.MethodDelete && r.URL.Path == "/ima/v1/service/ClientSet":
		writeJSON(w, 200, models.Response{Status: 200, Code: models.CodeClientSetDeleted,
			Message: "The request is complete. Clients found: 1, Clients deleted: 1, Deletion errors: 0"})
	case r.Method == http.MethodGet && r.URL.Path == "/ima/v1/monitor/Subscription":
		writeJSON(w, 200, models.SubscriptionList{Version: "v1", Subscription: []models.SubscriptionStat{
			{SubName: "/CD/001/1", TopicString: "/CD/001/1", ClientID: "a-ian-uid11", IsDurable: true, MaxMessages: 5000},
		}})
	case r.Method == http.MethodGet && r.URL.Path == "/ima/v1/service/status":
		state := models.StateRunning
		if len(f.states) > 0 {
			state = f.states[0]
			f.states = f.states[1:]
		}
		if state == 0 {
			writeJSON(w, 503, models.Response{Status: 503, Message: "unavailable"})
			return
		}
		writeJSON(w, 200, models.ServerStatus{Version: "v1", Server: models.ServerInfo{Status: "Running", State: state}})
	case r.Method == http.MethodPost && r.URL.Path == "/ima/v1/service/restart":
		writeJSON(w, 200, models.Response{Status: 200, Code: models.CodeSuccess, Message: "Success"})
	default:
		writeJSON(w, 400, models.Response{Status: 400, Code: models.CodeInvalidRequest,
			Message: "The REST API call: " + r.URL.Path + " is not valid."})
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	c, err := NewClient("127.0.0.1:9089")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9089/ima/v1/configuration/Endpoint", c.URL("configuration/Endpoint", nil))

	_, err = NewClient("")
	require.Error(t, err)
}

func TestConfigLifecycle(t *testing.T) {
	f, c := newFakeServer(t)
	ctx := context.Background()

	resp, err := c.SetObject(ctx, models.ConnectionPolicy, "TestConnPol", models.Properties{"ClientID": "*"})
	require.NoError(t, err)
	require.Equal(t, models.CodeConfigComplete, resp.Code)
	require.Equal(t, "test", f.lastReq.Header.Get("User-Agent"))

	props, err := c.GetObject(ctx, models.ConnectionPolicy, "TestConnPol")
	require.NoError(t, err)
	require.Equal(t, "*", props["ClientID"])

	doc, err := c.GetConfig(ctx, models.ConnectionPolicy, "")
	require.NoError(t, err)
	all, err := doc.Named(models.ConnectionPolicy)
	require.NoError(t, err)
	require.Len(t, all, 2)

	payload, err := models.NamedPayload(models.ConnectionPolicy, "TestConnPol", nil)
	require.NoError(t, err)
	_, err = c.SetConfig(ctx, payload)
	require.NoError(t, err)

	_, err = c.GetObject(ctx, models.ConnectionPolicy, "TestConnPol")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.True(t, HasCode(err, models.CodeNotFound))
}

func TestSetConfigRejectsInvalidJSON(t *testing.T) {
	_, c := newFakeServer(t)
	_, err := c.SetConfig(context.Background(), []byte(`{"ConnectionPolicy":`))
	require.Error(t, err)
}

func TestDeleteNotAllowed(t *testing.T) {
	_, c := newFakeServer(t)
	_, err := c.DeleteConfig(context.Background(), models.AdminEndpoint, "")
	require.Error(t, err)
	require.True(t, HasCode(err, "CWLNA0372"))
	require.Contains(t, err.Error(), "Delete is not allowed")
}

func TestUnauthorized(t *testing.T) {
	f, _ := newFakeServer(t)
	srv := httptest.NewServer(f)
	defer srv.Close()
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.Status(context.Background(), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestDeleteClientSetQuery(t *testing.T) {
	f, c := newFakeServer(t)
	resp, err := c.DeleteClientSet(context.Background(), models.ClientSet{ClientID: "^a-ian-uid2", Retain: "^"})
	require.NoError(t, err)
	require.Equal(t, models.CodeClientSetDeleted, resp.Code)
	require.Equal(t, "^a-ian-uid2", f.lastReq.URL.Query().Get("ClientID"))
	require.Equal(t, "^", f.lastReq.URL.Query().Get("Retain"))

	_, err = c.DeleteClientSet(context.Background(), models.ClientSet{})
	require.Error(t, err)
}

func TestSubscriptionsQuery(t *testing.T) {
	f, c := newFakeServer(t)
	subs, err := c.Subscriptions(context.Background(), MonitorQuery{ResultCount: 100, StatType: "PublishedMsgsHighest"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "a-ian-uid11", subs[0].ClientID)
	require.Equal(t, "100", f.lastReq.URL.Query().Get("ResultCount"))
	require.Equal(t, "PublishedMsgsHighest", f.lastReq.URL.Query().Get("StatType"))
	require.Empty(t, f.lastReq.URL.Query().Get("ClientID"))
}

func TestRestartDefaultsToServer(t *testing.T) {
	f, c := newFakeServer(t)
	_, err := c.Restart(context.Background(), models.RestartRequest{CleanStore: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"Service":"Server","CleanStore":true}`, string(f.lastBody))
}

func TestWaitForRestart(t *testing.T) {
	f, c := newFakeServer(t)
	f.states = []int{0, models.StateStopping, 12, models.StateRunning}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.waitForRestart(ctx, 0, 10*time.Millisecond)
	require.NoError(t, err)
	// 12 (starting in progress) already counts as up
	require.Equal(t, 12, s.Server.State)
}

func TestWaitForRestartTimeout(t *testing.T) {
	f, c := newFakeServer(t)
	f.states = make([]int, 1000)
	for i := range f.states {
		f.states[i] = models.StateStopped
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.waitForRestart(ctx, 0, 10*time.Millisecond)
	require.Error(t, err)
}
