package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

type fakeServer struct {
	mu   sync.Mutex
	reqs []recorded
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
	f.mu.Unlock()

	if u, p, ok := r.BasicAuth(); !ok || u != "admin" || p != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	ok200 := `{"Status":200,"Code":"CWLNA6011","Message":"The requested configuration change has completed successfully."}`
	switch {
	case r.URL.Path == "/ima/v1/service/status":
		io.WriteString(w, `{"Version":"v1","Server":{"Name":"ima1","State":1,"Status":"Running"},
			"HighAvailability":{"Enabled":true,"Group":"g1","NewRole":"UNSYNC"}}`)
	case r.URL.Path == "/ima/v1/configuration/ConnectionPolicy/cp1":
		if r.Method == http.MethodDelete {
			io.WriteString(w, ok200)
			return
		}
		io.WriteString(w, `{"Version":"v1","ConnectionPolicy":{"cp1":{"ClientID":"*"}}}`)
	case r.URL.Path == "/ima/v1/configuration/AdminEndpoint/x":
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"Status":400,"Code":"CWLNA0137","Message":"The REST API call: DELETE is not valid."}`)
	case r.URL.Path == "/ima/v1/configuration/" && r.Method == http.MethodGet:
		io.WriteString(w, `{"Version":"v1","MessageHub":{"hub":{}},"AdminEndpoint":{"Port":9089}}`)
	case r.URL.Path == "/ima/v1/configuration/" && r.Method == http.MethodPost:
		io.WriteString(w, ok200)
	case r.URL.Path == "/ima/v1/service/ClientSet":
		io.WriteString(w, `{"Status":200,"Code":"CWLNA6197","Message":"The ClientSet was deleted."}`)
	case r.URL.Path == "/ima/v1/service/restart":
		io.WriteString(w, `{"Status":200,"Code":"CWLNA6168","Message":"The restart request was accepted."}`)
	case r.URL.Path == "/ima/v1/service/export/ClientSet" || r.URL.Path == "/ima/v1/service/import/ClientSet":
		io.WriteString(w, `{"Status":202,"Code":"CWLNA0010","Message":"The request is in progress.","RequestID":"1700000000001"}`)
	case r.URL.Path == "/ima/v1/service/status/export/ClientSet/1700000000001":
		io.WriteString(w, `{"Version":"v1","Status":"Complete","RequestID":"1700000000001"}`)
	case r.URL.Path == "/ima/v1/file/server.pem" && r.Method == http.MethodPut:
		io.WriteString(w, `{"Status":200,"Code":"CWLNA0000","Message":"Success"}`)
	case r.URL.Path == "/ima/v1/file/full.pem" && r.Method == http.MethodPut:
		io.WriteString(w, `{"Status":400,"Code":"CWLNA0137","Message":"The file could not be stored."}`)
	case r.URL.Path == "/ima/v1/monitor/Subscription":
		io.WriteString(w, `{"Version":"v1","Subscription":[]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"Status":404,"Code":"CWLNA0136","Message":"The item or object cannot be found."}`)
	}
}

func (f *fakeServer) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func runCmd(t *testing.T, url string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append(args, "--server", url, "--user", "admin", "--password", "secret")
	code := run(context.Background(), full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func newFake(t *testing.T) (*fakeServer, string) {
	t.Helper()
	f := &fakeServer{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func TestGetAndSet(t *testing.T) {
	f, url := newFake(t)

	code, out, _ := runCmd(t, url, "get", "ConnectionPolicy", "cp1")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"Version":"v1","ConnectionPolicy":{"cp1":{"ClientID":"*"}}}`, out)

	code, out, _ = runCmd(t, url, "get", "ConnectionPolicy", "cp1", "-o", "yaml")
	require.Equal(t, 0, code)
	require.Contains(t, out, "cp1:\n")
	require.Contains(t, out, "ClientID:")

	code, out, _ = runCmd(t, url, "set", "Endpoint", "ep1", "Port=16102", "Enabled=true", "MessageHub=hub")
	require.Equal(t, 0, code)
	require.Contains(t, out, "CWLNA6011")
	require.JSONEq(t, `{"Endpoint":{"ep1":{"Port":16102,"Enabled":true,"MessageHub":"hub"}}}`, f.last().body)

	code, _, _ = runCmd(t, url, "set", "AdminEndpoint", "Port=9089")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"AdminEndpoint":{"Port":9089}}`, f.last().body)

	code, out, errOut := runCmd(t, url, "get", "connectionpolicy", "cp1", "--props")
	require.Equal(t, 0, code, errOut)
	require.JSONEq(t, `{"ClientID":"*"}`, out)
	require.Equal(t, "/ima/v1/configuration/ConnectionPolicy/cp1", f.last().path)
	require.NotContains(t, errOut, "warning")

	code, _, errOut = runCmd(t, url, "get", "ConnectionPolicy", "--props")
	require.Equal(t, 2, code, errOut)

	code, _, errOut = runCmd(t, url, "get", "NewThing", "n1")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, `warning: unknown configuration object type "NewThing"`)
	require.Equal(t, "/ima/v1/configuration/NewThing/n1", f.last().path)

	code, _, errOut = runCmd(t, url, "set", "Endpoint", "ep1", "Port")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "expected Key=Value")
}

func TestDelete(t *testing.T) {
	f, url := newFake(t)

	code, _, _ := runCmd(t, url, "delete", "ConnectionPolicy", "cp1")
	require.Equal(t, 0, code)
	require.Equal(t, http.MethodDelete, f.last().method)

	code, _, errOut := runCmd(t, url, "delete", "AdminEndpoint", "x")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "does not delete AdminEndpoint")
	require.Contains(t, errOut, "CWLNA0137")
	require.Equal(t, "/ima/v1/configuration/AdminEndpoint/x", f.last().path)

	code, _, errOut = runCmd(t, url, "delete", "HighAvailability", "x")
	require.Equal(t, 1, code)
	require.NotContains(t, errOut, "does not delete")
	require.Equal(t, http.MethodDelete, f.last().method)

	code, _, errOut = runCmd(t, url, "delete", "ConnectionPolicy", "nope")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "CWLNA0136")
}

func TestServiceCommands(t *testing.T) {
	f, url := newFake(t)

	code, out, errOut := runCmd(t, url, "status")
	require.Equal(t, 0, code)
	require.Contains(t, errOut, "state 1, Running (production)")
	require.Contains(t, errOut, "warning: HA pair is not synchronized")
	var s map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &s))

	code, _, _ = runCmd(t, url, "clientset", "delete", "--client-id", "^pub", "--retain", "^/CD/")
	require.Equal(t, 0, code)
	require.Equal(t, http.MethodDelete, f.last().method)
	require.Equal(t, "ClientID=%5Epub&Retain=%5E%2FCD%2F", f.last().query)

	code, _, _ = runCmd(t, url, "clientset", "delete")
	require.Equal(t, 2, code)

	code, _, _ = runCmd(t, url, "restart", "--maintenance", "start")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"Service":"Server","Maintenance":"start"}`, f.last().body)

	code, _, _ = runCmd(t, url, "restart", "--maintenance", "later")
	require.Equal(t, 1, code)

	code, _, _ = runCmd(t, url, "monitor", "Subscription", "--result-count", "25", "--stat-type", "BufferedMsgsHighest")
	require.Equal(t, 0, code)
	require.Equal(t, "ResultCount=25&StatType=BufferedMsgsHighest", f.last().query)

	code, _, errOut = runCmd(t, url, "wait")
	require.Equal(t, 0, code, errOut)
}

func TestClientSetTransfer(t *testing.T) {
	f, url := newFake(t)

	code, out, errOut := runCmd(t, url, "clientset", "export", "--client-id", "^dev", "--file", "devs.bin", "--file-password", "pw")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "CWLNA0010")
	require.JSONEq(t, `{"ClientID":"^dev","FileName":"devs.bin","Password":"pw"}`, f.last().body)

	code, _, _ = runCmd(t, url, "clientset", "import", "--file", "devs.bin", "--file-password", "pw", "--client-id", "^dev")
	require.Equal(t, 0, code)
	require.Equal(t, "/ima/v1/service/import/ClientSet", f.last().path)
	require.JSONEq(t, `{"FileName":"devs.bin","Password":"pw"}`, f.last().body)

	code, out, _ = runCmd(t, url, "clientset", "status", "export", "1700000000001")
	require.Equal(t, 0, code)
	require.Contains(t, out, `"Complete"`)

	code, _, _ = runCmd(t, url, "clientset", "export", "--file", "devs.bin")
	require.Equal(t, 2, code)
	code, _, _ = runCmd(t, url, "clientset", "status", "copy", "1")
	require.Equal(t, 2, code)
}

func TestPutFile(t *testing.T) {
	f, url := newFake(t)
	local := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(local, []byte("-----BEGIN CERTIFICATE-----\n"), 0o600))

	code, out, errOut := runCmd(t, url, "put-file", local, "server.pem")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "CWLNA0000")
	require.Equal(t, http.MethodPut, f.last().method)
	require.Equal(t, "-----BEGIN CERTIFICATE-----\n", f.last().body)

	code, _, _ = runCmd(t, url, "put-file", local)
	require.Equal(t, 1, code)

	code, out, errOut = runCmd(t, url, "put-file", local, "full.pem")
	require.Equal(t, 0, code)
	require.Contains(t, out, "CWLNA0137")
	require.Contains(t, errOut, "warning: CWLNA0137 The file could not be stored.")
	require.NotContains(t, errOut, "CWLNA0000")
}

func TestBackupRestore(t *testing.T) {
	f, url := newFake(t)
	path := filepath.Join(t.TempDir(), "ima1.cfg.zst")

	code, _, errOut := runCmd(t, url, "backup", path)
	require.Equal(t, 0, code, errOut)

	code, out, _ := runCmd(t, url, "restore", path, "--dry-run")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"restore":["MessageHub"],"skip":["AdminEndpoint"]}`, out)

	code, _, errOut = runCmd(t, url, "restore", path)
	require.Equal(t, 0, code, errOut)
	require.JSONEq(t, `{"MessageHub":{"hub":{}}}`, f.last().body)
}

func TestUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 2, run(context.Background(), nil, &out, &errOut))
	require.Equal(t, 0, run(context.Background(), []string{"help"}, &out, &errOut))
	require.Contains(t, out.String(), "clientset delete")
	require.Equal(t, 2, run(context.Background(), []string{"frobnicate"}, &out, &errOut))
	require.Equal(t, 2, run(context.Background(), []string{"get", "--output", "xml", "Endpoint"}, &out, &errOut))

	code, _, errOut2 := runCmd(t, "http://127.0.0.1:1", "get")
	require.Equal(t, 2, code, errOut2)
}
