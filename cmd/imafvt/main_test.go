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
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, adminURL string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status.yaml"), []byte(`
name: status
servers:
  default:
    url: `+adminURL+`
cases:
  - name: server running
    steps:
      - path: service/status
        expect:
          json: {Server: {State: 1}}
  - name: server in maintenance
    steps:
      - path: service/status
        expect:
          json: {Server: {State: 9}}
`), 0o600))
	return dir
}

func adminServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"Version":"v1","Server":{"State":1}}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunExitCode(t *testing.T) {
	dir := writeSuite(t, adminServer(t))
	report := filepath.Join(t.TempDir(), "report.json")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--json", report, dir}, &out, &errOut)
	require.Equal(t, 1, code, errOut.String())
	require.Contains(t, out.String(), "1 passing, 1 failing, 0 pending")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var rep struct {
		Suites []struct {
			Name string `json:"name"`
		} `json:"suites"`
	}
	require.NoError(t, json.Unmarshal(data, &rep))
	require.Equal(t, "status", rep.Suites[0].Name)

	out.Reset()
	code = run(context.Background(), []string{"--run", "running$", dir}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "1 passing, 0 failing")
}

func TestRunPublishesResults(t *testing.T) {
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second))
	defer s.Shutdown()

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("fvt.test.fvt.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	dir := writeSuite(t, adminServer(t))
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--nats", s.ClientURL(), "--subjbase", "fvt.test", dir}, &out, &errOut)
	require.Equal(t, 1, code, errOut.String())

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "fvt.test.fvt.status", msg.Subject)
	require.Contains(t, string(msg.Data), `"name":"server in maintenance"`)
}

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 2, run(context.Background(), nil, &out, &errOut))
	require.Equal(t, 1, run(context.Background(), []string{"/does/not/exist"}, &out, &errOut))
	require.Equal(t, 0, run(context.Background(), []string{"-v"}, &out, &errOut))
	require.Contains(t, out.String(), "version 0.3.0")
}
