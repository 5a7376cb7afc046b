package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/backup"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
	"github.com/insikl/messaging-admin-ambassador/internal/mqttc"
)

var commands = map[string]command{
	"get": {
		usage:   "get <Type> [<Name>]",
		summary: "Show configuration objects",
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("props", false, "Print only the properties of one object")
		},
		run: cmdGet,
	},
	"set": {
		usage:   "set <Type> [<Name>] [Key=Value ...] | set --file payload.json",
		summary: "Create or update a configuration object",
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("file", "f", "", "Post this configuration document as is (- for stdin)")
		},
		run: cmdSet,
	},
	"delete": {
		usage:   "delete <Type> <Name>",
		summary: "Delete a configuration object",
		run:     cmdDelete,
	},
	"monitor": {
		usage:   "monitor <Server|Connection|MQTTClient|Subscription|Endpoint|Topic|Queue|Memory|Store|Cluster>",
		summary: "Show monitoring data",
		flags: func(fs *pflag.FlagSet) {
			fs.Int("result-count", 0, "Number of results (25, 50, 100)")
			fs.String("stat-type", "", "Sort order, e.g. BufferedMsgsHighest")
			fs.String("name", "", "Name filter")
			fs.String("client-id", "", "ClientID filter")
			fs.String("sub-name", "", "Subscription name filter")
			fs.String("topic", "", "Topic filter")
			fs.String("endpoint", "", "Endpoint filter")
			fs.String("protocol", "", "Protocol filter")
			fs.String("connection-state", "", "MQTTClient state filter: All, Connected, Disconnected")
			fs.Int("duration", 0, "Statistics window in seconds")
		},
		run: cmdMonitor,
	},
	"status": {
		usage:   "status [<Component>]",
		summary: "Show the service status",
		run:     cmdStatus,
	},
	"restart": {
		usage:   "restart",
		summary: "Restart a service",
		flags: func(fs *pflag.FlagSet) {
			fs.String("service", admin.ServiceServer, "Service to restart")
			fs.Bool("clean-store", false, "Clean the store on restart")
			fs.String("maintenance", "", "Enter (start) or leave (stop) maintenance mode")
			fs.Bool("reset", false, "Reset the server configuration")
			fs.Bool("wait", false, "Wait until the server is back")
			fs.Duration("wait-timeout", 120*time.Second, "How long to wait")
		},
		run: cmdRestart,
	},
	"stop": {
		usage:   "stop",
		summary: "Stop a service",
		flags: func(fs *pflag.FlagSet) {
			fs.String("service", admin.ServiceServer, "Service to stop")
		},
		run: cmdStop,
	},
	"start": {
		usage:   "start",
		summary: "Start a stopped service",
		flags: func(fs *pflag.FlagSet) {
			fs.String("service", admin.ServiceServer, "Service to start")
		},
		run: cmdStart,
	},
	"clientset delete": {
		usage:   "clientset delete --client-id <regex> [--retain <regex>]",
		summary: "Delete clients and retained messages matching patterns",
		flags: func(fs *pflag.FlagSet) {
			fs.String("client-id", "", "ClientID pattern, e.g. ^pub")
			fs.String("retain", "", "Retained message topic pattern")
		},
		run: cmdClientSetDelete,
	},
	"clientset export": {
		usage:   "clientset export --client-id <regex> --file <name> --file-password <pw>",
		summary: "Export matching clients to a file on the server",
		flags:   clientSetTransferFlags,
		run:     cmdClientSetExport,
	},
	"clientset import": {
		usage:   "clientset import --file <name> --file-password <pw>",
		summary: "Import a previously exported ClientSet file",
		flags:   clientSetTransferFlags,
		run:     cmdClientSetImport,
	},
	"clientset status": {
		usage:   "clientset status <export|import> <RequestID>",
		summary: "Show the progress of an export or import",
		run:     cmdClientSetStatus,
	},
	"put-file": {
		usage:   "put-file <local file> [<server name>]",
		summary: "Upload a certificate, key or plugin file",
		run:     cmdPutFile,
	},
	"close-connection": {
		usage:   "close-connection [--client-id ID] [--user-id ID] [--client-address ADDR]",
		summary: "Disconnect matching clients",
		flags: func(fs *pflag.FlagSet) {
			fs.String("client-id", "", "ClientID")
			fs.String("user-id", "", "UserID")
			fs.String("client-address", "", "Client IP address")
		},
		run: cmdCloseConnection,
	},
	"wait": {
		usage:   "wait",
		summary: "Wait until the server runs",
		flags: func(fs *pflag.FlagSet) {
			fs.Duration("delay", 0, "Initial delay before polling")
			fs.Duration("wait-timeout", 120*time.Second, "How long to wait")
		},
		run: cmdWait,
	},
	"backup": {
		usage:   "backup <file>",
		summary: "Save the whole configuration to a compressed archive",
		run:     cmdBackup,
	},
	"restore": {
		usage:   "restore <file>",
		summary: "Post an archived configuration back",
		flags: func(fs *pflag.FlagSet) {
			fs.StringSlice("types", nil, "Object types to restore (default: all named objects)")
			fs.Bool("dry-run", false, "Only list what would be restored")
		},
		run: cmdRestore,
	},
	"probe-ws": {
		usage:   "probe-ws <ws://host:port/path>",
		summary: "Check an MQTT over WebSocket endpoint handshake",
		flags: func(fs *pflag.FlagSet) {
			fs.StringSlice("subprotocol", mqttc.DefaultSubprotocols, "Subprotocols to offer")
		},
		run: cmdProbeWS,
	},
}

// print writes a JSON document in the selected output format.
func (e *env) print(data []byte) error {
	if e.g.output == "yaml" {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(out)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintf(e.stdout, "%s\n", data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(e.stdout)
	return err
}

func (e *env) printValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.print(data)
}

// printResponse prints a status document and warns when its code is not
// one of the success codes.
func (e *env) printResponse(resp *models.Response) error {
	if !resp.Success() {
		fmt.Fprintf(e.stderr, "warning: %s %s\n", resp.Code, resp.Message)
	}
	return e.printValue(resp)
}

// objectType passes unknown names through: newer servers have types this
// tool does not list.
func (e *env) objectType(s string) models.ObjectType {
	t, err := models.ParseObjectType(s)
	if err != nil {
		fmt.Fprintf(e.stderr, "warning: %v\n", err)
		return models.ObjectType(s)
	}
	return t
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	t := e.objectType(args[0])
	name := ""
	if len(args) == 2 {
		name = args[1]
	}
	if props, _ := e.fs.GetBool("props"); props {
		if name == "" && !t.Singleton() {
			return errUsage
		}
		p, err := e.admin.GetObject(ctx, t, name)
		if err != nil {
			return err
		}
		return e.printValue(p)
	}
	doc, err := e.admin.GetConfig(ctx, t, name)
	if err != nil {
		return err
	}
	return e.printValue(doc)
}

// parseProperties reads Key=Value pairs. Values that parse as JSON keep
// their type, so Port=16102 is a number and Enabled=true a boolean.
func parseProperties(pairs []string) (models.Properties, error) {
	props := make(models.Properties, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected Key=Value, got %q", p)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		props[k] = val
	}
	return props, nil
}

func cmdSet(ctx context.Context, e *env, args []string) error {
	file, _ := e.fs.GetString("file")
	var (
		resp *models.Response
		err  error
	)
	if file != "" {
		if len(args) > 0 {
			return errUsage
		}
		var data []byte
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return err
		}
		resp, err = e.admin.SetConfig(ctx, data)
	} else {
		if len(args) < 1 {
			return errUsage
		}
		t := e.objectType(args[0])
		name := ""
		pairs := args[1:]
		if !t.Singleton() {
			if len(args) < 2 {
				return errUsage
			}
			name, pairs = args[1], args[2:]
		}
		props, perr := parseProperties(pairs)
		if perr != nil {
			return perr
		}
		resp, err = e.admin.SetObject(ctx, t, name, props)
	}
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	t := e.objectType(args[0])
	if !t.Deletable() {
		fmt.Fprintf(e.stderr, "warning: the server does not delete %s objects\n", t)
	}
	resp, err := e.admin.DeleteConfig(ctx, t, args[1])
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdMonitor(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	var q admin.MonitorQuery
	q.ResultCount, _ = e.fs.GetInt("result-count")
	q.StatType, _ = e.fs.GetString("stat-type")
	q.Name, _ = e.fs.GetString("name")
	q.ClientID, _ = e.fs.GetString("client-id")
	q.SubName, _ = e.fs.GetString("sub-name")
	q.TopicString, _ = e.fs.GetString("topic")
	q.Endpoint, _ = e.fs.GetString("endpoint")
	q.Protocol, _ = e.fs.GetString("protocol")
	q.ConnectionState, _ = e.fs.GetString("connection-state")
	q.Duration, _ = e.fs.GetInt("duration")

	data, err := e.admin.Monitor(ctx, models.MonitorType(args[0]), q)
	if err != nil {
		return err
	}
	return e.print(data)
}

func cmdStatus(ctx context.Context, e *env, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	component := ""
	if len(args) == 1 {
		component = args[0]
	}
	s, err := e.admin.Status(ctx, component)
	if err != nil {
		return err
	}
	if component == "" || component == "Server" {
		desc := s.Server.StateDescription
		if desc == "" {
			desc = admin.DescribeState(s.Server.State)
		}
		fmt.Fprintf(e.stderr, "%s: state %d, %s\n", e.admin.BaseURL(), s.Server.State, desc)
	}
	if w := admin.HAWarning(s.HighAvailability); w != "" {
		fmt.Fprintf(e.stderr, "warning: %s\n", w)
	}
	return e.printValue(s)
}

func cmdRestart(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	var r models.RestartRequest
	r.Service, _ = e.fs.GetString("service")
	r.CleanStore, _ = e.fs.GetBool("clean-store")
	r.Maintenance, _ = e.fs.GetString("maintenance")
	r.Reset, _ = e.fs.GetBool("reset")
	switch r.Maintenance {
	case "", "start", "stop":
	default:
		return fmt.Errorf("--maintenance must be start or stop")
	}
	resp, err := e.admin.Restart(ctx, r)
	if err != nil {
		return err
	}
	if err := e.printResponse(resp); err != nil {
		return err
	}
	if wait, _ := e.fs.GetBool("wait"); wait && r.Service == admin.ServiceServer {
		return waitUp(ctx, e, admin.DefaultRestartDelay)
	}
	return nil
}

func cmdStop(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	service, _ := e.fs.GetString("service")
	resp, err := e.admin.Stop(ctx, service)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdStart(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	service, _ := e.fs.GetString("service")
	resp, err := e.admin.Start(ctx, service)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdClientSetDelete(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	var cs models.ClientSet
	cs.ClientID, _ = e.fs.GetString("client-id")
	cs.Retain, _ = e.fs.GetString("retain")
	if cs.ClientID == "" {
		return errUsage
	}
	resp, err := e.admin.DeleteClientSet(ctx, cs)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdCloseConnection(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	var r models.CloseConnectionRequest
	r.ClientID, _ = e.fs.GetString("client-id")
	r.UserID, _ = e.fs.GetString("user-id")
	r.ClientAddress, _ = e.fs.GetString("client-address")
	resp, err := e.admin.CloseConnection(ctx, r)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdWait(ctx context.Context, e *env, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	delay, _ := e.fs.GetDuration("delay")
	return waitUp(ctx, e, delay)
}

func waitUp(ctx context.Context, e *env, delay time.Duration) error {
	timeout, _ := e.fs.GetDuration("wait-timeout")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s, err := e.admin.WaitForRestart(ctx, delay)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stderr, "%s: state %d, %s\n", e.admin.BaseURL(), s.Server.State, admin.DescribeState(s.Server.State))
	return nil
}

func cmdBackup(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	a, err := backup.Export(ctx, e.admin, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stderr, "saved %d object types from %s to %s\n", len(a.Config.Objects), a.Source, args[0])
	return nil
}

func cmdRestore(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	a, err := backup.Read(f)
	f.Close()
	if err != nil {
		return err
	}

	names, _ := e.fs.GetStringSlice("types")
	types := make([]models.ObjectType, 0, len(names))
	for _, n := range names {
		t := e.objectType(n)
		types = append(types, t)
	}

	if dry, _ := e.fs.GetBool("dry-run"); dry {
		restore, skip := backup.Plan(a, types)
		return e.printValue(map[string]any{"restore": restore, "skip": skip})
	}
	res, err := backup.Restore(ctx, e.admin, a, types)
	if res != nil {
		if perr := e.printValue(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func cmdProbeWS(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	protos, _ := e.fs.GetStringSlice("subprotocol")
	res, err := mqttc.ProbeWebSocket(ctx, args[0], protos, e.g.insecure)
	if res != nil {
		fmt.Fprintf(e.stdout, "status %d, subprotocol %q, %v\n", res.Status, res.Subprotocol, res.Elapsed.Round(time.Millisecond))
	}
	return err
}

func clientSetTransferFlags(fs *pflag.FlagSet) {
	fs.String("client-id", "", "ClientID pattern")
	fs.String("retain", "", "Retained message topic pattern")
	fs.String("file", "", "File name on the server")
	fs.String("file-password", "", "Password protecting the file")
	fs.String("topic", "", "Topic to publish the completion notice on")
}

func clientSetTransfer(e *env) admin.ClientSetTransfer {
	var r admin.ClientSetTransfer
	r.ClientID, _ = e.fs.GetString("client-id")
	r.Retain, _ = e.fs.GetString("retain")
	r.FileName, _ = e.fs.GetString("file")
	r.Password, _ = e.fs.GetString("file-password")
	r.Topic, _ = e.fs.GetString("topic")
	return r
}

func cmdClientSetExport(ctx context.Context, e *env, args []string) error {
	r := clientSetTransfer(e)
	if len(args) != 0 || r.ClientID == "" || r.FileName == "" || r.Password == "" {
		return errUsage
	}
	resp, err := e.admin.ExportClientSet(ctx, r)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdClientSetImport(ctx context.Context, e *env, args []string) error {
	r := clientSetTransfer(e)
	if len(args) != 0 || r.FileName == "" || r.Password == "" {
		return errUsage
	}
	r.ClientID, r.Retain = "", ""
	resp, err := e.admin.ImportClientSet(ctx, r)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}

func cmdClientSetStatus(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 || (args[0] != "export" && args[0] != "import") {
		return errUsage
	}
	data, err := e.admin.TaskStatus(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return e.print(data)
}

func cmdPutFile(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	name := filepath.Base(args[0])
	if len(args) == 2 {
		name = args[1]
	}
	resp, err := e.admin.PutFile(ctx, name, content)
	if err != nil {
		return err
	}
	return e.printResponse(resp)
}
