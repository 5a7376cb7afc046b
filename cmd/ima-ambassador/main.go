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
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/bridge"
	"github.com/insikl/messaging-admin-ambassador/internal/config"
	"github.com/insikl/messaging-admin-ambassador/internal/exporter"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// Build information.
const (
	BuildVersion = "0.3.0"
)

// Build information populated at build-time.
var (
	BuildName   string
	BuildCommit string
	BuildBranch string
	BuildUser   string
	BuildDate   string
	BuildGo     string
	BuildOs     string
	BuildArch   string
)

var (
	// Set useragent
	// <AppName>/<AppVersion> (Go/<GoVersion>; <OS>; <Arch>)
	userAgent = fmt.Sprintf("MessagingAdminAmbassador/%s (Go/%s; %s; %s)",
		BuildVersion,
		BuildGo,
		BuildOs,
		BuildArch,
	)
	showDebug = false
)

func usage() {
	fmt.Printf(
		"Usage: %v <options>\n[Options]\n",
		BuildName,
	)
	pflag.PrintDefaults()
}

func showUsageAndExit(exitcode int) {
	usage()
	os.Exit(exitcode)
}

func main() {
	// CLI options
	var configFile = pflag.StringP(
		"config",
		"c",
		"",
		"Configuration file (YAML)",
	)
	var natsUrls = pflag.String(
		"urls",
		nats.DefaultURL,
		"The NATS server URLs (separated by comma)",
	)
	// NATS connection options
	var natsCreds = pflag.String(
		"creds",
		"",
		"User credentials file",
	)
	var natsNkeyFile = pflag.String(
		"nkey",
		"",
		"NKey Seed File",
	)
	var natsTlsClientCert = pflag.String(
		"tlscert",
		"",
		"TLS client certificate file",
	)
	var natsTlsClientKey = pflag.String(
		"tlskey",
		"",
		"Private key file for client certificate",
	)
	var natsTlsCACert = pflag.String(
		"tlscacert",
		"",
		"CA certificate to verify peer against",
	)
	var noNats = pflag.Bool(
		"no-nats",
		false,
		"Only export metrics, do not relay admin calls over NATS",
	)
	// File to look for in dapr programatic subcription format
	var routesFile = pflag.String(
		"routes",
		"",
		"Relay route file",
	)
	var basePub = pflag.String(
		"subjbase",
		config.DefaultSubjectBase,
		"Set base subject/topic relay requests are sent on",
	)
	var listenAddress = pflag.String(
		"listen",
		config.DefaultListen,
		"Listen address",
	)
	var pollInterval = pflag.Duration(
		"interval",
		config.DefaultPollInterval,
		"How often the admin endpoints are polled",
	)
	var showHelp = pflag.BoolP(
		"help",
		"h",
		false,
		"Show help message",
	)
	var showVersion = pflag.BoolP(
		"version",
		"v",
		false,
		"Show version",
	)
	var enableDebug = pflag.BoolP(
		"debug",
		"d",
		showDebug,
		"Show debug output",
	)

	pflag.Usage = usage
	pflag.Parse()

	// override default value for debug if set
	if *enableDebug {
		showDebug = true
	}

	// IMPORTANT: Disable all default flags since our custom logger
	// now handles formatting the time.
	log.SetFlags(0)

	if *showHelp {
		showUsageAndExit(0)
	}

	if *showVersion {
		fmt.Printf("%v, version %v (branch: %v, revision: %v)\n",
			BuildName,
			BuildVersion,
			BuildBranch,
			BuildCommit,
		)
		fmt.Printf("  build user:       %v\n", BuildUser)
		fmt.Printf("  build date:       %v\n", BuildDate)
		fmt.Printf("  go version:       %v\n", BuildGo)
		fmt.Printf("  platform:         %v/%v\n", BuildOs, BuildArch)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			logger.Fatal("%v", err)
		}
	}

	// Flags given on the command line win over the file
	changed := pflag.CommandLine.Changed
	if changed("urls") {
		cfg.NATS.URLs = *natsUrls
	}
	if changed("creds") {
		cfg.NATS.Creds = *natsCreds
	}
	if changed("nkey") {
		cfg.NATS.NKey = *natsNkeyFile
	}
	if changed("tlscert") {
		cfg.NATS.TLSCert = *natsTlsClientCert
	}
	if changed("tlskey") {
		cfg.NATS.TLSKey = *natsTlsClientKey
	}
	if changed("tlscacert") {
		cfg.NATS.TLSCACert = *natsTlsCACert
	}
	if changed("no-nats") {
		cfg.NATS.Disabled = *noNats
	}
	if changed("routes") {
		cfg.Routes = *routesFile
	}
	if changed("subjbase") {
		cfg.NATS.SubjectBase = *basePub
	}
	if changed("listen") {
		cfg.Listen = *listenAddress
	}
	if changed("interval") {
		cfg.PollInterval = *pollInterval
	}
	if BuildName != "" {
		cfg.NATS.Name = BuildName
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("%v", err)
	}

	// Set debug logging if set
	if showDebug {
		// Extra line prints showing the file and line number of the debug log
		logger.SetLogLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	} else {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Fatal("%v", err)
		}
		logger.SetLogLevel(level)
	}

	if err := serve(cfg); err != nil {
		logger.Fatal("%v", err)
	}
}

func serve(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	targets := make([]exporter.Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		c, err := t.Client(userAgent)
		if err != nil {
			return fmt.Errorf("target %s: %w", t.Name, err)
		}
		targets = append(targets, exporter.Target{Name: t.Name, Client: c})
	}
	ex, err := exporter.New(targets, exporter.WithInterval(cfg.PollInterval))
	if err != nil {
		return err
	}
	reg.MustRegister(ex)

	var g run.Group
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var proxy *bridge.Proxy
	if !cfg.NATS.Disabled {
		// Register PromHTTP request/reply counters
		reg.MustRegister(bridge.Collectors()...)

		closed := make(chan struct{})
		nc, err := bridge.Connect(cfg.NATS, nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("Exiting: %v", nc.LastError())
			close(closed)
		}))
		if err != nil {
			return err
		}
		defer nc.Close()

		routes, err := bridge.LoadRoutes(cfg.Routes)
		if err != nil {
			return err
		}
		responder := bridge.NewResponder(nc, cfg.NATS.SubjectBase, func(u string) (*admin.Client, error) {
			return config.Target{Name: u, URL: u}.Client(userAgent)
		})
		for _, t := range targets {
			responder.AddTarget(t.Name, t.Client)
		}
		for _, r := range routes {
			responder.AddRoute(r)
		}
		proxy = bridge.NewProxy(nc, cfg.NATS.SubjectBase)

		stop := make(chan struct{})
		g.Add(func() error {
			if err := responder.Start(); err != nil {
				return err
			}
			select {
			case <-closed:
				return errors.New("NATS connection closed")
			case <-stop:
				return nil
			}
		}, func(error) {
			responder.Stop()
			close(stop)
		})
	}

	g.Add(func() error {
		if err := ex.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
		if err := ex.Stop(); err != nil {
			logger.Warn("stop exporter: %v", err)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(reg, ex, targets, proxy),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		logger.Info("Listening on [%v]", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	})

	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info("Shutting down on %v", sig.Signal)
		return nil
	}
	return err
}
