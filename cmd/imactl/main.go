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

// imactl drives a messaging server through its admin REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
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

var userAgent = fmt.Sprintf("imactl/%s (Go/%s; %s; %s)",
	BuildVersion,
	BuildGo,
	BuildOs,
	BuildArch,
)

// errUsage makes run print the command usage and exit 2.
var errUsage = errors.New("usage")

// globals are the connection flags every command accepts.
type globals struct {
	server   string
	user     string
	password string
	insecure bool
	timeout  time.Duration
	output   string
	debug    bool
}

func (g *globals) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.server, "server", "s", envOr("IMA_SERVER", "127.0.0.1:9089"), "Admin endpoint host:port or URL")
	fs.StringVarP(&g.user, "user", "u", os.Getenv("IMA_USER"), "Admin user")
	fs.StringVarP(&g.password, "password", "p", os.Getenv("IMA_PASSWORD"), "Admin password")
	fs.BoolVar(&g.insecure, "insecure", false, "Skip TLS certificate verification")
	fs.DurationVar(&g.timeout, "timeout", 60*time.Second, "Request timeout")
	fs.StringVarP(&g.output, "output", "o", "json", "Output format: json or yaml")
	fs.BoolVarP(&g.debug, "debug", "d", false, "Show debug output")
}

func (g *globals) client() (*admin.Client, error) {
	opts := []admin.Option{admin.WithUserAgent(userAgent), admin.WithTimeout(g.timeout)}
	if g.user != "" {
		opts = append(opts, admin.WithBasicAuth(g.user, g.password))
	}
	if g.insecure {
		opts = append(opts, admin.WithInsecureTLS())
	}
	return admin.NewClient(g.server, opts...)
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// command is one imactl verb. Its flags are registered on a fresh FlagSet
// together with the globals.
type command struct {
	usage   string
	summary string
	flags   func(fs *pflag.FlagSet)
	run     func(ctx context.Context, e *env, args []string) error
}

// env is what a command runs with.
type env struct {
	g      *globals
	fs     *pflag.FlagSet
	stdout io.Writer
	stderr io.Writer
	admin  *admin.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	log.SetFlags(0)
	log.SetOutput(stderr)

	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	case "-v", "--version", "version":
		fmt.Fprintf(stdout, "%v, version %v (branch: %v, revision: %v)\n",
			BuildName, BuildVersion, BuildBranch, BuildCommit)
		return 0
	}

	name := args[0]
	rest := args[1:]
	// Two word commands.
	if name == "clientset" && len(rest) > 0 {
		name, rest = name+" "+rest[0], rest[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "imactl: unknown command %q\n\n", name)
		printUsage(stderr)
		return 2
	}

	g := &globals{}
	fs := pflag.NewFlagSet("imactl "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	g.register(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: imactl %s\n  %s\n\n[Options]\n", cmd.usage, cmd.summary)
		fs.PrintDefaults()
	}
	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if g.debug {
		logger.SetLogLevel(logger.DEBUG)
	} else {
		logger.SetLogLevel(logger.WARN)
	}
	switch g.output {
	case "json", "yaml":
	default:
		fmt.Fprintf(stderr, "imactl: unknown output format %q\n", g.output)
		return 2
	}

	c, err := g.client()
	if err != nil {
		fmt.Fprintf(stderr, "imactl: %v\n", err)
		return 1
	}
	e := &env{g: g, fs: fs, stdout: stdout, stderr: stderr, admin: c}
	if err := cmd.run(ctx, e, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "imactl %s: %v\n", name, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: imactl <command> [options]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-18s %s\n", n, commands[n].summary)
	}
	fmt.Fprintf(w, "\nRun 'imactl <command> --help' for the options of a command.\n")
}
