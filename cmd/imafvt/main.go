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

// imafvt runs function verification suites against messaging servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/insikl/messaging-admin-ambassador/internal/bridge"
	"github.com/insikl/messaging-admin-ambassador/internal/config"
	"github.com/insikl/messaging-admin-ambassador/internal/fvt"
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
	BuildGo     string
	BuildOs     string
	BuildArch   string
)

var userAgent = fmt.Sprintf("imafvt/%s (Go/%s; %s; %s)",
	BuildVersion,
	BuildGo,
	BuildOs,
	BuildArch,
)

// Exit codes above this are reserved by shells.
const maxExitCode = 125

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the number of failed cases, capped, or 1 when the suites
// could not be run at all.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("imafvt", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		parallel    = fs.IntP("parallel", "j", 1, "Suites run at the same time")
		poolSize    = fs.Int("pool-size", 16, "Concurrent MQTT client operations per suite")
		caseFilter  = fs.String("run", "", "Only run cases matching this regexp")
		jsonReport  = fs.String("json", "", "Write the JSON report to this file (- for stdout)")
		natsURLs    = fs.String("nats", "", "Publish suite results to these NATS servers")
		natsCreds   = fs.String("creds", "", "NATS user credentials file")
		subjectBase = fs.String("subjbase", config.DefaultSubjectBase, "Base subject for published results")
		showVersion = fs.BoolP("version", "v", false, "Show version")
		enableDebug = fs.BoolP("debug", "d", false, "Show debug output")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: imafvt [options] <suite file or directory>...\n[Options]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	log.SetFlags(0)
	log.SetOutput(stderr)
	if *enableDebug {
		logger.SetLogLevel(logger.DEBUG)
	} else {
		logger.SetLogLevel(logger.WARN)
	}

	if *showVersion {
		fmt.Fprintf(stdout, "%v, version %v (branch: %v, revision: %v)\n",
			BuildName, BuildVersion, BuildBranch, BuildCommit)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	suites, err := fvt.LoadSuites(fs.Args()...)
	if err != nil {
		fmt.Fprintf(stderr, "imafvt: %v\n", err)
		return 1
	}

	opts := []fvt.RunnerOption{
		fvt.WithParallel(*parallel),
		fvt.WithPoolSize(*poolSize),
		fvt.WithUserAgent(userAgent),
	}
	if *caseFilter != "" {
		re, err := regexp.Compile(*caseFilter)
		if err != nil {
			fmt.Fprintf(stderr, "imafvt: --run: %v\n", err)
			return 2
		}
		opts = append(opts, fvt.WithCaseFilter(re))
	}
	if *natsURLs != "" {
		nc, err := bridge.Connect(config.NATS{URLs: *natsURLs, Name: "imafvt", Creds: *natsCreds})
		if err != nil {
			fmt.Fprintf(stderr, "imafvt: %v\n", err)
			return 1
		}
		defer func() {
			if err := nc.Flush(); err != nil {
				logger.Warn("flush results: %v", err)
			}
			nc.Close()
		}()
		opts = append(opts, fvt.WithPublisher(nc, *subjectBase))
	}

	rep, err := fvt.NewRunner(opts...).Run(ctx, suites...)
	if werr := rep.WriteText(stdout); werr != nil {
		logger.Error("write report: %v", werr)
	}
	if *jsonReport != "" {
		if werr := writeJSON(*jsonReport, stdout, rep); werr != nil {
			fmt.Fprintf(stderr, "imafvt: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "imafvt: run interrupted: %v\n", err)
		return 1
	}

	failed := rep.Failed()
	if failed > maxExitCode {
		failed = maxExitCode
	}
	return failed
}

func writeJSON(path string, stdout io.Writer, rep *fvt.Report) error {
	if path == "-" {
		return rep.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
