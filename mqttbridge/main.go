/*************************************************************************
 * Copyright 2019 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravwell/mqtt-influxdb-bridge/config"
	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log/rotate"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/output"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/rules"
)

const (
	defaultConfigOverlayDir = ``
)

var (
	confLoc     = flag.String("c", "", "Path to the bridge's YAML configuration file (required)")
	confdLoc    = flag.String("C", defaultConfigOverlayDir, "Directory of .yaml overlay files merged on top of -c")
	logFileLoc  = flag.String("l", "", "Path to a rotating log file (defaults to stderr)")
	debugFlag   = flag.Bool("D", false, "Enable debug logging")
	testFlag    = flag.Bool("t", false, "Validate configuration (including selector and expression parsing) and exit")
	daemonFlag  = flag.Bool("d", false, "Daemon mode: reconnect with backoff instead of exiting on disconnect")
	versionFlag = flag.Bool("V", false, "Print version information and exit")

	lg *log.Logger
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	debug.SetTraceback("all")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		printVersion(os.Stdout)
		os.Exit(exitOK)
	}

	logWtr := io.WriteCloser(os.Stderr)
	if *logFileLoc != `` {
		fr, err := rotate.Open(*logFileLoc, 0640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", *logFileLoc, err)
			os.Exit(exitConfigError)
		}
		logWtr = fr
	}

	lg = log.New(logWtr)
	lg.SetAppname("mqtt-influxdb-bridge")
	if *debugFlag {
		lg.SetLevel(log.DEBUG)
	}
	sessionID := uuid.New().String()
	lg.Info("starting", log.KV("session", sessionID))

	if *confLoc == `` {
		fmt.Fprintln(os.Stderr, "missing required -c <config file>")
		flag.Usage()
		os.Exit(exitConfigError)
	}

	cfg, err := config.Load(*confLoc, *confdLoc)
	if err != nil {
		lg.Error("invalid configuration", log.KVErr(err))
		os.Exit(exitConfigError)
	}

	if *testFlag {
		fmt.Printf("configuration OK: %d rule(s) across %d broker(s)\n", len(cfg.Rules), len(cfg.MQTT.Brokers))
		os.Exit(exitOK)
	}

	os.Exit(run(cfg))
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
}

// run builds the engine, writer and MQTT session, blocks until a quit
// signal or (in non-daemon mode) a disconnect, and returns the process
// exit code.
func run(cfg *config.Compiled) int {
	met := output.NewMetrics(prometheus.DefaultRegisterer)
	writer := output.NewWriter(output.InfluxConfig{
		URL:        cfg.InfluxURL,
		Org:        cfg.InfluxOrg,
		Token:      cfg.InfluxToken,
		WritePath:  cfg.InfluxWritePath,
		Precision:  cfg.InfluxPrecision,
		EnableGzip: cfg.InfluxGzip,
		MaxRecords: cfg.MaxBatchRecords,
		MaxBytes:   cfg.MaxBatchBytes,
	}, lg, met)

	var fwd *output.Forwarder
	if cfg.HTTP != nil {
		fwd = output.NewForwarder(lg, met)
	}

	engine := rules.NewEngine(cfg.Rules, cfg.InfluxBucket, cfg.B64)

	if cfg.MetricsListen != `` {
		go serveMetrics(cfg.MetricsListen)
	}

	sess := newSession(cfg, engine, writer, fwd, lg, *daemonFlag)
	return sess.Run()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Error("metrics server exited", log.KVErr(err))
	}
}
