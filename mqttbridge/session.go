/*************************************************************************
 * Copyright 2019 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gravwell/mqtt-influxdb-bridge/config"
	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/output"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/rules"
	"github.com/gravwell/mqtt-influxdb-bridge/utils"
)

// session drives one run of the bridge: connect, subscribe, flush on a
// timer, and shut down cleanly on a quit signal. It owns the top-level
// connect/reconnect decision the per-connection consumer does not make
// for itself.
type session struct {
	cfg    *config.Compiled
	engine *rules.Engine
	writer *output.Writer
	fwd    *output.Forwarder
	lg     *log.Logger
	daemon bool
}

func newSession(cfg *config.Compiled, engine *rules.Engine, writer *output.Writer, fwd *output.Forwarder, lg *log.Logger, daemon bool) *session {
	return &session{cfg: cfg, engine: engine, writer: writer, fwd: fwd, lg: lg, daemon: daemon}
}

// Run connects (retrying forever in daemon mode, once otherwise),
// services the flush timer and quit signal, and returns the process
// exit code.
func (s *session) Run() int {
	cons := newConsumer(s.cfg, s.engine, s.writer, s.fwd, s.lg, s.daemon)

	if err := s.connect(cons); err != nil {
		s.lg.Error("failed to connect to mqtt broker", log.KVErr(err))
		return exitRuntimeError
	}

	quit := utils.GetQuitChannel()
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-flush.C:
			if err := s.writer.Flush(context.Background()); err != nil {
				s.lg.Warn("periodic flush reported an error", log.KVErr(err))
			}
		case sig := <-quit:
			s.lg.Info("received quit signal, shutting down", log.KV("signal", sig.String()))
			return s.shutdown(cons)
		case <-cons.Disconnected():
			if s.daemon {
				s.lg.Warn("mqtt connection dropped, daemon mode will keep retrying via the client's own reconnect loop")
				continue
			}
			s.lg.Error("mqtt connection dropped, exiting (pass -d to retry instead)")
			return exitRuntimeError
		}
	}
}

// connect establishes the first connection. In daemon mode a failure
// here is retried with the same 1s-60s backoff the client's own
// reconnect loop uses once connected; outside daemon mode one failure
// is fatal.
func (s *session) connect(cons *consumer) error {
	if !s.daemon {
		return cons.Start()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minReconnectInterval
	bo.MaxInterval = maxReconnectInterval
	bo.MaxElapsedTime = 0 // retry forever in daemon mode

	return backoff.RetryNotify(cons.Start, bo, func(err error, d time.Duration) {
		s.lg.Warn("initial mqtt connect failed, retrying", log.KVErr(err), log.KV("backoff", d.String()))
	})
}

func (s *session) shutdown(cons *consumer) int {
	cons.Close(s.cfg.ShutdownGrace)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.writer.Flush(ctx); err != nil {
		s.lg.Warn("final flush reported an error", log.KVErr(err))
	}
	return exitOK
}
