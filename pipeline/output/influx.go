/*************************************************************************
 * Copyright 2018 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package output delivers the line-protocol batches the rule engine
// builds: InfluxDB writes over HTTP with retry/backoff, and one-shot
// httpcontent forwards. The Writer keeps per-bucket batches behind a
// mutex and sends them synchronously on the calling goroutine, from Add
// when a batch fills up or from Flush; there is no background sender.
package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/lineproto"
)

// InfluxConfig describes how to reach one InfluxDB v3 instance.
type InfluxConfig struct {
	URL             string // base URL, e.g. https://influx.example.com
	Org             string
	Token           string
	WritePath       string // defaults to /api/v3/write_lp
	Precision       string // defaults to "ns"
	EnableGzip      bool
	MaxRecords      int
	MaxBytes        int
	RequestTimeout  time.Duration
	MaxRetryElapsed time.Duration // <= 0 uses the 30s default
}

func (c *InfluxConfig) setDefaults() {
	if c.WritePath == `` {
		c.WritePath = "/api/v3/write_lp"
	}
	if c.Precision == `` {
		c.Precision = "ns"
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = lineproto.DefaultMaxRecords
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = lineproto.DefaultMaxBytes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetryElapsed <= 0 {
		c.MaxRetryElapsed = 30 * time.Second
	}
}

// Writer batches Records per bucket and flushes each batch to InfluxDB,
// retrying transient failures with exponential backoff capped at 100ms
// to 30s, the way ingest/processors/forwarder.go redials a dropped
// connection rather than giving up on the first error.
type Writer struct {
	cfg    InfluxConfig
	client *http.Client
	lg     *log.Logger
	met    *Metrics

	mtx     sync.Mutex
	batches map[string]*lineproto.Batch // keyed by bucket
}

func NewWriter(cfg InfluxConfig, lg *log.Logger, met *Metrics) *Writer {
	cfg.setDefaults()
	return &Writer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		lg:      lg,
		met:     met,
		batches: make(map[string]*lineproto.Batch),
	}
}

// Add encodes rec and appends it to its bucket's batch, flushing that
// batch immediately if the append just crossed a soft limit.
func (w *Writer) Add(ctx context.Context, rec lineproto.Record) error {
	line, err := lineproto.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	w.mtx.Lock()
	b, ok := w.batches[rec.Bucket]
	if !ok {
		b = lineproto.NewBatch(rec.Bucket)
		w.batches[rec.Bucket] = b
	}
	full := b.Add(line, w.cfg.MaxRecords, w.cfg.MaxBytes)
	if full {
		delete(w.batches, rec.Bucket)
	}
	w.mtx.Unlock()

	if full {
		return w.send(ctx, b)
	}
	return nil
}

// Flush writes out every bucket's partial batch; call on a timer and on
// shutdown so a slow topic's points don't sit unsent indefinitely.
func (w *Writer) Flush(ctx context.Context) error {
	w.mtx.Lock()
	pending := w.batches
	w.batches = make(map[string]*lineproto.Batch)
	w.mtx.Unlock()

	var firstErr error
	for _, b := range pending {
		if b.Len() == 0 {
			continue
		}
		if err := w.send(ctx, b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Writer) send(ctx context.Context, b *lineproto.Batch) error {
	start := time.Now()
	body := b.Bytes()
	if w.cfg.EnableGzip {
		gzipped, err := b.Gzip()
		if err != nil {
			return fmt.Errorf("gzip batch for bucket %s: %w", b.Bucket, err)
		}
		body = gzipped
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = w.cfg.MaxRetryElapsed
	bound := backoff.WithContext(bo, ctx)

	op := func() error {
		req, err := w.buildRequest(ctx, b.Bucket, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("influx write returned %d", resp.StatusCode)
		}
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(fmt.Errorf("influx write returned %d: %s", resp.StatusCode, drained))
	}

	notify := func(err error, d time.Duration) {
		if w.lg != nil {
			w.lg.Warn("influx write retrying", log.KV("bucket", b.Bucket), log.KV("backoff", d.String()), log.KVErr(err))
		}
	}

	if err := backoff.RetryNotify(op, bound, notify); err != nil {
		if w.met != nil {
			w.met.WriteFailures.WithLabelValues(b.Bucket).Inc()
		}
		if w.lg != nil {
			w.lg.Error("influx write failed, dropping batch", log.KV("bucket", b.Bucket), log.KV("records", b.Len()), log.KVErr(err))
		}
		return err
	}

	if w.met != nil {
		w.met.PointsWritten.WithLabelValues(b.Bucket).Add(float64(b.Len()))
		w.met.WriteLatency.WithLabelValues(b.Bucket).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Writer) buildRequest(ctx context.Context, bucket string, body []byte) (*http.Request, error) {
	url := w.cfg.URL + w.cfg.WritePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	if w.cfg.Org != `` {
		q.Set("org", w.cfg.Org)
	}
	q.Set("db", bucket)
	q.Set("precision", w.cfg.Precision)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if w.cfg.EnableGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if w.cfg.Token != `` {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	return req, nil
}
