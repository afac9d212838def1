package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

// HTTPTargetConfig describes one rule's optional httpcontent destination.
// Forwarding is fire-and-forget: a single request per produced payload,
// no batching, no retry. A failure is logged and the payload dropped,
// mirroring how ingest/processors/forwarder.go treats a send it cannot
// complete once its buffer and redial budget are exhausted.
type HTTPTargetConfig struct {
	URL            string
	Method         string // POST, PUT or PATCH; defaults to POST
	BasicAuthUser  string
	BasicAuthPass  string
	RequestTimeout time.Duration
}

func (c *HTTPTargetConfig) setDefaults() {
	if c.Method == `` {
		c.Method = http.MethodPost
	}
	c.Method = strings.ToUpper(c.Method)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Forwarder sends one JSON body per call to Send; it holds no per-rule
// state, so a single Forwarder can serve every rule that declares
// httpcontent.
type Forwarder struct {
	client *http.Client
	lg     *log.Logger
	met    *Metrics
}

func NewForwarder(lg *log.Logger, met *Metrics) *Forwarder {
	return &Forwarder{client: &http.Client{}, lg: lg, met: met}
}

// Send encodes content as a JSON object and POSTs/PUTs/PATCHes it to
// cfg.URL. ruleName is only used for logging and metrics labels.
func (f *Forwarder) Send(ctx context.Context, ruleName string, cfg HTTPTargetConfig, content map[string]value.Value) error {
	cfg.setDefaults()
	body, err := encodeContent(content)
	if err != nil {
		return fmt.Errorf("encode httpcontent: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build httpcontent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.BasicAuthUser != `` || cfg.BasicAuthPass != `` {
		req.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.fail(ruleName, err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("httpcontent target returned %d", resp.StatusCode)
		f.fail(ruleName, err)
		return err
	}

	if f.met != nil {
		f.met.HTTPForwarded.WithLabelValues(ruleName).Inc()
	}
	return nil
}

func (f *Forwarder) fail(ruleName string, err error) {
	if f.met != nil {
		f.met.HTTPForwardFail.WithLabelValues(ruleName).Inc()
	}
	if f.lg != nil {
		f.lg.Warn("httpcontent forward failed, dropping payload", log.KV("rule", ruleName), log.KVErr(err))
	}
}

func encodeContent(content map[string]value.Value) ([]byte, error) {
	plain := make(map[string]interface{}, len(content))
	for k, v := range content {
		plain[k] = value.ToNative(v)
	}
	return json.Marshal(plain)
}
