/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads and validates the bridge's YAML configuration:
// the broker connection, the InfluxDB and optional HTTP targets, the
// global base64decode directive, and the list of point rules. Loading
// is two-phase: the raw document unmarshals into RawConfig, then Compile
// validates it and resolves selectors, patterns and schedules into a
// Compiled value the rest of the bridge runs against.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/rules"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/selector"
)

// RawMQTT is the YAML shape of the `mqtt` top-level block.
type RawMQTT struct {
	Brokers        []string `yaml:"brokers"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	CAFile         string   `yaml:"cafile,omitempty"`
	CertFile       string   `yaml:"certfile,omitempty"`
	KeyFile        string   `yaml:"keyfile,omitempty"`
	KeepaliveSec   int      `yaml:"keepalive_seconds,omitempty"`
	ConnectTimeout int      `yaml:"connect_timeout_seconds,omitempty"`
}

// RawInflux is the YAML shape of the `influxdb` top-level block.
type RawInflux struct {
	URL             string `yaml:"url"`
	Org             string `yaml:"org,omitempty"`
	Token           string `yaml:"token"`
	Bucket          string `yaml:"bucket"`
	WritePath       string `yaml:"write_path,omitempty"`
	Precision       string `yaml:"precision,omitempty"`
	EnableGzip      bool   `yaml:"enable_gzip,omitempty"`
	MaxBatchRecords int    `yaml:"max_batch_records,omitempty"`
	MaxBatchBytes   string `yaml:"max_batch_bytes,omitempty"`
	FlushIntervalMs int    `yaml:"flush_interval_ms,omitempty"`
}

// RawHTTP is the YAML shape of the optional `http` top-level block,
// providing defaults shared by every rule's httpcontent target.
type RawHTTP struct {
	URL           string `yaml:"url,omitempty"`
	Method        string `yaml:"method,omitempty"`
	BasicAuthUser string `yaml:"basic_auth_user,omitempty"`
	BasicAuthPass string `yaml:"basic_auth_pass,omitempty"`
}

// RawBase64Decode is the YAML shape of the optional, process-wide
// `base64decode` block.
type RawBase64Decode struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// RawConfig is the top-level YAML document shape.
type RawConfig struct {
	MQTT                 RawMQTT          `yaml:"mqtt"`
	InfluxDB             RawInflux        `yaml:"influxdb"`
	HTTP                 *RawHTTP         `yaml:"http,omitempty"`
	Base64Decode         *RawBase64Decode `yaml:"base64decode,omitempty"`
	Points               []rules.RawRule  `yaml:"points"`
	ShutdownGraceSeconds int              `yaml:"shutdown_grace_seconds,omitempty"`
	MetricsListen        string           `yaml:"metrics_listen,omitempty"`
}

func decodeYAML(b []byte, v interface{}) error {
	return yaml.Unmarshal(b, v)
}

// merge folds overlay's fields into base: scalar top-level blocks are
// wholesale-replaced if the overlay sets a non-empty one, and overlay
// points are appended rather than replacing base's, so an operator can
// ship one file per device class into an overlay directory instead of
// editing the primary document.
func merge(base, overlay RawConfig) RawConfig {
	if len(overlay.MQTT.Brokers) > 0 {
		base.MQTT = overlay.MQTT
	}
	if overlay.InfluxDB.URL != `` {
		base.InfluxDB = overlay.InfluxDB
	}
	if overlay.HTTP != nil {
		base.HTTP = overlay.HTTP
	}
	if overlay.Base64Decode != nil {
		base.Base64Decode = overlay.Base64Decode
	}
	if overlay.ShutdownGraceSeconds != 0 {
		base.ShutdownGraceSeconds = overlay.ShutdownGraceSeconds
	}
	if overlay.MetricsListen != `` {
		base.MetricsListen = overlay.MetricsListen
	}
	base.Points = append(base.Points, overlay.Points...)
	return base
}

// TLSConfig resolves the MQTT TLS material, if any was configured.
func (m RawMQTT) TLSConfig() (*tls.Config, error) {
	if m.CAFile == `` && m.CertFile == `` {
		return nil, nil
	}
	cfg := &tls.Config{}
	if m.CAFile != `` {
		pem, err := os.ReadFile(m.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading cafile: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("cafile %s contains no usable certificates", m.CAFile)
		}
		cfg.RootCAs = pool
	}
	if m.CertFile != `` {
		if m.KeyFile == `` {
			return nil, errors.New("certfile given without a keyfile")
		}
		cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Compiled is the validated, ready-to-run configuration: Points have
// been parsed into rules.Rule, and durations are real time.Duration
// values rather than raw seconds.
type Compiled struct {
	MQTT            RawMQTT
	TLS             *tls.Config
	InfluxURL       string
	InfluxOrg       string
	InfluxToken     string
	InfluxBucket    string
	InfluxWritePath string
	InfluxPrecision string
	InfluxGzip      bool
	MaxBatchRecords int
	MaxBatchBytes   int
	FlushInterval   time.Duration

	HTTP *RawHTTP

	B64 *rules.Base64Decode

	Rules []*rules.Rule

	ShutdownGrace time.Duration
	MetricsListen string
}

// Load reads path, applies every .yaml/.yml file in overlayDir (if any)
// on top of it, interpolates ${VAR}/${VAR:default} environment
// references, and compiles the result. Env interpolation happens before
// YAML parsing and before any rule is built, so a rule can never observe
// a half-substituted value.
func Load(path, overlayDir string) (*Compiled, error) {
	base, err := loadRawFile(path)
	if err != nil {
		return nil, err
	}
	overlays, err := overlayFiles(overlayDir)
	if err != nil {
		return nil, err
	}
	for _, op := range overlays {
		ov, err := loadRawFile(op)
		if err != nil {
			return nil, err
		}
		base = merge(base, ov)
	}
	return Compile(base)
}

// Compile validates a RawConfig and builds the immutable runtime form.
func Compile(rc RawConfig) (*Compiled, error) {
	if len(rc.MQTT.Brokers) == 0 {
		return nil, errors.New("mqtt.brokers must list at least one broker URL")
	}
	if rc.InfluxDB.URL == `` {
		return nil, errors.New("influxdb.url is required")
	}
	if rc.InfluxDB.Bucket == `` {
		return nil, errors.New("influxdb.bucket is required")
	}
	if len(rc.Points) == 0 {
		return nil, errors.New("points must declare at least one rule")
	}

	tlsCfg, err := rc.MQTT.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("mqtt tls: %w", err)
	}

	maxBytes := 0
	if rc.InfluxDB.MaxBatchBytes != `` {
		n, err := ParseRate(rc.InfluxDB.MaxBatchBytes)
		if err != nil {
			return nil, fmt.Errorf("influxdb.max_batch_bytes: %w", err)
		}
		maxBytes = int(n)
	}

	c := &Compiled{
		MQTT:            rc.MQTT,
		TLS:             tlsCfg,
		InfluxURL:       rc.InfluxDB.URL,
		InfluxOrg:       rc.InfluxDB.Org,
		InfluxToken:     rc.InfluxDB.Token,
		InfluxBucket:    rc.InfluxDB.Bucket,
		InfluxWritePath: rc.InfluxDB.WritePath,
		InfluxPrecision: rc.InfluxDB.Precision,
		InfluxGzip:      rc.InfluxDB.EnableGzip,
		MaxBatchRecords: rc.InfluxDB.MaxBatchRecords,
		MaxBatchBytes:   maxBytes,
		FlushInterval:   time.Duration(rc.InfluxDB.FlushIntervalMs) * time.Millisecond,
		HTTP:            rc.HTTP,
		ShutdownGrace:   5 * time.Second,
		MetricsListen:   rc.MetricsListen,
	}
	if rc.ShutdownGraceSeconds > 0 {
		c.ShutdownGrace = time.Duration(rc.ShutdownGraceSeconds) * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}

	if rc.Base64Decode != nil {
		src, err := selector.Parse(rc.Base64Decode.Source)
		if err != nil {
			return nil, fmt.Errorf("base64decode.source: %w", err)
		}
		c.B64 = &rules.Base64Decode{Source: src, Target: rc.Base64Decode.Target}
	}

	for i, rr := range rc.Points {
		rule, err := rules.Compile(rr, i)
		if err != nil {
			return nil, err
		}
		c.Rules = append(c.Rules, rule)
	}

	for _, r := range c.Rules {
		if r.HasHTTPContent() && c.HTTP == nil {
			return nil, fmt.Errorf("rule %s declares httpcontent but no top-level http target is configured", r.Name)
		}
	}

	return c, nil
}
