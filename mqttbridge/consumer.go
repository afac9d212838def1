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
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/gravwell/mqtt-influxdb-bridge/config"
	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/output"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/rules"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/topic"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

const (
	subscribeQoS = 0

	minReconnectInterval = time.Second
	maxReconnectInterval = 60 * time.Second
)

// consumer owns the one MQTT client connection for the whole process:
// every configured rule's topic pattern is subscribed on that single
// connection, and every message is handed to one dispatch callback.
type consumer struct {
	cfg    *config.Compiled
	engine *rules.Engine
	writer *output.Writer
	fwd    *output.Forwarder
	lg     *log.Logger
	daemon bool

	client       mqtt.Client
	disconnected chan struct{}

	wg sync.WaitGroup
}

func newConsumer(cfg *config.Compiled, engine *rules.Engine, writer *output.Writer, fwd *output.Forwarder, lg *log.Logger, daemon bool) *consumer {
	return &consumer{cfg: cfg, engine: engine, writer: writer, fwd: fwd, lg: lg, daemon: daemon, disconnected: make(chan struct{}, 1)}
}

// Disconnected reports a lost connection exactly once per drop. The
// session loop uses it to decide whether to exit (non-daemon) or keep
// relying on the client's own auto-reconnect (daemon).
func (c *consumer) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *consumer) subscriptions() []string {
	pats := make([]topic.Pattern, 0, len(c.cfg.Rules))
	for _, r := range c.cfg.Rules {
		pats = append(pats, r.TopicPat)
	}
	return topic.Subscriptions(pats)
}

// Start hands every configured broker URL to one MQTT client, which
// connects to one of them, and subscribes to the
// union of all rules' topic patterns at QoS 0, matching the "apply
// every matching rule" semantics the engine itself already guarantees
// per-message.
func (c *consumer) Start() error {
	opts := mqtt.NewClientOptions()
	for _, b := range c.cfg.MQTT.Brokers {
		opts.AddBroker(b)
	}
	if c.cfg.MQTT.ClientID != `` {
		opts.SetClientID(c.cfg.MQTT.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("mqtt-influxdb-bridge-%s", uuid.New().String()))
	}
	if c.cfg.MQTT.Username != `` {
		opts.SetUsername(c.cfg.MQTT.Username)
		opts.SetPassword(c.cfg.MQTT.Password)
	}
	if c.cfg.TLS != nil {
		opts.SetTLSConfig(c.cfg.TLS)
	}
	if c.cfg.MQTT.KeepaliveSec > 0 {
		opts.SetKeepAlive(time.Duration(c.cfg.MQTT.KeepaliveSec) * time.Second)
	}
	if c.cfg.MQTT.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(c.cfg.MQTT.ConnectTimeout) * time.Second)
	}

	opts.SetAutoReconnect(c.daemon)
	opts.SetConnectRetryInterval(minReconnectInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetOrderMatters(true)

	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.lg.Warn("mqtt connection lost", log.KVErr(err))
		select {
		case c.disconnected <- struct{}{}:
		default:
		}
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.lg.Info("mqtt reconnecting")
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	if tok.WaitTimeout(30*time.Second) && tok.Error() != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", tok.Error())
	}
	return nil
}

func (c *consumer) onConnect(client mqtt.Client) {
	for _, sub := range c.subscriptions() {
		sub := sub
		tok := client.Subscribe(sub, subscribeQoS, c.handleMessage)
		tok.Wait()
		if err := tok.Error(); err != nil {
			c.lg.Error("failed to subscribe", log.KV("topic", sub), log.KVErr(err))
			continue
		}
		c.lg.Info("subscribed", log.KV("topic", sub))
	}
}

func (c *consumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	mc := rules.BuildContext(msg.Topic(), msg.Payload())
	if mc.ParseWarning != nil {
		c.lg.Warn("payload decode warning", log.KV("topic", msg.Topic()), log.KVErr(mc.ParseWarning))
	}

	results := c.engine.Process(mc)
	ctx := context.Background()
	for _, res := range results {
		switch res.Outcome {
		case rules.OutcomeEmitted:
			if err := c.writer.Add(ctx, res.Record); err != nil {
				c.lg.Warn("failed to enqueue point", log.KV("topic", msg.Topic()), log.KVErr(err))
			}
			if res.HTTPContent != nil {
				c.forwardHTTP(ctx, res.RuleName, res.HTTPContent)
			}
		case rules.OutcomeFieldSkip:
			c.lg.Warn("rule skipped message", log.KV("rule", res.RuleName), log.KVErr(res.Err))
		}
	}
}

// forwardHTTP fires the httpcontent request in its own goroutine: a slow
// or unreachable HTTP target must never stall message dispatch for every
// other rule.
func (c *consumer) forwardHTTP(ctx context.Context, ruleName string, content map[string]value.Value) {
	if c.fwd == nil || c.cfg.HTTP == nil {
		return
	}
	target := output.HTTPTargetConfig{
		URL:           c.cfg.HTTP.URL,
		Method:        c.cfg.HTTP.Method,
		BasicAuthUser: c.cfg.HTTP.BasicAuthUser,
		BasicAuthPass: c.cfg.HTTP.BasicAuthPass,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.fwd.Send(ctx, ruleName, target, content); err != nil {
			c.lg.Warn("httpcontent forward failed", log.KV("rule", ruleName), log.KVErr(err))
		}
	}()
}

// Close disconnects from the broker and waits for in-flight goroutines.
func (c *consumer) Close(grace time.Duration) {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(uint(grace.Milliseconds()))
	}
	c.wg.Wait()
}
