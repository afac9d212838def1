/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const minimalYAML = `
mqtt:
  brokers: ["tcp://localhost:1883"]
  client_id: test
influxdb:
  url: http://localhost:8181
  token: tok
  bucket: sensors
points:
  - measurement: temp
    topic: sensors/+/temp
    fields:
      value: $.payload.value
`

func mustDecode(t *testing.T, s string) RawConfig {
	t.Helper()
	var rc RawConfig
	require.NoError(t, yaml.Unmarshal([]byte(s), &rc))
	return rc
}

func TestCompileMinimal(t *testing.T) {
	rc := mustDecode(t, minimalYAML)
	c, err := Compile(rc)
	require.NoError(t, err)
	require.Len(t, c.Rules, 1)
	require.Equal(t, "sensors", c.InfluxBucket)
	require.Equal(t, 5, int(c.ShutdownGrace.Seconds()))
}

func TestCompileGzipDefaultsFalseAndHonorsFlag(t *testing.T) {
	rc := mustDecode(t, minimalYAML)
	c, err := Compile(rc)
	require.NoError(t, err)
	require.False(t, c.InfluxGzip)

	rc.InfluxDB.EnableGzip = true
	c, err = Compile(rc)
	require.NoError(t, err)
	require.True(t, c.InfluxGzip)
}

func TestCompileRejectsMissingBroker(t *testing.T) {
	rc := mustDecode(t, minimalYAML)
	rc.MQTT.Brokers = nil
	_, err := Compile(rc)
	require.Error(t, err)
}

func TestCompileRejectsNoPoints(t *testing.T) {
	rc := mustDecode(t, minimalYAML)
	rc.Points = nil
	_, err := Compile(rc)
	require.Error(t, err)
}

func TestCompileRejectsHTTPContentWithoutTarget(t *testing.T) {
	const withHTTP = `
mqtt:
  brokers: ["tcp://localhost:1883"]
influxdb:
  url: http://localhost:8181
  token: tok
  bucket: sensors
points:
  - measurement: temp
    topic: sensors/+/temp
    fields:
      value: $.payload.value
    httpcontent:
      value: $.payload.value
`
	rc := mustDecode(t, withHTTP)
	_, err := Compile(rc)
	require.Error(t, err)
}

func TestMergeAppendsPoints(t *testing.T) {
	base := mustDecode(t, minimalYAML)
	overlay := mustDecode(t, `
points:
  - measurement: humidity
    topic: sensors/+/humidity
    fields:
      value: $.payload.value
`)
	merged := merge(base, overlay)
	require.Len(t, merged.Points, 2)
}

func TestParseRate(t *testing.T) {
	cases := map[string]int64{
		"1024":  1024,
		"1k":    1024,
		"1kb":   1024,
		"1mb":   1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseRate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}
