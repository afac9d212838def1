package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func mustDecodeRaw(t *testing.T, doc string) RawRule {
	t.Helper()
	var rr RawRule
	require.NoError(t, yaml.Unmarshal([]byte(doc), &rr))
	return rr
}

func TestCompileDefaultsNameFromIndex(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: sensors/+/temp
fields:
  value: $.payload.value
`)
	r, err := Compile(rr, 3)
	require.NoError(t, err)
	require.Equal(t, "points[3]", r.Name)
}

func TestCompileRejectsMissingMeasurement(t *testing.T) {
	rr := mustDecodeRaw(t, `
topic: sensors/+/temp
fields:
  value: $.payload.value
`)
	_, err := Compile(rr, 0)
	require.Error(t, err)
}

func TestCompileRejectsNoFields(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: sensors/+/temp
fields: {}
`)
	_, err := Compile(rr, 0)
	require.Error(t, err)
}

func TestCompilePreservesFieldAndTagOrder(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: sensors/+/temp
tags:
  room: $.topic[1]
  unit: $.payload.unit
fields:
  value: $.payload.value
  doubled: "=$.payload.value * 2"
  rounded:
    value: $.payload.value
    type: int
`)
	r, err := Compile(rr, 0)
	require.NoError(t, err)
	require.Len(t, r.fields, 3)
	require.Equal(t, "value", r.fields[0].Name)
	require.Equal(t, "doubled", r.fields[1].Name)
	require.Equal(t, "rounded", r.fields[2].Name)
	require.Equal(t, fieldExpr, r.fields[1].Spec.kind)
	require.Equal(t, fieldTyped, r.fields[2].Spec.kind)
	require.Equal(t, TypeInt, r.fields[2].Spec.typ)

	require.Len(t, r.tags, 2)
	require.Equal(t, "room", r.tags[0].Name)
	require.Equal(t, "unit", r.tags[1].Name)
}

func TestCompileWithSchedule(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: sensors/+/temp
schedule: "*/5 * * * *"
fields:
  value: $.payload.value
`)
	r, err := Compile(rr, 0)
	require.NoError(t, err)
	require.NotNil(t, r.gate)
}

func TestCompileRejectsBadTopicPattern(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: "sensors/#/temp"
fields:
  value: $.payload.value
`)
	_, err := Compile(rr, 0)
	require.Error(t, err)
}

func TestCompileHTTPContent(t *testing.T) {
	rr := mustDecodeRaw(t, `
measurement: temp
topic: sensors/+/temp
fields:
  value: $.payload.value
httpcontent:
  room: $.topic[1]
`)
	r, err := Compile(rr, 0)
	require.NoError(t, err)
	require.True(t, r.HasHTTPContent())
}
