package rules

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/expr"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/lineproto"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/selector"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/topic"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

// Base64Decode is a single, global (not per-rule) decode-and-inject
// directive: a base64 string read from the payload is decoded and
// injected back into the payload object under Target before rule
// evaluation.
type Base64Decode struct {
	Source selector.Selector // where to read the base64 string from
	Target string            // object key to inject the decoded value under, within $.payload
}

// Engine holds the compiled, immutable rule set plus the process-wide
// default bucket and optional base64 directive. It is not safe for
// concurrent Process calls — the bridge runs the whole pipeline on one
// dispatch goroutine.
type Engine struct {
	Rules         []*Rule
	DefaultBucket string
	B64           *Base64Decode

	Now func() time.Time // overridable for tests; defaults to time.Now
}

func NewEngine(rs []*Rule, defaultBucket string, b64 *Base64Decode) *Engine {
	return &Engine{Rules: rs, DefaultBucket: defaultBucket, B64: b64, Now: time.Now}
}

// MessageContext is the per-message state built once before any rule
// runs against it.
type MessageContext struct {
	TopicSegments []string
	Payload       value.Value
	ParseWarning  error // non-nil if the non-JSON payload was not valid UTF-8 and was lossily decoded
}

// BuildContext splits the topic into segments and parses the payload as
// JSON, falling back to a (possibly lossily-decoded) string payload.
func BuildContext(topicStr string, raw []byte) MessageContext {
	segs := topic.Split(topicStr)
	v, err := value.ParseJSON(raw)
	if err == nil {
		return MessageContext{TopicSegments: segs, Payload: v}
	}
	s, clean := value.Utf8OrLossy(raw)
	var warn error
	if !clean {
		warn = fmt.Errorf("payload is not valid UTF-8, lossily decoded")
	}
	return MessageContext{TopicSegments: segs, Payload: value.Str(s), ParseWarning: warn}
}

// Process runs every configured rule against one message, returning one
// BuildResult per rule whose topic pattern matched (rules that don't
// match the topic produce no result at all).
func (e *Engine) Process(mc MessageContext) []BuildResult {
	var out []BuildResult
	now := e.Now()
	for _, r := range e.Rules {
		if !r.MatchesTopic(mc.TopicSegments) {
			continue
		}
		if r.gate != nil && !r.gate.ShouldFire(now) {
			out = append(out, BuildResult{RuleName: r.Name, Outcome: OutcomeCronSkip})
			continue
		}
		out = append(out, e.buildOne(r, mc, now))
	}
	return out
}

func (e *Engine) buildOne(r *Rule, mc MessageContext, now time.Time) BuildResult {
	payload := mc.Payload
	if e.B64 != nil {
		if injected, ok := e.applyBase64(payload, mc.TopicSegments); ok {
			payload = injected
		}
	}
	ctx := selector.Context{Topic: mc.TopicSegments, Payload: payload}

	tags := make([]lineproto.KV, 0, len(r.tags))
	for _, nt := range r.tags {
		v, ok := selector.Eval(nt.Sel, ctx)
		if !ok || v.IsNull() {
			continue // a tag that resolves null/missing is omitted, not an error
		}
		s, err := value.ToStr(v)
		if err != nil {
			continue
		}
		tags = append(tags, lineproto.KV{Key: nt.Name, Value: s})
	}

	fields := make([]lineproto.Field, 0, len(r.fields))
	for _, nf := range r.fields {
		f, err := resolveField(nf, ctx)
		if err != nil {
			return BuildResult{RuleName: r.Name, Outcome: OutcomeFieldSkip, Err: fmt.Errorf("rule %s field %s: %w", r.Name, nf.Name, err)}
		}
		fields = append(fields, f)
	}

	bucket := r.Bucket
	if bucket == `` {
		bucket = e.DefaultBucket
	}

	res := BuildResult{
		RuleName: r.Name,
		Outcome:  OutcomeEmitted,
		Record: lineproto.Record{
			Bucket:      bucket,
			Measurement: r.Measurement,
			Tags:        tags,
			Fields:      fields,
			TimestampNs: now.UnixNano(),
		},
	}

	if r.HasHTTPContent() {
		hc := make(map[string]value.Value, len(r.httpFields))
		for _, nh := range r.httpFields {
			v, ok := selector.Eval(nh.Sel, ctx)
			if !ok || v.IsNull() {
				continue
			}
			hc[nh.Name] = v
		}
		res.HTTPContent = hc
	}
	return res
}

func resolveField(nf namedField, ctx selector.Context) (lineproto.Field, error) {
	spec := nf.Spec
	switch spec.kind {
	case fieldExpr:
		v, err := expr.Eval(spec.expr, ctx)
		if err != nil {
			return lineproto.Field{}, err
		}
		return valueToNaturalField(nf.Name, v)
	case fieldTyped:
		v, ok := selector.Eval(spec.sel, ctx)
		if !ok || v.IsNull() {
			return lineproto.Field{}, fmt.Errorf("selector %s did not resolve", spec.sel)
		}
		return coerceField(nf.Name, v, spec.typ)
	case fieldPlain:
		v, ok := selector.Eval(spec.sel, ctx)
		if !ok || v.IsNull() {
			return lineproto.Field{}, fmt.Errorf("selector %s did not resolve", spec.sel)
		}
		return valueToNaturalField(nf.Name, v)
	}
	return lineproto.Field{}, fmt.Errorf("unknown field spec kind")
}

// valueToNaturalField handles a field with no explicit TypeTag: the
// Value keeps its own kind in line protocol.
func valueToNaturalField(name string, v value.Value) (lineproto.Field, error) {
	switch v.Kind() {
	case value.KindInt:
		return lineproto.Field{Key: name, Kind: lineproto.FieldInt, I: v.Int()}, nil
	case value.KindFloat:
		return lineproto.Field{Key: name, Kind: lineproto.FieldFloat, F: v.Float()}, nil
	case value.KindBool:
		return lineproto.Field{Key: name, Kind: lineproto.FieldBool, B: v.Bool()}, nil
	case value.KindStr:
		return lineproto.Field{Key: name, Kind: lineproto.FieldStr, S: v.Str()}, nil
	}
	return lineproto.Field{}, fmt.Errorf("field %s: array/object values require an explicit type", name)
}

func coerceField(name string, v value.Value, t TypeTag) (lineproto.Field, error) {
	switch t {
	case TypeFloat:
		f, err := value.ToFloat(v)
		if err != nil {
			return lineproto.Field{}, err
		}
		return lineproto.Field{Key: name, Kind: lineproto.FieldFloat, F: f}, nil
	case TypeInt:
		i, err := value.ToInt(v)
		if err != nil {
			return lineproto.Field{}, err
		}
		return lineproto.Field{Key: name, Kind: lineproto.FieldInt, I: i}, nil
	case TypeStr:
		s, err := value.ToStr(v)
		if err != nil {
			return lineproto.Field{}, err
		}
		return lineproto.Field{Key: name, Kind: lineproto.FieldStr, S: s}, nil
	case TypeBool:
		b, err := value.ToBool(v)
		if err != nil {
			return lineproto.Field{}, err
		}
		return lineproto.Field{Key: name, Kind: lineproto.FieldBool, B: b}, nil
	case TypeBoolToInt:
		i, err := value.ToBoolToInt(v)
		if err != nil {
			return lineproto.Field{}, err
		}
		return lineproto.Field{Key: name, Kind: lineproto.FieldInt, I: i}, nil
	}
	return lineproto.Field{}, fmt.Errorf("field %s: unknown type tag %q", name, t)
}

// applyBase64 decodes the configured source selector's string value and
// returns a copy of payload with the decoded value injected under
// Target, scoped to this one message only — the original payload in
// MessageContext is left untouched.
func (e *Engine) applyBase64(payload value.Value, topicSegs []string) (value.Value, bool) {
	ctx := selector.Context{Topic: topicSegs, Payload: payload}
	src, ok := selector.Eval(e.B64.Source, ctx)
	if !ok || src.Kind() != value.KindStr {
		return payload, false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(src.Str()))
	if err != nil {
		return payload, false // warn and continue without injection
	}
	var decoded value.Value
	if v, err := value.ParseJSON(raw); err == nil {
		decoded = v
	} else {
		s, _ := value.Utf8OrLossy(raw)
		decoded = value.Str(s)
	}
	if payload.Kind() != value.KindObject {
		return payload, false
	}
	clone := value.NewObject()
	for _, k := range payload.Object().Keys() {
		v, _ := payload.Object().Get(k)
		clone.Set(k, v)
	}
	clone.Set(e.B64.Target, decoded)
	return value.FromObject(clone), true
}
