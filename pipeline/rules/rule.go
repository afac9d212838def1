/*************************************************************************
 * Copyright 2019 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rules implements the rule engine: for each inbound message it
// walks the configured rule set, matches topics, applies the cron gate,
// resolves tags and fields through the selector/expression/coercion
// machinery, and emits line-protocol Records plus optional HTTP forward
// payloads. Rules are immutable after Compile; only each rule's CronGate
// carries mutable state, and only the engine's single dispatch goroutine
// touches it.
package rules

import (
	"fmt"
	"strings"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/cronguard"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/expr"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/lineproto"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/selector"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/topic"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

// TypeTag names the explicit coercion target for a Typed field spec.
type TypeTag string

const (
	TypeFloat     TypeTag = `float`
	TypeInt       TypeTag = `int`
	TypeStr       TypeTag = `str`
	TypeBool      TypeTag = `bool`
	TypeBoolToInt TypeTag = `booltoint`
)

func ParseTypeTag(s string) (TypeTag, error) {
	switch TypeTag(strings.ToLower(strings.TrimSpace(s))) {
	case TypeFloat:
		return TypeFloat, nil
	case TypeInt:
		return TypeInt, nil
	case TypeStr:
		return TypeStr, nil
	case TypeBool:
		return TypeBool, nil
	case TypeBoolToInt:
		return TypeBoolToInt, nil
	}
	return ``, fmt.Errorf("unknown field type %q", s)
}

type fieldSpecKind uint8

const (
	fieldPlain fieldSpecKind = iota
	fieldTyped
	fieldExpr
)

// FieldSpec is one of Plain(Selector), Typed{value, type} or
// Expr(ExpressionAST).
type FieldSpec struct {
	kind fieldSpecKind
	sel  selector.Selector
	typ  TypeTag
	expr expr.Node
}

func PlainField(sel selector.Selector) FieldSpec {
	return FieldSpec{kind: fieldPlain, sel: sel}
}

func TypedField(sel selector.Selector, t TypeTag) FieldSpec {
	return FieldSpec{kind: fieldTyped, sel: sel, typ: t}
}

func ExprField(n expr.Node) FieldSpec {
	return FieldSpec{kind: fieldExpr, expr: n}
}

// namedSelector / namedField preserve config-file order, since tags and
// fields are emitted in that order into line protocol.
type namedSelector struct {
	Name string
	Sel  selector.Selector
}

type namedField struct {
	Name string
	Spec FieldSpec
}

// Rule is one immutable configured transformation.
type Rule struct {
	Measurement string
	TopicPat    topic.Pattern
	Bucket      string // "" means "use the configured default bucket"
	gate        *cronguard.Gate
	fields      []namedField
	tags        []namedSelector
	httpFields  []namedSelector

	// Name labels the rule for logging/metrics; derived from config
	// order ("points[3]") unless the config gives it an explicit name.
	Name string
}

// NewRule validates and constructs an immutable Rule. fields must be
// non-empty since line protocol cannot emit a point with zero fields.
func NewRule(name, measurement string, pat topic.Pattern, bucket string, sched *cronguard.Schedule, fields []namedField, tags, httpFields []namedSelector) (*Rule, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("rule %s: must declare at least one field", name)
	}
	r := &Rule{
		Name:        name,
		Measurement: measurement,
		TopicPat:    pat,
		Bucket:      bucket,
		fields:      fields,
		tags:        tags,
		httpFields:  httpFields,
	}
	if sched != nil {
		r.gate = cronguard.NewGate(*sched)
	}
	return r, nil
}

// addField / addTag / addHTTPField append one entry to a rule, keeping
// insertion order. The config loader does not use them; it passes
// complete slices to NewRule.
func (r *Rule) addField(name string, spec FieldSpec) { r.fields = append(r.fields, namedField{name, spec}) }
func (r *Rule) addTag(name string, sel selector.Selector) {
	r.tags = append(r.tags, namedSelector{name, sel})
}
func (r *Rule) addHTTPField(name string, sel selector.Selector) {
	r.httpFields = append(r.httpFields, namedSelector{name, sel})
}

// HasHTTPContent reports whether this rule also produces an HTTP-forward
// payload.
func (r *Rule) HasHTTPContent() bool { return len(r.httpFields) > 0 }

// MatchesTopic is a thin wrapper so callers don't need to import
// pipeline/topic directly.
func (r *Rule) MatchesTopic(segments []string) bool {
	return topic.Match(r.TopicPat, segments)
}

// Outcome describes what building this rule's output for one message
// produced, for metrics/logging.
type Outcome int

const (
	OutcomeEmitted Outcome = iota
	OutcomeTopicMiss
	OutcomeCronSkip
	OutcomeFieldSkip
)

// BuildResult is the per-rule, per-message output. RuleName always
// identifies the rule that produced it, so callers never have to
// re-derive which rule a result came from by its position in the slice
// Process returns (that slice only contains topic-matching rules, so
// its indices don't line up with the configured rule list).
type BuildResult struct {
	RuleName    string
	Outcome     Outcome
	Record      lineproto.Record // valid iff Outcome == OutcomeEmitted
	HTTPContent map[string]value.Value // only if rule.HasHTTPContent() and Outcome == OutcomeEmitted
	Err         error                  // set on OutcomeFieldSkip to explain why
}
