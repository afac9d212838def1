package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/cronguard"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/expr"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/selector"
	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/topic"
)

// RawRule is the YAML shape of one entry in the config's top-level
// `points` list. Fields/Tags/HttpContent are decoded as raw
// yaml.Node mappings rather than Go maps so that key order survives into
// the compiled Rule (Go's map has none, and tag/field order is
// observable in emitted line protocol).
type RawRule struct {
	Name        string    `yaml:"name,omitempty"`
	Measurement string    `yaml:"measurement"`
	Topic       string    `yaml:"topic"`
	Bucket      string    `yaml:"bucket,omitempty"`
	Schedule    string    `yaml:"schedule,omitempty"`
	Fields      yaml.Node `yaml:"fields"`
	Tags        yaml.Node `yaml:"tags,omitempty"`
	HTTPContent yaml.Node `yaml:"httpcontent,omitempty"`
}

// rawTypedField is the mapping form of a Typed field spec:
// `{value: $.payload.x, type: int}`.
type rawTypedField struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

// Compile validates and builds an immutable Rule from its YAML form.
// idx is the rule's position in the `points` list, used to default Name
// and to make error messages locatable.
func Compile(raw RawRule, idx int) (*Rule, error) {
	name := raw.Name
	if name == `` {
		name = fmt.Sprintf("points[%d]", idx)
	}
	if raw.Measurement == `` {
		return nil, fmt.Errorf("rule %s: missing measurement", name)
	}
	pat, err := topic.Parse(raw.Topic)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", name, err)
	}

	var sched *cronguard.Schedule
	if raw.Schedule != `` {
		s, err := cronguard.Parse(raw.Schedule)
		if err != nil {
			return nil, fmt.Errorf("rule %s: schedule: %w", name, err)
		}
		sched = &s
	}

	fields, err := compileFields(&raw.Fields)
	if err != nil {
		return nil, fmt.Errorf("rule %s: fields: %w", name, err)
	}
	tags, err := compileSelectors(&raw.Tags)
	if err != nil {
		return nil, fmt.Errorf("rule %s: tags: %w", name, err)
	}
	httpFields, err := compileSelectors(&raw.HTTPContent)
	if err != nil {
		return nil, fmt.Errorf("rule %s: httpcontent: %w", name, err)
	}

	return NewRule(name, raw.Measurement, pat, raw.Bucket, sched, fields, tags, httpFields)
}

func nodePairs(n *yaml.Node) []*yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	return n.Content
}

func compileFields(n *yaml.Node) ([]namedField, error) {
	pairs := nodePairs(n)
	fields := make([]namedField, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i].Value
		val := pairs[i+1]
		spec, err := compileFieldSpec(val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		fields = append(fields, namedField{Name: key, Spec: spec})
	}
	return fields, nil
}

func compileFieldSpec(val *yaml.Node) (FieldSpec, error) {
	switch val.Kind {
	case yaml.ScalarNode:
		trimmed := trimmedOrEmpty(val.Value)
		if expr.IsExpression(trimmed) {
			n, err := expr.Parse(expr.Body(trimmed))
			if err != nil {
				return FieldSpec{}, err
			}
			return ExprField(n), nil
		}
		sel, err := selector.Parse(trimmed)
		if err != nil {
			return FieldSpec{}, err
		}
		return PlainField(sel), nil
	case yaml.MappingNode:
		var tf rawTypedField
		if err := val.Decode(&tf); err != nil {
			return FieldSpec{}, err
		}
		sel, err := selector.Parse(tf.Value)
		if err != nil {
			return FieldSpec{}, err
		}
		tt, err := ParseTypeTag(tf.Type)
		if err != nil {
			return FieldSpec{}, err
		}
		return TypedField(sel, tt), nil
	}
	return FieldSpec{}, fmt.Errorf("field spec must be a string or a {value,type} mapping")
}

func compileSelectors(n *yaml.Node) ([]namedSelector, error) {
	pairs := nodePairs(n)
	out := make([]namedSelector, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i].Value
		val := pairs[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s: expected a selector string", key)
		}
		sel, err := selector.Parse(val.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, namedSelector{Name: key, Sel: sel})
	}
	return out, nil
}

func trimmedOrEmpty(s string) string {
	// expr.IsExpression expects the already-trimmed field text; field
	// values in YAML rarely carry leading/trailing whitespace, but be
	// defensive since a quoted scalar like "  = 1 + 2" is legal YAML.
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}
