/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package selector implements a small JSONPath-like surface syntax
// rooted at $.topic or $.payload:
//
//	$ . IDENT ( . IDENT | [ INT ] | [ STRING-LITERAL ] )*
//
// A compiled Selector is pure: evaluating it against the same Context
// always returns the same result. Missing paths resolve to (Null, false)
// rather than an error, collapsing "missing" and "wrong type" on purpose
// so one rule can gracefully handle heterogeneous payloads.
package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

// Root identifies which half of the message context a selector is rooted
// at.
type Root int

const (
	RootTopic Root = iota
	RootPayload
)

type stepKind int

const (
	stepField stepKind = iota
	stepIndex
)

type step struct {
	kind stepKind
	name string // stepField
	idx  int    // stepIndex
}

// Selector is a parsed, immutable selector AST.
type Selector struct {
	root  Root
	steps []step
	raw   string
}

func (s Selector) String() string { return s.raw }

// Context is the per-message binding: $ = {topic: Array(topic segments),
// payload: payload Value}.
type Context struct {
	Topic   []string
	Payload value.Value
}

// Parse compiles a selector surface-syntax string. Callers load every
// rule's selectors eagerly at config time, so a parse error here is a
// fatal config error rather than a runtime surprise.
func Parse(src string) (Selector, error) {
	p := &parser{s: src}
	sel, err := p.parse()
	if err != nil {
		return Selector{}, fmt.Errorf("selector %q: %w", src, err)
	}
	sel.raw = src
	return sel, nil
}

// MustParse panics on a malformed selector; it is not used for
// user-supplied config.
func MustParse(src string) Selector {
	s, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return s
}

type parser struct {
	s   string
	pos int
}

func (p *parser) parse() (Selector, error) {
	if !p.consume('$') {
		return Selector{}, fmt.Errorf("selector must start with $")
	}
	if !p.consume('.') {
		return Selector{}, fmt.Errorf("expected '.' after $")
	}
	ident, err := p.ident()
	if err != nil {
		return Selector{}, err
	}
	var root Root
	switch ident {
	case `topic`:
		root = RootTopic
	case `payload`:
		root = RootPayload
	default:
		return Selector{}, fmt.Errorf("unknown selector root %q (want topic or payload)", ident)
	}

	var steps []step
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '.':
			p.pos++
			name, err := p.ident()
			if err != nil {
				return Selector{}, err
			}
			steps = append(steps, step{kind: stepField, name: name})
		case '[':
			p.pos++
			if p.pos < len(p.s) && p.s[p.pos] == '\'' {
				name, err := p.quotedString()
				if err != nil {
					return Selector{}, err
				}
				if !p.consume(']') {
					return Selector{}, fmt.Errorf("expected ']'")
				}
				steps = append(steps, step{kind: stepField, name: name})
			} else {
				n, err := p.integer()
				if err != nil {
					return Selector{}, err
				}
				if !p.consume(']') {
					return Selector{}, fmt.Errorf("expected ']'")
				}
				steps = append(steps, step{kind: stepIndex, idx: n})
			}
		default:
			return Selector{}, fmt.Errorf("unexpected character %q at position %d", p.s[p.pos], p.pos)
		}
	}
	return Selector{root: root, steps: steps}, nil
}

func (p *parser) consume(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *parser) ident() (string, error) {
	start := p.pos
	if p.pos >= len(p.s) || !isIdentStart(p.s[p.pos]) {
		return ``, fmt.Errorf("expected identifier at position %d", p.pos)
	}
	p.pos++
	for p.pos < len(p.s) && isIdentCont(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos], nil
}

func (p *parser) integer() (int, error) {
	start := p.pos
	if p.pos < len(p.s) && p.s[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected integer at position %d", p.pos)
	}
	return strconv.Atoi(p.s[start:p.pos])
}

func (p *parser) quotedString() (string, error) {
	if !p.consume('\'') {
		return ``, fmt.Errorf("expected quoted string")
	}
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != '\'' {
		p.pos++
	}
	if p.pos >= len(p.s) {
		return ``, fmt.Errorf("unterminated quoted string")
	}
	s := p.s[start:p.pos]
	p.pos++ // closing quote
	return s, nil
}

// Eval resolves the selector against ctx. ok is false when the path does
// not exist — the caller decides whether that means "omit the tag" or
// "skip the field/rule".
func Eval(sel Selector, ctx Context) (v value.Value, ok bool) {
	var cur value.Value
	switch sel.root {
	case RootTopic:
		if len(sel.steps) == 0 {
			return toTopicArray(ctx.Topic), true
		}
		// $.topic[n] is the only supported continuation
		if len(sel.steps) == 1 && sel.steps[0].kind == stepIndex {
			idx := sel.steps[0].idx
			if idx < 0 || idx >= len(ctx.Topic) {
				return value.Null, false
			}
			return value.Str(ctx.Topic[idx]), true
		}
		return value.Null, false
	case RootPayload:
		cur = ctx.Payload
	}

	for _, st := range sel.steps {
		switch st.kind {
		case stepField:
			if cur.Kind() != value.KindObject {
				return value.Null, false
			}
			next, found := cur.Object().Get(st.name)
			if !found {
				return value.Null, false
			}
			cur = next
		case stepIndex:
			if cur.Kind() != value.KindArray {
				return value.Null, false
			}
			arr := cur.Array()
			if st.idx < 0 || st.idx >= len(arr) {
				return value.Null, false
			}
			cur = arr[st.idx]
		}
	}
	return cur, true
}

func toTopicArray(segs []string) value.Value {
	vs := make([]value.Value, len(segs))
	for i, s := range segs {
		vs[i] = value.Str(s)
	}
	return value.Array(vs)
}

// LooksLikeSelector reports whether s, once trimmed, is selector surface
// syntax, i.e. starts with "$.".
func LooksLikeSelector(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, `$.`)
}
