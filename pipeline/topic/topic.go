/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package topic implements MQTT wildcard topic-pattern matching: '+'
// matches exactly one segment, '#' is a terminal wildcard matching zero
// or more remaining segments. There is no trie — each rule is queried
// independently per message, since the rule count in a realistic
// deployment is small enough that a linear scan is cheap and the code
// stays simple.
package topic

import (
	"fmt"
	"strings"
)

type segKind int

const (
	segLiteral segKind = iota
	segPlus
	segHash
)

type segment struct {
	kind segKind
	lit  string
}

// Pattern is a parsed, immutable topic pattern.
type Pattern struct {
	segs []segment
	raw  string
}

func (p Pattern) String() string { return p.raw }

// Parse compiles a topic pattern. '#' must be the final segment.
func Parse(raw string) (Pattern, error) {
	if raw == `` {
		return Pattern{}, fmt.Errorf("empty topic pattern")
	}
	parts := strings.Split(raw, `/`)
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch p {
		case `+`:
			segs = append(segs, segment{kind: segPlus})
		case `#`:
			if i != len(parts)-1 {
				return Pattern{}, fmt.Errorf("topic pattern %q: '#' must be the final segment", raw)
			}
			segs = append(segs, segment{kind: segHash})
		default:
			segs = append(segs, segment{kind: segLiteral, lit: p})
		}
	}
	return Pattern{segs: segs, raw: raw}, nil
}

// MustParse panics on an invalid pattern; for internal call sites only.
func MustParse(raw string) Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether topicSegments (already split on '/') satisfies
// the pattern.
func Match(p Pattern, topicSegments []string) bool {
	for i, seg := range p.segs {
		switch seg.kind {
		case segHash:
			return true // matches remaining segments, including zero
		case segPlus:
			if i >= len(topicSegments) {
				return false
			}
		case segLiteral:
			if i >= len(topicSegments) || topicSegments[i] != seg.lit {
				return false
			}
		}
	}
	// no hash consumed the rest: lengths must match exactly
	return len(topicSegments) == len(p.segs)
}

// Split breaks a concrete MQTT topic into its '/'-delimited segments.
func Split(topic string) []string {
	return strings.Split(topic, `/`)
}

// Subscriptions computes the set of distinct concrete subscription
// filters to hand the broker for a set of rule topic patterns (the
// broker performs the wildcard expansion itself; this just dedupes).
func Subscriptions(patterns []Pattern) []string {
	seen := make(map[string]struct{}, len(patterns))
	var out []string
	for _, p := range patterns {
		if _, ok := seen[p.raw]; ok {
			continue
		}
		seen[p.raw] = struct{}{}
		out = append(out, p.raw)
	}
	return out
}
