/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package value implements the dynamically-typed value domain the rule
// engine evaluates selectors and expressions over: Null, Bool, Int, Float,
// Str, Array and Object. Object preserves key insertion order so that
// round-tripping a payload back to JSON (the str coercion's "JSON
// re-encode" case) is deterministic.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return `null`
	case KindBool:
		return `bool`
	case KindInt:
		return `int`
	case KindFloat:
		return `float`
	case KindStr:
		return `str`
	case KindArray:
		return `array`
	case KindObject:
		return `object`
	}
	return `unknown`
}

// Value is the tagged-sum value all selector and expression evaluation
// operates on. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  *Object
}

var Null = Value{kind: KindNull}

func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Str(s string) Value       { return Value{kind: KindStr, s: s} }
func Array(vs []Value) Value   { return Value{kind: KindArray, arr: vs} }
func FromObject(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }
func (v Value) Array() []Value { return v.arr }
func (v Value) Object() *Object {
	return v.obj
}

// Object is an ordered string-keyed mapping to Value.
type Object struct {
	keys []string
	idx  map[string]int
	vals []Value
}

func NewObject() *Object {
	return &Object{idx: make(map[string]int)}
}

// Set inserts or overwrites a key, preserving first-insertion order.
func (o *Object) Set(key string, v Value) {
	if i, ok := o.idx[key]; ok {
		o.vals[i] = v
		return
	}
	o.idx[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
}

func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Null, false
	}
	i, ok := o.idx[key]
	if !ok {
		return Null, false
	}
	return o.vals[i], true
}

func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

var (
	ErrCannotCoerce = errors.New("value cannot be coerced to the requested type")
	ErrOverflow     = errors.New("integer overflow during coercion")
	ErrNaN          = errors.New("NaN is not a valid boolean source")
)

// ToFloat implements the "float" column of the coercion table.
func ToFloat(v Value) (float64, error) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1.0, nil
		}
		return 0.0, nil
	case KindInt:
		return float64(v.i), nil
	case KindFloat:
		return v.f, nil
	case KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrCannotCoerce, v.s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: from %s", ErrCannotCoerce, v.kind)
}

// ToInt implements the "int" column of the coercion table.
func ToInt(v Value) (int64, error) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		return int64(v.f), nil // truncate toward zero
	case KindStr:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		// accept decimal strings like "25.0" by parsing as float first
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrCannotCoerce, v.s)
		}
		if f > 9.223372036854775e18 || f < -9.223372036854775e18 {
			return 0, ErrOverflow
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("%w: from %s", ErrCannotCoerce, v.kind)
}

// ToStr implements the "str" column of the coercion table.
func ToStr(v Value) (string, error) {
	switch v.kind {
	case KindNull:
		return ``, nil
	case KindBool:
		if v.b {
			return `true`, nil
		}
		return `false`, nil
	case KindInt:
		return strconv.FormatInt(v.i, 10), nil
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), nil
	case KindStr:
		return v.s, nil
	case KindArray, KindObject:
		return encodeJSON(v), nil
	}
	return ``, fmt.Errorf("%w: from %s", ErrCannotCoerce, v.kind)
}

// ToBool implements the "bool" column of the coercion table.
func ToBool(v Value) (bool, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i != 0, nil
	case KindFloat:
		if v.f != v.f { // NaN
			return false, ErrNaN
		}
		return v.f != 0, nil
	case KindStr:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case `true`, `1`, `on`, `yes`:
			return true, nil
		case `false`, `0`, `off`, `no`:
			return false, nil
		default:
			return false, fmt.Errorf("%w: %q is not a recognized boolean", ErrCannotCoerce, v.s)
		}
	}
	return false, fmt.Errorf("%w: from %s", ErrCannotCoerce, v.kind)
}

// ToBoolToInt implements the "booltoint" column: coerce to bool first,
// then represent as 1/0.
func ToBoolToInt(v Value) (int64, error) {
	b, err := ToBool(v)
	if err != nil {
		return 0, err
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

// ToNative unwraps v into the nearest encoding/json-friendly Go value, for
// callers (the httpcontent forwarder) that hand a Value tree to
// encoding/json rather than to the line-protocol encoder.
func ToNative(v Value) interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindStr:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToNative(e)
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, v.obj.Len())
		for _, k := range v.obj.Keys() {
			cv, _ := v.obj.Get(k)
			out[k] = ToNative(cv)
		}
		return out
	}
	return nil
}

func encodeJSON(v Value) string {
	var sb strings.Builder
	writeJSON(&sb, v)
	return sb.String()
}

func writeJSON(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		sb.WriteString(`null`)
	case KindBool:
		if v.b {
			sb.WriteString(`true`)
		} else {
			sb.WriteString(`false`)
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindStr:
		sb.WriteString(strconv.Quote(v.s))
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSON(sb, e)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			cv, _ := v.obj.Get(k)
			writeJSON(sb, cv)
		}
		sb.WriteByte('}')
	}
}
