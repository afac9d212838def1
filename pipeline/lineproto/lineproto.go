/*************************************************************************
 * Copyright 2018 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lineproto formats Records into InfluxDB v3 line protocol and
// batches the encoded lines the way ingest/processors/gzip.go batches and
// compresses outbound entries before a write.
package lineproto

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Field is a single measured value, already type-resolved by the rule
// engine: exactly one of the typed accessors is valid per Kind.
type Field struct {
	Key  string
	Kind FieldKind
	S    string
	I    int64
	F    float64
	B    bool
}

type FieldKind uint8

const (
	FieldStr FieldKind = iota
	FieldInt
	FieldFloat
	FieldBool
)

// Record is one point bound for a bucket.
type Record struct {
	Bucket      string
	Measurement string
	Tags        []KV // order preserved from rule config
	Fields      []Field
	TimestampNs int64
}

type KV struct {
	Key, Value string
}

var (
	ErrNoFields = fmt.Errorf("record has no fields, line protocol forbids an empty field set")
)

// Encode renders one Record as a single line-protocol line, without a
// trailing newline. Measurement escapes ',' and space; tag/field keys
// and tag values escape ',', '=', space; string field values are
// double-quoted with '"' and '\' escaped; floats use the shortest
// round-trip decimal and NaN/Inf is rejected (callers should have
// already dropped such a field, but this is the last line of defense).
func Encode(r Record) (string, error) {
	if len(r.Fields) == 0 {
		return ``, ErrNoFields
	}
	var sb strings.Builder
	sb.WriteString(escapeMeasurement(r.Measurement))
	for _, t := range r.Tags {
		sb.WriteByte(',')
		sb.WriteString(escapeKeyOrTagValue(t.Key))
		sb.WriteByte('=')
		sb.WriteString(escapeKeyOrTagValue(t.Value))
	}
	sb.WriteByte(' ')
	wrote := 0
	for _, f := range r.Fields {
		enc, err := encodeField(f)
		if err != nil {
			continue // NaN/Inf: drop this field, keep the rest
		}
		if wrote > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(escapeKeyOrTagValue(f.Key))
		sb.WriteByte('=')
		sb.WriteString(enc)
		wrote++
	}
	if wrote == 0 {
		return ``, ErrNoFields
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(r.TimestampNs, 10))
	return sb.String(), nil
}

func encodeField(f Field) (string, error) {
	switch f.Kind {
	case FieldStr:
		return `"` + escapeStringField(f.S) + `"`, nil
	case FieldInt:
		return strconv.FormatInt(f.I, 10) + `i`, nil
	case FieldBool:
		if f.B {
			return `t`, nil
		}
		return `f`, nil
	case FieldFloat:
		if math.IsNaN(f.F) || math.IsInf(f.F, 0) {
			return ``, fmt.Errorf("field %s: non-finite float", f.Key)
		}
		return strconv.FormatFloat(f.F, 'g', -1, 64), nil
	}
	return ``, fmt.Errorf("field %s: unknown kind", f.Key)
}

func escapeMeasurement(s string) string {
	r := strings.NewReplacer(`,`, `\,`, ` `, `\ `)
	return r.Replace(s)
}

func escapeKeyOrTagValue(s string) string {
	r := strings.NewReplacer(`,`, `\,`, `=`, `\=`, ` `, `\ `)
	return r.Replace(s)
}

func escapeStringField(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}

// Batch accumulates encoded lines for a single bucket up to a soft limit
// on record count or encoded byte size, whichever comes first.
type Batch struct {
	Bucket       string
	lines        []string
	encodedBytes int
}

func NewBatch(bucket string) *Batch {
	return &Batch{Bucket: bucket}
}

// DefaultMaxRecords and DefaultMaxBytes are the batch soft limits used
// when a writer is not configured with its own.
const (
	DefaultMaxRecords = 500
	DefaultMaxBytes   = 1 << 20 // 1 MiB
)

// Add appends one encoded line and reports whether the batch has now hit
// a soft limit and should be flushed.
func (b *Batch) Add(line string, maxRecords, maxBytes int) (full bool) {
	b.lines = append(b.lines, line)
	b.encodedBytes += len(line) + 1
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return len(b.lines) >= maxRecords || b.encodedBytes >= maxBytes
}

func (b *Batch) Len() int { return len(b.lines) }

// Bytes renders the batch body, one line per record, newline-terminated.
func (b *Batch) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range b.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Gzip compresses the batch body, mirroring ingest/processors/gzip.go's
// use of klauspost/compress for outbound batches.
func (b *Batch) Gzip() ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(b.Bytes()); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
