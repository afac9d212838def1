package value

import (
	"fmt"
	"unicode/utf8"

	"github.com/gravwell/jsonparser"
)

// ParseJSON decodes raw JSON bytes into a Value tree, preserving object
// key order the way jsonparser's streaming ObjectEach visits them (rather
// than building an unordered map[string]interface{} with encoding/json).
func ParseJSON(data []byte) (Value, error) {
	return parseAny(data)
}

func parseAny(data []byte) (Value, error) {
	v, dt, _, err := jsonparser.Get(data)
	if err != nil {
		return Null, err
	}
	return fromParsed(v, dt)
}

func fromParsed(data []byte, dt jsonparser.ValueType) (Value, error) {
	switch dt {
	case jsonparser.Null:
		return Null, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(data)
		if err != nil {
			return Null, err
		}
		return Bool(b), nil
	case jsonparser.Number:
		return parseNumber(data)
	case jsonparser.String:
		s, err := jsonparser.ParseString(data)
		if err != nil {
			return Null, err
		}
		return Str(s), nil
	case jsonparser.Array:
		var vals []Value
		var outerErr error
		idx := 0
		_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, offset int, aerr error) {
			if outerErr != nil {
				return
			}
			if aerr != nil {
				outerErr = aerr
				return
			}
			v, err := fromParsed(value, dataType)
			if err != nil {
				outerErr = err
				return
			}
			vals = append(vals, v)
			idx++
		})
		if err != nil {
			return Null, err
		}
		if outerErr != nil {
			return Null, outerErr
		}
		return Array(vals), nil
	case jsonparser.Object:
		obj := NewObject()
		var outerErr error
		err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
			if outerErr != nil {
				return outerErr
			}
			v, err := fromParsed(value, dataType)
			if err != nil {
				outerErr = err
				return err
			}
			obj.Set(string(key), v)
			return nil
		})
		if err != nil {
			return Null, err
		}
		if outerErr != nil {
			return Null, outerErr
		}
		return FromObject(obj), nil
	}
	return Null, fmt.Errorf("unsupported JSON value type %v", dt)
}

func parseNumber(data []byte) (Value, error) {
	// jsonparser.ParseInt fails (rather than truncating) on a decimal
	// point or exponent, so an int-looking number round-trips as Int and
	// everything else falls through to float64.
	if i, err := jsonparser.ParseInt(data); err == nil {
		return Int(i), nil
	}
	f, err := jsonparser.ParseFloat(data)
	if err != nil {
		return Null, err
	}
	return Float(f), nil
}

// Utf8OrLossy is the fallback applied to a payload that failed to parse
// as JSON: valid UTF-8 becomes a Str verbatim, invalid UTF-8 is lossily
// replaced.
func Utf8OrLossy(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), true
	}
	return string([]rune(string(raw))), false
}
