package value

import (
	"fmt"
	"math"
)

// Op is an arithmetic operator as used by the expression evaluator.
type Op byte

const (
	OpAdd Op = '+'
	OpSub Op = '-'
	OpMul Op = '*'
	OpDiv Op = '/'
	OpMod Op = '%'
	OpPow Op = '^'
)

var ErrDivByZero = fmt.Errorf("division by zero")

// Numeric coerces a Value to a number the way the expression evaluator
// requires: Int/Float/Bool map to a number directly, Str must parse as
// numeric, everything else is an error.
func Numeric(v Value) (float64, bool, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true, nil
	case KindBool:
		if v.b {
			return 1, true, nil
		}
		return 0, true, nil
	case KindFloat:
		return v.f, false, nil
	case KindStr:
		f, err := ToFloat(v)
		if err != nil {
			return 0, false, err
		}
		return f, isIntegral(f), nil
	}
	return 0, false, fmt.Errorf("%w: value of kind %s is not numeric", ErrCannotCoerce, v.kind)
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f)
}

// Arith applies op to two Values: both-integral operands keep integrality
// for +, -, *, % (Int result); / always floats; ^ always floats
// (exponentiation, never bitwise).
func Arith(op Op, left, right Value) (Value, error) {
	lf, lInt, err := Numeric(left)
	if err != nil {
		return Null, err
	}
	rf, rInt, err := Numeric(right)
	if err != nil {
		return Null, err
	}
	bothInt := lInt && rInt && left.kind != KindFloat && right.kind != KindFloat

	switch op {
	case OpDiv:
		if rf == 0 {
			return Null, ErrDivByZero
		}
		return Float(lf / rf), nil
	case OpPow:
		return Float(math.Pow(lf, rf)), nil
	case OpMod:
		if rf == 0 {
			return Null, ErrDivByZero
		}
		r := math.Mod(lf, rf)
		// mathematical modulo takes the sign of the divisor
		if r != 0 && (r < 0) != (rf < 0) {
			r += rf
		}
		if bothInt {
			return Int(int64(r)), nil
		}
		return Float(r), nil
	case OpAdd:
		if bothInt {
			return Int(int64(lf) + int64(rf)), nil
		}
		return Float(lf + rf), nil
	case OpSub:
		if bothInt {
			return Int(int64(lf) - int64(rf)), nil
		}
		return Float(lf - rf), nil
	case OpMul:
		if bothInt {
			return Int(int64(lf) * int64(rf)), nil
		}
		return Float(lf * rf), nil
	}
	return Null, fmt.Errorf("unknown operator %q", rune(op))
}

// Negate implements unary minus.
func Negate(v Value) (Value, error) {
	f, isInt, err := Numeric(v)
	if err != nil {
		return Null, err
	}
	if isInt && v.kind != KindFloat {
		return Int(-int64(f)), nil
	}
	return Float(-f), nil
}
