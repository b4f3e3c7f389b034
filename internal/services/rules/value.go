// Package rules provides the restricted expression engine for deal rule
// strings. Expressions are parsed into an AST and interpreted against a
// structured namespace over live deal state; no host reflection is involved
// and no host functionality beyond the arithmetic built-ins is reachable.
package rules

import (
	"strconv"

	"github.com/halewood/strata/internal/models"
)

// Kind discriminates the Value sum type.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
	KindText
)

// Value is the result of evaluating an expression: a number, a boolean,
// or a text literal.
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

// Number wraps a float64.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// FromAny converts a deal-state value (number | bool | string) into a
// Value. Unsupported types report false.
func FromAny(v any) (Value, bool) {
	switch n := v.(type) {
	case nil:
		return Number(0), true
	case bool:
		return Bool(n), true
	case string:
		return Text(n), true
	}
	if f, ok := models.CoerceFloat(v); ok {
		return Number(f), true
	}
	return Value{}, false
}

// Kind returns the value's discriminator.
func (v Value) Kind() Kind { return v.kind }

// Truthy reports Python-style truthiness: non-zero number, true bool,
// non-empty text.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0
	case KindBool:
		return v.b
	default:
		return v.text != ""
	}
}

// AsNumber coerces to float64. Bools coerce to 0/1; text is an error.
func (v Value) AsNumber() (float64, error) {
	switch v.kind {
	case KindNumber:
		return v.num, nil
	case KindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, models.NewCalculationError("cannot use text %s as a number", strconv.Quote(v.text))
	}
}

// Interface unwraps to float64, bool, or string for storage in deal state.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return v.text
	}
}
