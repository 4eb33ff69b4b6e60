package vars

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the three value shapes a variable can hold.
type Kind int

const (
	// KindScalar is a terminal string or number.
	KindScalar Kind = iota
	// KindVector is an ordered list of scalars, driving a sweep.
	KindVector
	// KindReference is a string containing one or more {name} placeholders.
	KindReference
)

// String returns the kind name used in errors and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindReference:
		return "reference"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the tagged variant for a variable's declared value.
// Scalars are stored canonically as strings; IsNumber records whether the
// declaration was numeric so renderers can round-trip it.
type Value struct {
	Kind     Kind
	Scalar   string   // set for KindScalar and KindReference
	Vector   []string // set for KindVector
	IsNumber bool     // KindScalar only
}

// Scalar builds a string scalar value. If the string contains a {name}
// placeholder it is classified as a reference instead.
func Scalar(s string) Value {
	if strings.ContainsRune(s, '{') {
		return Value{Kind: KindReference, Scalar: s}
	}
	return Value{Kind: KindScalar, Scalar: s}
}

// Number builds a numeric scalar value from its canonical string form.
func Number(s string) Value {
	return Value{Kind: KindScalar, Scalar: s, IsNumber: true}
}

// Int builds a numeric scalar from an integer.
func Int(n int) Value {
	return Number(strconv.Itoa(n))
}

// Float builds a numeric scalar from a float, trimming a trailing ".0" style
// mantissa so integer-valued floats print as integers.
func Float(f float64) Value {
	return Number(FormatNumber(f))
}

// Vector builds a vector value from scalar strings.
func Vector(elems ...string) Value {
	return Value{Kind: KindVector, Vector: elems}
}

// String returns the value's display form.
func (v Value) String() string {
	if v.Kind == KindVector {
		return "[" + strings.Join(v.Vector, ", ") + "]"
	}
	return v.Scalar
}

// Len returns the vector length, or 1 for scalars and references.
func (v Value) Len() int {
	if v.Kind == KindVector {
		return len(v.Vector)
	}
	return 1
}

// FormatNumber renders a float the way declarations do: integer-valued
// floats as integers, everything else with minimal digits.
func FormatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
