package mapping

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Bound is one end of a field's value range. Only the member matching the
// field type is used: Int for signed integers, Uint for unsigned integers and
// bool, Float for float and double. Integer bounds stay exact over all 64 bits.
type Bound struct {
	Int   int64
	Uint  uint64
	Float float64
}

func IntBound(v int64) Bound     { return Bound{Int: v} }
func UintBound(v uint64) Bound   { return Bound{Uint: v} }
func FloatBound(v float64) Bound { return Bound{Float: v} }

// compareBounds orders a and b in the domain of t.
func (t FieldType) compareBounds(a, b Bound) int {
	switch {
	case t.IsFloat():
		return cmp.Compare(a.Float, b.Float)
	case t.Signed():
		return cmp.Compare(a.Int, b.Int)
	default:
		return cmp.Compare(a.Uint, b.Uint)
	}
}

func (t FieldType) FormatBound(b Bound) string {
	switch {
	case t.IsFloat():
		return strconv.FormatFloat(b.Float, 'g', -1, 64)
	case t.Signed():
		return strconv.FormatInt(b.Int, 10)
	default:
		return strconv.FormatUint(b.Uint, 10)
	}
}

// ParseBound reads a bound written as decimal, or 0x-prefixed hex for integers.
func (t FieldType) ParseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	switch {
	case !t.Valid():
		return Bound{}, fmt.Errorf("%w: bound %q for invalid type", ErrInvalidField, s)
	case t.IsFloat():
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bound{}, fmt.Errorf("%w: bound %q is not a number", ErrInvalidField, s)
		}
		return FloatBound(v), nil
	case t.Signed():
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Bound{}, fmt.Errorf("%w: bound %q is not a %s", ErrInvalidField, s, t)
		}
		return IntBound(v), nil
	default:
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Bound{}, fmt.Errorf("%w: bound %q is not a %s", ErrInvalidField, s, t)
		}
		return UintBound(v), nil
	}
}
