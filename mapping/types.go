package mapping

import (
	"fmt"
	"math"
	"strings"
)

// FieldType is the storage type of a mapped bit-field.
type FieldType uint8

const (
	TypeBool FieldType = iota
	TypeUint8
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat
	TypeDouble
	TypeInvalid
)

// names as written in mapping files
var typeNames = [...]string{
	TypeBool:    "bool",
	TypeUint8:   "uint8_t",
	TypeInt8:    "int8_t",
	TypeUint16:  "uint16_t",
	TypeInt16:   "int16_t",
	TypeUint32:  "uint32_t",
	TypeInt32:   "int32_t",
	TypeUint64:  "uint64_t",
	TypeInt64:   "int64_t",
	TypeFloat:   "float",
	TypeDouble:  "double",
	TypeInvalid: "invalid",
}

var typeAliases = map[string]FieldType{
	"u8":      TypeUint8,
	"uint8":   TypeUint8,
	"i8":      TypeInt8,
	"int8":    TypeInt8,
	"u16":     TypeUint16,
	"uint16":  TypeUint16,
	"i16":     TypeInt16,
	"int16":   TypeInt16,
	"u32":     TypeUint32,
	"uint32":  TypeUint32,
	"i32":     TypeInt32,
	"int32":   TypeInt32,
	"u64":     TypeUint64,
	"uint64":  TypeUint64,
	"i64":     TypeInt64,
	"int64":   TypeInt64,
	"float32": TypeFloat,
	"float64": TypeDouble,
}

func (t FieldType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// ParseFieldType returns TypeInvalid for unknown names.
func ParseFieldType(s string) FieldType {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == name {
			return FieldType(i)
		}
	}
	if t, ok := typeAliases[name]; ok {
		return t
	}
	return TypeInvalid
}

// Width is the natural bit width of the type.
func (t FieldType) Width() int {
	switch t {
	case TypeBool:
		return 1
	case TypeUint8, TypeInt8:
		return 8
	case TypeUint16, TypeInt16:
		return 16
	case TypeUint32, TypeInt32, TypeFloat:
		return 32
	case TypeUint64, TypeInt64, TypeDouble:
		return 64
	default:
		return 0
	}
}

func (t FieldType) Signed() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

func (t FieldType) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

func (t FieldType) Valid() bool {
	return t < TypeInvalid
}

// Bounds is the full value range of the type. Every numeric type has an entry.
func (t FieldType) Bounds() (Bound, Bound) {
	switch t {
	case TypeBool:
		return UintBound(0), UintBound(1)
	case TypeUint8:
		return UintBound(0), UintBound(math.MaxUint8)
	case TypeInt8:
		return IntBound(math.MinInt8), IntBound(math.MaxInt8)
	case TypeUint16:
		return UintBound(0), UintBound(math.MaxUint16)
	case TypeInt16:
		return IntBound(math.MinInt16), IntBound(math.MaxInt16)
	case TypeUint32:
		return UintBound(0), UintBound(math.MaxUint32)
	case TypeInt32:
		return IntBound(math.MinInt32), IntBound(math.MaxInt32)
	case TypeUint64:
		return UintBound(0), UintBound(math.MaxUint64)
	case TypeInt64:
		return IntBound(math.MinInt64), IntBound(math.MaxInt64)
	case TypeFloat:
		return FloatBound(-math.MaxFloat32), FloatBound(math.MaxFloat32)
	case TypeDouble:
		return FloatBound(-math.MaxFloat64), FloatBound(math.MaxFloat64)
	default:
		return Bound{}, Bound{}
	}
}

// Bitfield is one named signal inside a frame payload.
type Bitfield struct {
	Name   string
	Type   FieldType
	Offset uint8 // first bit, bit 0 is the LSB of byte 0
	Size   uint8 // length in bits
	Min    Bound
	Max    Bound
}

// NewBitfield creates a field whose bounds span the whole type range.
func NewBitfield(name string, typ FieldType, offset, size uint8) Bitfield {
	min, max := typ.Bounds()
	return Bitfield{Name: name, Type: typ, Offset: offset, Size: size, Min: min, Max: max}
}

// inRange reports whether v, in the domain of the field type, lies within [Min, Max].
func (b Bitfield) inRange(v Bound) bool {
	return b.Type.compareBounds(v, b.Min) >= 0 && b.Type.compareBounds(v, b.Max) <= 0
}

func (b Bitfield) bounds() string {
	return "[" + b.Type.FormatBound(b.Min) + ", " + b.Type.FormatBound(b.Max) + "]"
}

func (b Bitfield) end() int {
	return int(b.Offset) + int(b.Size)
}

func (b Bitfield) overlaps(o Bitfield) bool {
	return int(b.Offset) < o.end() && int(o.Offset) < b.end()
}

// Validate checks the field definition itself, independent of any frame.
func (b Bitfield) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: %s has invalid type", ErrInvalidField, b.Name)
	}
	if b.Size == 0 || int(b.Size) > b.Type.Width() {
		return fmt.Errorf("%w: %s size %d does not fit type %s", ErrInvalidField, b.Name, b.Size, b.Type)
	}
	if b.Type.IsFloat() && int(b.Size) != b.Type.Width() {
		return fmt.Errorf("%w: %s of type %s must be %d bits", ErrInvalidField, b.Name, b.Type, b.Type.Width())
	}
	if b.end() > 64 {
		return fmt.Errorf("%w: %s ends at bit %d, beyond the 8 byte payload", ErrInvalidField, b.Name, b.end())
	}
	if b.Type.compareBounds(b.Min, b.Max) > 0 {
		return fmt.Errorf("%w: %s min %s greater than max %s", ErrInvalidField, b.Name,
			b.Type.FormatBound(b.Min), b.Type.FormatBound(b.Max))
	}
	return nil
}

// Signal is a decoded field value as shown to the user.
type Signal struct {
	Name    string
	Type    FieldType
	Value   string
	InRange bool
}
