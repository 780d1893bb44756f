package mapping

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.einride.tech/can"

	"can-entry-core/utils"
)

// Decode extracts every mapped field of frameID covered by payload.
// Values outside [Min, Max] are still returned, flagged with InRange=false.
func (t *Table) Decode(frameID uint32, payload []byte) ([]Signal, error) {
	if _, ok := t.frames[frameID]; !ok {
		return nil, fmt.Errorf("%w: %X", ErrFrameNotFound, frameID)
	}
	var d can.Data
	n := copy(d[:], payload)
	avail := n * 8

	fields := t.Fields(frameID)
	out := make([]Signal, 0, len(fields))
	for _, f := range fields {
		if f.end() > avail {
			continue
		}
		val, num := f.read(&d)
		out = append(out, Signal{
			Name:    f.Name,
			Type:    f.Type,
			Value:   val,
			InRange: f.inRange(num),
		})
	}
	return out, nil
}

// Encode writes values (field name -> text) into a copy of payload.
// All values are parsed and range checked first; on any error nothing is written.
func (t *Table) Encode(frameID uint32, payload []byte, values map[string]string) ([]byte, error) {
	if _, ok := t.frames[frameID]; !ok {
		return nil, fmt.Errorf("%w: %X", ErrFrameNotFound, frameID)
	}
	if len(payload) > len(can.Data{}) {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidValue, len(payload))
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	type pending struct {
		f   Bitfield
		raw uint64
	}
	writes := make([]pending, 0, len(names))
	need := len(payload)
	for _, name := range names {
		f, err := t.Field(frameID, name)
		if err != nil {
			return nil, err
		}
		raw, err := f.parse(values[name])
		if err != nil {
			return nil, err
		}
		if b := (f.end() + 7) / 8; b > need {
			need = b
		}
		writes = append(writes, pending{f: f, raw: raw})
	}

	var d can.Data
	copy(d[:], payload)
	for _, w := range writes {
		d.SetUnsignedBitsLittleEndian(w.f.Offset, w.f.Size, w.raw)
	}
	out := make([]byte, need)
	copy(out, d[:need])
	return out, nil
}

// read returns the formatted value and its numeric form for the range check.
func (b Bitfield) read(d *can.Data) (string, Bound) {
	switch {
	case b.Type == TypeBool:
		v := d.UnsignedBitsLittleEndian(b.Offset, b.Size)
		if v != 0 {
			return "true", UintBound(1)
		}
		return "false", UintBound(0)
	case b.Type == TypeFloat:
		f := math.Float32frombits(uint32(d.UnsignedBitsLittleEndian(b.Offset, b.Size)))
		return strconv.FormatFloat(float64(f), 'g', -1, 32), FloatBound(float64(f))
	case b.Type == TypeDouble:
		f := math.Float64frombits(d.UnsignedBitsLittleEndian(b.Offset, b.Size))
		return strconv.FormatFloat(f, 'g', -1, 64), FloatBound(f)
	case b.Type.Signed():
		v := d.SignedBitsLittleEndian(b.Offset, b.Size)
		return strconv.FormatInt(v, 10), IntBound(v)
	default:
		v := d.UnsignedBitsLittleEndian(b.Offset, b.Size)
		return strconv.FormatUint(v, 10), UintBound(v)
	}
}

// parse converts text into the raw bit pattern for the field.
// Range checks run in the field's own domain so 64-bit bounds are exact.
func (b Bitfield) parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	switch {
	case b.Type == TypeBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not a bool", ErrInvalidValue, b.Name, s)
		}
		var raw uint64
		if v {
			raw = 1
		}
		if !b.inRange(UintBound(raw)) {
			return 0, fmt.Errorf("%w: %s=%s outside %s", ErrOutOfRange, b.Name, s, b.bounds())
		}
		return raw, nil

	case b.Type.IsFloat():
		bits := 64
		if b.Type == TypeFloat {
			bits = 32
		}
		v, err := strconv.ParseFloat(s, bits)
		if err != nil || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidValue, b.Name, s)
		}
		if !b.inRange(FloatBound(v)) {
			return 0, fmt.Errorf("%w: %s=%s outside %s", ErrOutOfRange, b.Name, s, b.bounds())
		}
		if b.Type == TypeFloat {
			return uint64(math.Float32bits(float32(v))), nil
		}
		return math.Float64bits(v), nil

	case b.Type.Signed():
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, b.Name, s)
		}
		lo, hi := utils.SignedRange(int(b.Size))
		if v < lo || v > hi || !b.inRange(IntBound(v)) {
			return 0, fmt.Errorf("%w: %s=%d outside %s", ErrOutOfRange, b.Name, v, b.bounds())
		}
		return uint64(v) & utils.UnsignedMax(int(b.Size)), nil

	default:
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not an unsigned integer", ErrInvalidValue, b.Name, s)
		}
		if v > utils.UnsignedMax(int(b.Size)) || !b.inRange(UintBound(v)) {
			return 0, fmt.Errorf("%w: %s=%d outside %s", ErrOutOfRange, b.Name, v, b.bounds())
		}
		return v, nil
	}
}
