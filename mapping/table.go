package mapping

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFrameNotFound = errors.New("frame not mapped")
	ErrFieldNotFound = errors.New("field not found")
	ErrInvalidValue  = errors.New("invalid value")
	ErrOutOfRange    = fmt.Errorf("%w: out of range", ErrInvalidValue)
	ErrOverlap       = errors.New("bit range overlaps an existing field")
	ErrInvalidField  = errors.New("invalid field definition")
)

// Table maps frame id -> bit offset -> field.
// It is not safe for concurrent use; the owner serialises access.
type Table struct {
	frames map[uint32]map[uint8]*Bitfield
}

func NewTable() *Table {
	return &Table{frames: make(map[uint32]map[uint8]*Bitfield)}
}

// Add registers f under frameID. Duplicate names and overlapping ranges are rejected.
func (t *Table) Add(frameID uint32, f Bitfield) error {
	if err := f.Validate(); err != nil {
		return err
	}
	fields := t.frames[frameID]
	for _, existing := range fields {
		if existing.Name == f.Name {
			return fmt.Errorf("%w: frame %X already has field %s", ErrInvalidField, frameID, f.Name)
		}
		if existing.overlaps(f) {
			return fmt.Errorf("%w: %s and %s in frame %X", ErrOverlap, existing.Name, f.Name, frameID)
		}
	}
	if fields == nil {
		fields = make(map[uint8]*Bitfield)
		t.frames[frameID] = fields
	}
	cp := f
	fields[f.Offset] = &cp
	return nil
}

// Remove deletes the field starting at offset. An emptied frame is dropped.
func (t *Table) Remove(frameID uint32, offset uint8) bool {
	fields, ok := t.frames[frameID]
	if !ok {
		return false
	}
	if _, ok := fields[offset]; !ok {
		return false
	}
	delete(fields, offset)
	if len(fields) == 0 {
		delete(t.frames, frameID)
	}
	return true
}

func (t *Table) Has(frameID uint32) bool {
	_, ok := t.frames[frameID]
	return ok
}

// Len is the number of mapped frames.
func (t *Table) Len() int {
	return len(t.frames)
}

// FrameIDs returns all mapped ids in ascending order.
func (t *Table) FrameIDs() []uint32 {
	ids := make([]uint32, 0, len(t.frames))
	for id := range t.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Fields returns copies of the frame's fields ordered by bit offset.
func (t *Table) Fields(frameID uint32) []Bitfield {
	fields := t.frames[frameID]
	out := make([]Bitfield, 0, len(fields))
	for _, f := range fields {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (t *Table) Field(frameID uint32, name string) (Bitfield, error) {
	fields, ok := t.frames[frameID]
	if !ok {
		return Bitfield{}, fmt.Errorf("%w: %X", ErrFrameNotFound, frameID)
	}
	for _, f := range fields {
		if f.Name == name {
			return *f, nil
		}
	}
	return Bitfield{}, fmt.Errorf("%w: %s in frame %X", ErrFieldNotFound, name, frameID)
}

func (t *Table) Clone() *Table {
	c := NewTable()
	for id, fields := range t.frames {
		m := make(map[uint8]*Bitfield, len(fields))
		for off, f := range fields {
			cp := *f
			m[off] = &cp
		}
		c.frames[id] = m
	}
	return c
}
