package entry

import (
	"fmt"
	"sort"
)

// Store owns the TX list and the RX observations. It has no locking of its own.
type Store struct {
	tx          []*TxEntry
	rx          map[uint32]*RxData
	rxComments  map[uint32]string
	rxLogLevels map[uint32]uint8
}

func newStore() Store {
	return Store{
		rx:          make(map[uint32]*RxData),
		rxComments:  make(map[uint32]string),
		rxLogLevels: make(map[uint32]uint8),
	}
}

func (s *Store) indexOf(id uint32) int {
	for i, e := range s.tx {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) at(i int) (*TxEntry, error) {
	if i < 0 || i >= len(s.tx) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(s.tx))
	}
	return s.tx[i], nil
}

func (s *Store) add(e TxEntry) error {
	if err := e.validate(); err != nil {
		return err
	}
	if s.indexOf(e.ID) >= 0 {
		return fmt.Errorf("%w: %X", ErrDuplicateID, e.ID)
	}
	cp := e.clone()
	s.tx = append(s.tx, &cp)
	return nil
}

func (s *Store) txSnapshot() []TxEntry {
	out := make([]TxEntry, len(s.tx))
	for i, e := range s.tx {
		out[i] = e.clone()
	}
	return out
}

func (s *Store) rxSnapshot() []RxData {
	out := make([]RxData, 0, len(s.rx))
	for id, r := range s.rx {
		cp := *r
		cp.Data = append([]byte(nil), r.Data...)
		cp.Signals = append(cp.Signals[:0:0], r.Signals...)
		cp.Comment = s.rxComments[id]
		cp.LogLevel = s.rxLogLevels[id]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// rxList merges ids with a comment or level into the persisted form.
func (s *Store) rxList() []RxListEntry {
	ids := make(map[uint32]struct{}, len(s.rxComments)+len(s.rxLogLevels))
	for id := range s.rxComments {
		ids[id] = struct{}{}
	}
	for id := range s.rxLogLevels {
		ids[id] = struct{}{}
	}
	out := make([]RxListEntry, 0, len(ids))
	for id := range ids {
		out = append(out, RxListEntry{ID: id, Comment: s.rxComments[id], LogLevel: s.rxLogLevels[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
