package entry

import (
	"fmt"

	"can-entry-core/mapping"
	"can-entry-core/utils"
)

// LoadTxList replaces the TX list with the file contents. The file is parsed
// and checked before anything is swapped in; on error the current list stays.
func (h *Handler) LoadTxList(path string) error {
	if h.txLoader == nil {
		return ErrNoLoader
	}
	entries, err := h.txLoader.Load(path)
	if err != nil {
		return fmt.Errorf("load tx list %s: %w", path, err)
	}

	next := newStore()
	now := h.now()
	for _, e := range entries {
		e.Count = 0
		e.LastExecution = now
		if err := next.add(e); err != nil {
			return fmt.Errorf("load tx list %s: %w", path, err)
		}
	}

	h.mu.Lock()
	h.store.tx = next.tx
	h.mu.Unlock()
	h.log.Info("loaded %d tx entries from %s", len(entries), path)
	return nil
}

func (h *Handler) SaveTxList(path string) error {
	if h.txLoader == nil {
		return ErrNoLoader
	}
	entries := h.TxEntries()
	if err := h.txLoader.Save(path, entries); err != nil {
		return fmt.Errorf("save tx list %s: %w", path, err)
	}
	h.log.Info("saved %d tx entries to %s", len(entries), path)
	return nil
}

// LoadRxList replaces RX comments and log levels. Observed RX data is kept.
func (h *Handler) LoadRxList(path string) error {
	if h.rxLoader == nil {
		return ErrNoLoader
	}
	list, err := h.rxLoader.Load(path)
	if err != nil {
		return fmt.Errorf("load rx list %s: %w", path, err)
	}
	comments := make(map[uint32]string, len(list))
	levels := make(map[uint32]uint8, len(list))
	for _, r := range list {
		id := utils.MaskFrameID(r.ID)
		if _, dup := levels[id]; dup {
			return fmt.Errorf("load rx list %s: %w: %X", path, ErrDuplicateID, id)
		}
		levels[id] = r.LogLevel
		if r.Comment != "" {
			comments[id] = r.Comment
		}
	}

	h.mu.Lock()
	h.store.rxComments = comments
	h.store.rxLogLevels = levels
	h.mu.Unlock()
	h.log.Info("loaded %d rx entries from %s", len(list), path)
	return nil
}

func (h *Handler) SaveRxList(path string) error {
	if h.rxLoader == nil {
		return ErrNoLoader
	}
	h.mu.Lock()
	list := h.store.rxList()
	h.mu.Unlock()
	if err := h.rxLoader.Save(path, list); err != nil {
		return fmt.Errorf("save rx list %s: %w", path, err)
	}
	return nil
}

func (h *Handler) RxList() []RxListEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.rxList()
}

// LoadMapping replaces the whole mapping table.
func (h *Handler) LoadMapping(path string) error {
	if h.mappingLoader == nil {
		return ErrNoLoader
	}
	table, err := h.mappingLoader.Load(path)
	if err != nil {
		return fmt.Errorf("load mapping %s: %w", path, err)
	}
	h.SetMapping(table)
	h.log.Info("loaded mapping for %d frames from %s", table.Len(), path)
	return nil
}

func (h *Handler) SaveMapping(path string) error {
	if h.mappingLoader == nil {
		return ErrNoLoader
	}
	h.mu.Lock()
	table := h.table.Clone()
	h.mu.Unlock()
	if err := h.mappingLoader.Save(path, table); err != nil {
		return fmt.Errorf("save mapping %s: %w", path, err)
	}
	return nil
}

// SetMapping swaps in table. A nil table clears the mapping.
func (h *Handler) SetMapping(table *mapping.Table) {
	if table == nil {
		table = mapping.NewTable()
	}
	h.mu.Lock()
	h.table = table
	h.mu.Unlock()
}
