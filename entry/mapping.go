package entry

import (
	"fmt"

	"can-entry-core/mapping"
	"can-entry-core/utils"
)

// MapForFrame decodes the current payload of a TX entry, or of the last reception when isRx.
func (h *Handler) MapForFrame(id uint32, isRx bool) ([]mapping.Signal, error) {
	id = utils.MaskFrameID(id)
	h.mu.Lock()
	defer h.mu.Unlock()

	var data []byte
	if isRx {
		rx, ok := h.store.rx[id]
		if !ok {
			return nil, fmt.Errorf("%w: no reception of %X", ErrUnknownFrame, id)
		}
		data = rx.Data
	} else {
		i := h.store.indexOf(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: no tx entry %X", ErrUnknownFrame, id)
		}
		data = h.store.tx[i].Data
	}
	return h.table.Decode(id, data)
}

// ApplyFieldValues encodes values into the payload of TX entry id. Nothing changes on error.
func (h *Handler) ApplyFieldValues(id uint32, values map[string]string) error {
	id = utils.MaskFrameID(id)
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.store.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: no tx entry %X", ErrUnknownFrame, id)
	}
	e := h.store.tx[i]
	out, err := h.table.Encode(id, e.Data, values)
	if err != nil {
		return err
	}
	e.Data = out
	return nil
}

func (h *Handler) AddMappingField(id uint32, f mapping.Bitfield) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.table.Add(utils.MaskFrameID(id), f)
}

func (h *Handler) RemoveMappingField(id uint32, offset uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.table.Remove(utils.MaskFrameID(id), offset)
}

func (h *Handler) MappedFrames() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.table.FrameIDs()
}

func (h *Handler) MappedFields(id uint32) []mapping.Bitfield {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.table.Fields(utils.MaskFrameID(id))
}
