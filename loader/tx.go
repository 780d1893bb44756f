package loader

import (
	"encoding/xml"
	"fmt"
	"time"

	"can-entry-core/entry"
	"can-entry-core/utils"
)

type txFile struct {
	XMLName xml.Name  `xml:"CanTxList"`
	Version string    `xml:"version,attr,omitempty"`
	Frames  []txFrame `xml:"Frame"`
}

type txFrame struct {
	ID         string `xml:"Id"`
	Data       string `xml:"Data"`
	Period     int64  `xml:"Period"` // milliseconds
	Comment    string `xml:"Comment,omitempty"`
	SingleShot bool   `xml:"SingleShot,omitempty"`
	LogLevel   uint8  `xml:"LogLevel,omitempty"`
	Send       bool   `xml:"Send,omitempty"`
}

// TxXML persists the TX list.
type TxXML struct{}

func (TxXML) Load(path string) ([]entry.TxEntry, error) {
	var f txFile
	if err := readXML(path, &f); err != nil {
		return nil, err
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	out := make([]entry.TxEntry, 0, len(f.Frames))
	for i, fr := range f.Frames {
		id, err := utils.ParseFrameID(fr.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrMalformed, i, err)
		}
		data, err := utils.ParseHexBytes(fr.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %X: %v", ErrMalformed, id, err)
		}
		if len(data) > entry.MaxPayload {
			return nil, fmt.Errorf("%w: frame %X has %d data bytes", ErrMalformed, id, len(data))
		}
		if fr.Period < 0 {
			return nil, fmt.Errorf("%w: frame %X has negative period", ErrMalformed, id)
		}
		out = append(out, entry.TxEntry{
			ID:         id,
			Data:       data,
			Period:     time.Duration(fr.Period) * time.Millisecond,
			Comment:    fr.Comment,
			SingleShot: fr.SingleShot,
			LogLevel:   fr.LogLevel,
			Send:       fr.Send,
		})
	}
	return out, nil
}

func (TxXML) Save(path string, entries []entry.TxEntry) error {
	f := txFile{Version: FormatVersion, Frames: make([]txFrame, 0, len(entries))}
	for _, e := range entries {
		f.Frames = append(f.Frames, txFrame{
			ID:         fmt.Sprintf("%X", e.ID),
			Data:       utils.FormatHexBytes(e.Data),
			Period:     e.Period.Milliseconds(),
			Comment:    e.Comment,
			SingleShot: e.SingleShot,
			LogLevel:   e.LogLevel,
			Send:       e.Send,
		})
	}
	return writeXML(path, f)
}
