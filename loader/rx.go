package loader

import (
	"encoding/xml"
	"fmt"

	"can-entry-core/entry"
	"can-entry-core/utils"
)

type rxFile struct {
	XMLName xml.Name  `xml:"CanRxList"`
	Version string    `xml:"version,attr,omitempty"`
	Frames  []rxFrame `xml:"Frame"`
}

type rxFrame struct {
	ID       string `xml:"Id"`
	Comment  string `xml:"Comment,omitempty"`
	LogLevel uint8  `xml:"LogLevel"`
}

// RxXML persists RX comments and recording levels.
type RxXML struct{}

func (RxXML) Load(path string) ([]entry.RxListEntry, error) {
	var f rxFile
	if err := readXML(path, &f); err != nil {
		return nil, err
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	out := make([]entry.RxListEntry, 0, len(f.Frames))
	for i, fr := range f.Frames {
		id, err := utils.ParseFrameID(fr.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrMalformed, i, err)
		}
		out = append(out, entry.RxListEntry{ID: id, Comment: fr.Comment, LogLevel: fr.LogLevel})
	}
	return out, nil
}

func (RxXML) Save(path string, list []entry.RxListEntry) error {
	f := rxFile{Version: FormatVersion, Frames: make([]rxFrame, 0, len(list))}
	for _, r := range list {
		f.Frames = append(f.Frames, rxFrame{ID: fmt.Sprintf("%X", r.ID), Comment: r.Comment, LogLevel: r.LogLevel})
	}
	return writeXML(path, f)
}
