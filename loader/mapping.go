package loader

import (
	"encoding/xml"
	"fmt"
	"strings"

	"can-entry-core/mapping"
	"can-entry-core/utils"
)

type mappingFile struct {
	XMLName xml.Name       `xml:"CanMapping"`
	Version string         `xml:"version,attr,omitempty"`
	Frames  []mappingFrame `xml:"Frame"`
}

type mappingFrame struct {
	ID     string         `xml:"id,attr"`
	Fields []mappingField `xml:"Field"`
}

type mappingField struct {
	Name   string  `xml:"Name"`
	Type   string  `xml:"Type"`
	Offset uint8   `xml:"Offset"`
	Size   uint8   `xml:"Size"`
	Min    *string `xml:"Min,omitempty"`
	Max    *string `xml:"Max,omitempty"`
}

// MappingXML persists the bit-field mapping table. Bounds are read in the field type's own
// domain; missing bounds default to the type's range.
type MappingXML struct{}

func (MappingXML) Load(path string) (*mapping.Table, error) {
	var f mappingFile
	if err := readXML(path, &f); err != nil {
		return nil, err
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	table := mapping.NewTable()
	for i, fr := range f.Frames {
		id, err := utils.ParseFrameID(fr.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrMalformed, i, err)
		}
		for _, fd := range fr.Fields {
			typ := mapping.ParseFieldType(fd.Type)
			bf := mapping.NewBitfield(strings.TrimSpace(fd.Name), typ, fd.Offset, fd.Size)
			if fd.Min != nil {
				if bf.Min, err = typ.ParseBound(*fd.Min); err != nil {
					return nil, fmt.Errorf("%w: frame %X field %s min: %v", ErrMalformed, id, bf.Name, err)
				}
			}
			if fd.Max != nil {
				if bf.Max, err = typ.ParseBound(*fd.Max); err != nil {
					return nil, fmt.Errorf("%w: frame %X field %s max: %v", ErrMalformed, id, bf.Name, err)
				}
			}
			if err = table.Add(id, bf); err != nil {
				return nil, fmt.Errorf("%w: frame %X: %v", ErrMalformed, id, err)
			}
		}
	}
	return table, nil
}

func (MappingXML) Save(path string, table *mapping.Table) error {
	f := mappingFile{Version: FormatVersion}
	for _, id := range table.FrameIDs() {
		fr := mappingFrame{ID: fmt.Sprintf("%X", id)}
		for _, bf := range table.Fields(id) {
			min, max := bf.Type.FormatBound(bf.Min), bf.Type.FormatBound(bf.Max)
			fr.Fields = append(fr.Fields, mappingField{
				Name:   bf.Name,
				Type:   bf.Type.String(),
				Offset: bf.Offset,
				Size:   bf.Size,
				Min:    &min,
				Max:    &max,
			})
		}
		f.Frames = append(f.Frames, fr)
	}
	return writeXML(path, f)
}
