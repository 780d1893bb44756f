// Package loader reads and writes the XML files holding the TX list, the RX list and the
// bit-field mapping.
package loader

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver"
)

// FormatVersion is written into every saved file.
const FormatVersion = "1.0.0"

// files written by any 1.x release can be read
const supportedVersions = "^1"

var (
	ErrMalformed          = errors.New("malformed file")
	ErrUnsupportedVersion = errors.New("unsupported file version")
)

// checkVersion accepts an empty version for files written before versioning.
func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, v, err)
	}
	c, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err
	}
	if !c.Check(ver) {
		return fmt.Errorf("%w: %s, require %s", ErrUnsupportedVersion, v, supportedVersions)
	}
	return nil
}

func readXML(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func writeXML(path string, v any) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
