package utils

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameID is the largest 29-bit (extended) CAN identifier.
const MaxFrameID = 0x1FFFFFFF

// MaskFrameID drops everything above the 29 identifier bits.
func MaskFrameID(id uint32) uint32 {
	return id & MaxFrameID
}

// FormatHexBytes renders data as upper-case byte pairs separated by spaces ("0A 1B").
func FormatHexBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ParseHexBytes accepts "0A 1B", "0a1b" or "0x0A,0x1B" style input.
func ParseHexBytes(s string) ([]byte, error) {
	r := strings.NewReplacer(" ", "", "\t", "", ",", "", "0x", "", "0X", "")
	clean := r.Replace(strings.TrimSpace(s))
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return out, nil
}

// ParseFrameID parses a hexadecimal frame id with or without a 0x prefix.
func ParseFrameID(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	ss = strings.TrimPrefix(strings.TrimPrefix(ss, "0x"), "0X")
	u, err := strconv.ParseUint(ss, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid frame id %q: %w", s, err)
	}
	if u > MaxFrameID {
		return 0, fmt.Errorf("frame id %q exceeds 29 bits", s)
	}
	return uint32(u), nil
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

// ParseUint32 accepts decimal or 0x-prefixed hexadecimal.
func ParseUint32(s string) (uint32, error) {
	return parseHexOrDecUint32(s)
}
