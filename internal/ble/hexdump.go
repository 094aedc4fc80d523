package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexDump renders b as contiguous upper-case hex, e.g. "020109000428".
func HexDump(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// HexDumpLimit is HexDump capped at maxChars characters. A capped dump ends
// in "..." so log lines stay bounded.
func HexDumpLimit(b []byte, maxChars int) string {
	if maxChars <= 0 || len(b)*2 <= maxChars {
		return HexDump(b)
	}
	n := (maxChars - 3) / 2
	if n < 0 {
		n = 0
	}
	return HexDump(b[:n]) + "..."
}

// ParseHex decodes a hex string. Whitespace, ':' and '-' separators are
// ignored so "03", "0a 0b" and "0A:0B" are all accepted.
func ParseHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':', '-':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("ble: parse hex %q: %w", s, err)
	}
	return b, nil
}
