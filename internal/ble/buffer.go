package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Capacities of the fixed-shape records.
const (
	MaxDataLen       = 100 // write, read and notify buffers
	MaxUUIDLen       = 99
	MACLen           = 12 // hex characters, no separators
	MaxPayloadLen    = 62 // advertising data + scan response
	MaxManufacturLen = 31
	MaxServiceData   = 5
	MaxServices      = 5
)

// Buffer is a bounded byte container. Bytes beyond the limit are dropped and
// recorded in the truncated flag. The zero value holds up to MaxDataLen bytes.
type Buffer struct {
	data      []byte
	limit     int
	truncated bool
}

// NewBuffer returns an empty buffer holding at most limit bytes.
func NewBuffer(limit int) Buffer {
	return Buffer{limit: limit}
}

// Set replaces the contents with a copy of p, truncating at the limit.
func (b *Buffer) Set(p []byte) {
	limit := b.Cap()
	b.truncated = len(p) > limit
	if b.truncated {
		p = p[:limit]
	}
	b.data = append(b.data[:0], p...)
}

// Reset empties the buffer and clears the truncated flag.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.truncated = false
}

// Bytes returns the held bytes. The slice is only valid until the next Set.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of held bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the buffer limit.
func (b *Buffer) Cap() int {
	if b.limit <= 0 {
		return MaxDataLen
	}
	return b.limit
}

// Truncated reports whether the last Set dropped bytes.
func (b *Buffer) Truncated() bool { return b.truncated }

// String renders the contents as a hex dump.
func (b *Buffer) String() string { return HexDump(b.data) }

// NormalizeMAC accepts a 6-byte address with or without ':' or '-'
// separators and returns it as 12 upper-case hex characters.
func NormalizeMAC(s string) (string, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != MACLen {
		return "", fmt.Errorf("mac %q: want %d hex characters, got %d", s, MACLen, len(clean))
	}
	if _, err := hex.DecodeString(clean); err != nil {
		return "", fmt.Errorf("mac %q: %w", s, err)
	}
	return strings.ToUpper(clean), nil
}

// ColonMAC formats a normalized MAC as AA:BB:CC:DD:EE:FF.
func ColonMAC(mac string) string {
	if len(mac) != MACLen {
		return mac
	}
	var sb strings.Builder
	for i := 0; i < MACLen; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(mac[i : i+2])
	}
	return sb.String()
}

// ValidateUUID checks that s fits the identifier capacity and only contains
// hex digits and dashes. Both 16-bit ("180f") and 128-bit forms are allowed.
func ValidateUUID(s string) error {
	if s == "" {
		return fmt.Errorf("uuid is empty")
	}
	if len(s) > MaxUUIDLen {
		return fmt.Errorf("uuid %.16q...: %d characters exceeds %d", s, len(s), MaxUUIDLen)
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
		default:
			return fmt.Errorf("uuid %q: invalid character %q", s, r)
		}
	}
	return nil
}
