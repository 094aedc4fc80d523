package ble

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSetTruncates(t *testing.T) {
	var b Buffer
	b.Set(bytes.Repeat([]byte{1}, 150))
	assert.Equal(t, MaxDataLen, b.Len())
	assert.True(t, b.Truncated())

	b.Set([]byte{1, 2, 3})
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.Truncated(), "a fitting Set clears the flag")

	b.Reset()
	assert.Zero(t, b.Len())
}

func TestBufferCustomLimit(t *testing.T) {
	b := NewBuffer(MaxManufacturLen)
	b.Set(make([]byte, 40))
	assert.Equal(t, MaxManufacturLen, b.Len())
	assert.Equal(t, MaxManufacturLen, b.Cap())
	assert.True(t, b.Truncated())
}

func TestBufferCopiesInput(t *testing.T) {
	src := []byte{0xAA, 0xBB}
	var b Buffer
	b.Set(src)
	src[0] = 0
	assert.Equal(t, "AABB", b.String())
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"001A22092EE0", "001A22092EE0", false},
		{"00:1a:22:09:2e:e0", "001A22092EE0", false},
		{"00-1A-22-09-2E-E0", "001A22092EE0", false},
		{" 001a22092ee0 ", "001A22092EE0", false},
		{"001A22092E", "", true},
		{"001A22092EEG", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColonMAC(t *testing.T) {
	assert.Equal(t, "00:1A:22:09:2E:E0", ColonMAC("001A22092EE0"))
	assert.Equal(t, "short", ColonMAC("short"))
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("180f"))
	assert.NoError(t, ValidateUUID(testService))
	assert.Error(t, ValidateUUID(""))
	assert.Error(t, ValidateUUID("18 0f"))
	assert.Error(t, ValidateUUID(string(bytes.Repeat([]byte{'a'}, MaxUUIDLen+1))))
	assert.NoError(t, ValidateUUID(string(bytes.Repeat([]byte{'a'}, MaxUUIDLen))))
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "", HexDump(nil))
	assert.Equal(t, "020109000428", HexDump([]byte{0x02, 0x01, 0x09, 0x00, 0x04, 0x28}))
	assert.Equal(t, "ABCDEF", HexDumpLimit([]byte{0xAB, 0xCD, 0xEF}, 6))
	assert.Equal(t, "ABCD...", HexDumpLimit([]byte{0xAB, 0xCD, 0xEF, 0x01}, 7))
	assert.Equal(t, "ABCDEF01", HexDumpLimit([]byte{0xAB, 0xCD, 0xEF, 0x01}, 0))
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"03", []byte{0x03}, false},
		{"0a 0b", []byte{0x0a, 0x0b}, false},
		{"0A:0B-0c", []byte{0x0a, 0x0b, 0x0c}, false},
		{"", []byte{}, false},
		{"abc", nil, true},
		{"zz", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
