package ble

import (
	"encoding/hex"
	"errors"
)

// ErrMalformedAD is returned when an AD structure overruns its packet.
var ErrMalformedAD = errors.New("ble: malformed advertising data")

// advertising data field types
const (
	adFlags            = 0x01
	adSomeUUID16       = 0x02
	adAllUUID16        = 0x03
	adSomeUUID32       = 0x04
	adAllUUID32        = 0x05
	adSomeUUID128      = 0x06
	adAllUUID128       = 0x07
	adShortName        = 0x08
	adCompleteName     = 0x09
	adServiceData16    = 0x16
	adServiceData32    = 0x20
	adServiceData128   = 0x21
	adManufacturerData = 0xFF
)

// ParseAdvertisingData fills name, services, service data and manufacturer
// data of a from the raw AD structures in b, and stores b as the payload.
// Fields already set on a (for example by a host stack that decoded the
// packet itself) are kept; parsed entries are appended after them, subject
// to the usual limits. Parsing stops at the first malformed structure; what
// was decoded before it is kept and ErrMalformedAD is returned.
func ParseAdvertisingData(a *Advertisement, b []byte) error {
	a.Payload.Set(b)
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 {
			// zero-length structures pad the rest of the packet
			return nil
		}
		if len(b) < 1+l {
			return ErrMalformedAD
		}
		t, d := b[1], b[2:1+l]
		switch t {
		case adSomeUUID16, adAllUUID16:
			addUUIDList(a, d, 2)
		case adSomeUUID32, adAllUUID32:
			addUUIDList(a, d, 4)
		case adSomeUUID128, adAllUUID128:
			addUUIDList(a, d, 16)
		case adShortName:
			if a.Name == "" {
				a.Name = string(d)
			}
		case adCompleteName:
			a.Name = string(d)
		case adServiceData16:
			addServiceData(a, d, 2)
		case adServiceData32:
			addServiceData(a, d, 4)
		case adServiceData128:
			addServiceData(a, d, 16)
		case adManufacturerData:
			if a.ManufacturerData.Len() == 0 {
				a.ManufacturerData.Set(d)
			}
		}
		b = b[1+l:]
	}
	return nil
}

func addUUIDList(a *Advertisement, d []byte, w int) {
	for len(d) >= w {
		a.AddService(FormatUUID(d[:w]))
		d = d[w:]
	}
}

func addServiceData(a *Advertisement, d []byte, w int) {
	if len(d) < w {
		return
	}
	a.AddServiceData(FormatUUID(d[:w]), d[w:])
}

// FormatUUID renders a little-endian UUID from the air as text: 16 and
// 32-bit UUIDs as plain hex ("180f"), 128-bit UUIDs in the dashed form.
func FormatUUID(le []byte) string {
	be := make([]byte, len(le))
	for i, c := range le {
		be[len(le)-1-i] = c
	}
	s := hex.EncodeToString(be)
	if len(be) != 16 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}
