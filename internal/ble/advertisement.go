package ble

import "fmt"

// AddressType tells whether an advertiser uses a public or random address.
type AddressType uint8

const (
	AddressUnknown AddressType = iota
	AddressPublic
	AddressRandom
)

func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ServiceData is one service-data AD entry.
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is a normalized, fixed-shape summary of one received
// advertising report. It only lives for the duration of a dispatch;
// handlers that need any of it later must copy what they keep.
type Advertisement struct {
	Address          string // normalized MAC
	AddressType      AddressType
	RSSI             int
	Name             string // empty when the device did not advertise one
	Payload          Buffer
	ManufacturerData Buffer
	ServiceData      []ServiceData // at most MaxServiceData
	Services         []string      // at most MaxServices
}

// NewAdvertisement returns an empty record for address with the record's
// buffer limits applied.
func NewAdvertisement(address string, rssi int) *Advertisement {
	return &Advertisement{
		Address:          address,
		RSSI:             rssi,
		Payload:          NewBuffer(MaxPayloadLen),
		ManufacturerData: NewBuffer(MaxManufacturLen),
	}
}

// AddServiceData appends a service-data entry. Entries beyond MaxServiceData
// are dropped; the return value reports whether the entry was kept.
func (a *Advertisement) AddServiceData(uuid string, data []byte) bool {
	if len(a.ServiceData) >= MaxServiceData {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	a.ServiceData = append(a.ServiceData, ServiceData{UUID: uuid, Data: cp})
	return true
}

// AddService appends a bare service UUID, ignoring duplicates. Entries
// beyond MaxServices are dropped.
func (a *Advertisement) AddService(uuid string) bool {
	for _, s := range a.Services {
		if s == uuid {
			return true
		}
	}
	if len(a.Services) >= MaxServices {
		return false
	}
	a.Services = append(a.Services, uuid)
	return true
}

// HasService reports whether uuid appears in the service list or as a
// service-data key.
func (a *Advertisement) HasService(uuid string) bool {
	for _, s := range a.Services {
		if s == uuid {
			return true
		}
	}
	for _, sd := range a.ServiceData {
		if sd.UUID == uuid {
			return true
		}
	}
	return false
}

func (a *Advertisement) String() string {
	return fmt.Sprintf("%s rssi=%d name=%q payload=%s", a.Address, a.RSSI, a.Name, a.Payload.String())
}
