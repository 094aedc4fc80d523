package publish

import "github.com/chaz8081/blemux/internal/ble"

// OperationRecord is the published form of a completed operation.
type OperationRecord struct {
	Operation OperationFields `json:"BLEOperation"`
}

// OperationFields holds the record body. Empty fields are omitted.
type OperationFields struct {
	ID                   uint32 `json:"opid"`
	State                uint16 `json:"state"`
	StateName            string `json:"stateName"`
	MAC                  string `json:"MAC"`
	Service              string `json:"svc,omitempty"`
	Characteristic       string `json:"char,omitempty"`
	NotifyCharacteristic string `json:"notifychar,omitempty"`
	Wrote                string `json:"wrote,omitempty"`
	Read                 string `json:"read,omitempty"`
	ReadTruncated        bool   `json:"readtruncated,omitempty"`
	Notify               string `json:"notify,omitempty"`
	NotifyTruncated      bool   `json:"notifytruncated,omitempty"`
	RSSI                 *int   `json:"RSSI,omitempty"`
}

// NewOperationRecord snapshots op. It must be called on the goroutine that
// owns op, normally inside a completion handler.
func NewOperationRecord(op *ble.Operation) OperationRecord {
	state := op.State()
	f := OperationFields{
		ID:                   op.ID,
		State:                uint16(state),
		StateName:            state.String(),
		MAC:                  op.MAC,
		Service:              op.Service,
		Characteristic:       op.Characteristic,
		NotifyCharacteristic: op.NotifyCharacteristic,
		Wrote:                op.Write.String(),
		Read:                 op.ReadResult.String(),
		ReadTruncated:        op.ReadResult.Truncated(),
		Notify:               op.NotifyResult.String(),
		NotifyTruncated:      op.NotifyResult.Truncated(),
	}
	if op.HasRSSI {
		rssi := op.RSSI
		f.RSSI = &rssi
	}
	return OperationRecord{Operation: f}
}

// AdvertRecord is the published form of an unclaimed advertisement.
type AdvertRecord struct {
	Advert AdvertFields `json:"BLEAdvertisement"`
}

// AdvertFields holds the record body. Empty fields are omitted.
type AdvertFields struct {
	MAC          string            `json:"MAC"`
	AddressType  string            `json:"addrtype,omitempty"`
	RSSI         int               `json:"RSSI"`
	Name         string            `json:"name,omitempty"`
	Payload      string            `json:"payload,omitempty"`
	Manufacturer string            `json:"mfr,omitempty"`
	ServiceData  []ServiceDataJSON `json:"svcdata,omitempty"`
	Services     []string          `json:"services,omitempty"`
	Seen         int               `json:"seen"`
}

// ServiceDataJSON is one service-data entry of an AdvertRecord.
type ServiceDataJSON struct {
	UUID string `json:"uuid"`
	Data string `json:"data"`
}

// NewAdvertRecord copies what it needs out of a, which must not be kept.
func NewAdvertRecord(a *ble.Advertisement, seen int) AdvertRecord {
	f := AdvertFields{
		MAC:          a.Address,
		RSSI:         a.RSSI,
		Name:         a.Name,
		Payload:      a.Payload.String(),
		Manufacturer: a.ManufacturerData.String(),
		Services:     append([]string(nil), a.Services...),
		Seen:         seen,
	}
	if a.AddressType != ble.AddressUnknown {
		f.AddressType = a.AddressType.String()
	}
	for _, sd := range a.ServiceData {
		f.ServiceData = append(f.ServiceData, ServiceDataJSON{UUID: sd.UUID, Data: ble.HexDump(sd.Data)})
	}
	return AdvertRecord{Advert: f}
}
