// Package ble multiplexes a single BLE radio between independent consumers.
// Consumers submit Operations (connect, read and/or write, optionally wait
// for a notification) to an Engine that runs them one at a time, and
// register handlers that are offered operation results and advertisements
// in registration order until one claims them.
package ble

import (
	"context"
	"errors"
)

// Transport errors the engine classifies into failure states.
var (
	// ErrNotFound is returned when a service or characteristic is absent.
	ErrNotFound = errors.New("ble: not found")
	// ErrNotSupported is returned when a characteristic does not allow the
	// requested access (read, write, notify or indicate).
	ErrNotSupported = errors.New("ble: not supported")
	// ErrNoDevice is returned by Connect when the device cannot be found.
	ErrNoDevice = errors.New("ble: no such device")
)

// SubscribeMode selects notifications or indications.
type SubscribeMode int

const (
	ModeNotify SubscribeMode = iota
	ModeIndicate
)

func (m SubscribeMode) String() string {
	if m == ModeIndicate {
		return "indicate"
	}
	return "notify"
}

// Characteristic represents a remote GATT characteristic.
type Characteristic interface {
	// Read returns the current value.
	Read() ([]byte, error)
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications or indications.
	Subscribe(mode SubscribeMode, callback func(data []byte)) error
}

// Service represents a remote GATT service.
type Service interface {
	// DiscoverCharacteristic finds a characteristic by UUID.
	DiscoverCharacteristic(uuid string) (Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverService finds a service by UUID.
	DiscoverService(uuid string) (Service, error)
	// RSSI returns the last known signal strength, if the stack reports one.
	RSSI() (int, bool)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Connect establishes a connection to the device with the given
	// normalized MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
	// Scan reports advertisements to fn until ctx is done. The record
	// passed to fn must not be retained after fn returns.
	Scan(ctx context.Context, fn func(*Advertisement)) error
}
