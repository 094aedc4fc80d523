package ble

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"tinygo.org/x/bluetooth"
)

// maxAttrLen is the largest value a GATT read can return.
const maxAttrLen = 512

// TinyGoAdapter implements Adapter with tinygo-org/bluetooth.
// On macOS, device addresses are CoreBluetooth UUIDs rather than MACs; they
// are passed through unchanged.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	enabled bool

	// last RSSI heard per address, reported on connections
	rssi *lru.Cache
}

// NewTinyGoAdapter creates an adapter on the default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	cache, _ := lru.New(256) // only fails for a non-positive size
	return &TinyGoAdapter{
		adapter: bluetooth.DefaultAdapter,
		rssi:    cache,
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(ColonMAC(mac))

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A connect that completes after we gave up would hold the radio
		// with nobody to release it.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		conn := &tinyGoConnection{device: &result.device}
		if v, ok := a.rssi.Get(mac); ok {
			conn.rssi, conn.hasRSSI = v.(int), true
		}
		return conn, nil
	}
}

func (a *TinyGoAdapter) Scan(ctx context.Context, fn func(*Advertisement)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		adv := normalizeScanResult(result)
		a.rssi.Add(adv.Address, adv.RSSI)
		fn(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return ctx.Err()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

// normalizeScanResult converts a host-stack scan result into the fixed-shape
// record. Raw AD bytes are parsed when the stack exposes them; decoded
// fields from the stack fill whatever the raw bytes did not provide.
func normalizeScanResult(result bluetooth.ScanResult) *Advertisement {
	address := result.Address.String()
	if mac, err := NormalizeMAC(address); err == nil {
		address = mac
	}
	adv := NewAdvertisement(address, int(result.RSSI))

	if raw := result.Bytes(); len(raw) > 0 {
		_ = ParseAdvertisingData(adv, raw)
	}
	if adv.Name == "" {
		adv.Name = result.LocalName()
	}
	if adv.ManufacturerData.Len() == 0 {
		if mfr := result.ManufacturerData(); len(mfr) > 0 {
			// company id little-endian, as on the air
			buf := []byte{byte(mfr[0].CompanyID), byte(mfr[0].CompanyID >> 8)}
			adv.ManufacturerData.Set(append(buf, mfr[0].Data...))
		}
	}
	if len(adv.ServiceData) == 0 {
		for _, sd := range result.ServiceData() {
			adv.AddServiceData(sd.UUID.String(), sd.Data)
		}
	}
	return adv
}

// parseUUID accepts 16-bit ("180f"), 32-bit and full 128-bit UUID strings.
func parseUUID(s string) (bluetooth.UUID, error) {
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse uuid %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse uuid %q: %w", s, err)
		}
		return bluetooth.New32BitUUID(uint32(v)), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse uuid %q: %w", s, err)
	}
	return u, nil
}

type tinyGoConnection struct {
	device  *bluetooth.Device
	rssi    int
	hasRSSI bool
}

// DiscoverService resolves uuid. The host stacks report a filtered
// discovery that found nothing as an error, so every discovery error is
// classified as ErrNotFound.
func (c *tinyGoConnection) DiscoverService(uuid string) (Service, error) {
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("%w: service %s: %v", ErrNotFound, uuid, err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("%w: service %s", ErrNotFound, uuid)
	}
	return &tinyGoService{svc: svcs[0]}, nil
}

func (c *tinyGoConnection) RSSI() (int, bool) { return c.rssi, c.hasRSSI }

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) DiscoverCharacteristic(uuid string) (Characteristic, error) {
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("%w: characteristic %s: %v", ErrNotFound, uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotFound, uuid)
	}
	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttrLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Subscribe enables value updates. The host stacks pick notifications or
// indications from the characteristic's properties themselves, so both
// modes map to the same call.
func (c *tinyGoCharacteristic) Subscribe(_ SubscribeMode, cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
