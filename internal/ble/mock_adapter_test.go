package ble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// UUIDs of the test device, taken from a real thermostat exchange.
const (
	testMAC        = "001A22092EE0"
	testService    = "3e135142-654f-9090-134a-a6ff5bb77046"
	testChar       = "3fa4585a-ce4a-3bad-db4b-b8df8179ea09"
	testNotifyChar = "d0e8434d-cd29-0996-af41-6c90f4e0eb2a"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockCharacteristic serves a value, records writes and allows subscribing.
type mockCharacteristic struct {
	mu          sync.Mutex
	value       []byte
	readErr     error
	writeErr    error
	notifyErr   error
	indicateErr error
	writes      [][]byte
	modes       []SubscribeMode
	callback    func([]byte)

	// replyOnWrite is pushed to the subscriber of peer (or of this
	// characteristic when peer is nil) whenever a write succeeds.
	replyOnWrite []byte
	peer         *mockCharacteristic
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	cp := make([]byte, len(c.value))
	copy(cp, c.value)
	return cp, nil
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		c.mu.Unlock()
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	reply := c.replyOnWrite
	c.mu.Unlock()

	if reply != nil {
		c.notifyTarget().SimulateNotification(reply)
	}
	return nil
}

// notifyTarget is the characteristic replies go out on; set by the device.
func (c *mockCharacteristic) notifyTarget() *mockCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer != nil {
		return c.peer
	}
	return c
}

func (c *mockCharacteristic) Subscribe(mode SubscribeMode, cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
	if mode == ModeNotify && c.notifyErr != nil {
		return c.notifyErr
	}
	if mode == ModeIndicate && c.indicateErr != nil {
		return c.indicateErr
	}
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// mockService maps characteristic UUIDs to characteristics.
type mockService struct {
	chars map[string]*mockCharacteristic
}

func (s *mockService) DiscoverCharacteristic(uuid string) (Characteristic, error) {
	c, ok := s.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("mock: characteristic %q: %w", uuid, ErrNotFound)
	}
	return c, nil
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	adapter      *mockAdapter
	mac          string
	once         sync.Once
	disconnected atomic.Bool
}

func (c *mockConnection) DiscoverService(uuid string) (Service, error) {
	c.adapter.mu.Lock()
	defer c.adapter.mu.Unlock()
	s, ok := c.adapter.services[uuid]
	if !ok {
		return nil, fmt.Errorf("mock: service %q: %w", uuid, ErrNotFound)
	}
	return s, nil
}

func (c *mockConnection) RSSI() (int, bool) { return -60, true }

func (c *mockConnection) Disconnect() error {
	c.once.Do(func() {
		c.disconnected.Store(true)
		c.adapter.open.Add(-1)
	})
	return nil
}

// mockAdapter simulates the BLE adapter. Every connection sees the same
// device layout.
type mockAdapter struct {
	mu           sync.Mutex
	services     map[string]*mockService
	connectErr   error
	connectDelay map[string]time.Duration // per MAC
	connects     []string
	connections  []*mockConnection
	adverts      []*Advertisement
	scanErr      error

	open    atomic.Int32 // connections not yet disconnected
	maxOpen atomic.Int32
}

// newMockAdapter returns an adapter whose device exposes testService with a
// read/write characteristic and a notify characteristic.
func newMockAdapter() *mockAdapter {
	rw := &mockCharacteristic{value: []byte{0x01}}
	notify := &mockCharacteristic{}
	rw.peer = notify
	return &mockAdapter{
		services: map[string]*mockService{
			testService: {chars: map[string]*mockCharacteristic{
				testChar:       rw,
				testNotifyChar: notify,
			}},
		},
		connectDelay: make(map[string]time.Duration),
	}
}

func (a *mockAdapter) char(uuid string) *mockCharacteristic {
	return a.services[testService].chars[uuid]
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	a.mu.Lock()
	a.connects = append(a.connects, mac)
	delay := a.connectDelay[mac]
	err := a.connectErr
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	n := a.open.Add(1)
	for {
		cur := a.maxOpen.Load()
		if n <= cur || a.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	conn := &mockConnection{adapter: a, mac: mac}
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()
	return conn, nil
}

func (a *mockAdapter) Scan(ctx context.Context, fn func(*Advertisement)) error {
	a.mu.Lock()
	adverts, err := a.adverts, a.scanErr
	a.mu.Unlock()
	if err != nil {
		return err
	}
	for _, adv := range adverts {
		fn(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Connects returns the MACs connected to, in order (thread-safe).
func (a *mockAdapter) Connects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

func (a *mockAdapter) lastConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
