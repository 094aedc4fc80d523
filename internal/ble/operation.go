package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCanceled may be returned by OnReadModifyWrite to abandon the operation.
// It ends the operation in FAILED_CANCEL instead of FAILED_CANTWRITE.
var ErrCanceled = errors.New("ble: operation canceled")

// Operation is one connect/read/write/notify transaction against a remote
// device. The submitter fills the request fields and hands the Operation to
// Engine.Submit; from then on the engine owns it until OnComplete returns.
//
// Callers that need their own state in the callbacks capture it in the
// closures; the engine passes nothing else through.
type Operation struct {
	// Request.
	MAC                  string
	Service              string
	Characteristic       string
	NotifyCharacteristic string // empty: no notify phase
	Write                Buffer // empty: no write phase
	Read                 bool
	NotifyTimeout        time.Duration // zero: engine default

	// OnReadModifyWrite runs on the executor goroutine right after a
	// successful read and before the write, so it may rewrite Write from
	// ReadResult. It must not block or touch data owned by other goroutines
	// without synchronization.
	OnReadModifyWrite func(op *Operation) error

	// OnComplete runs exactly once, on the executor goroutine, after the
	// operation reaches a terminal state. Returning Claimed stops the result
	// from reaching the completion registry and the publisher.
	OnComplete func(op *Operation) Verdict

	// Results, written by the engine.
	ID             uint32
	ReadResult     Buffer
	NotifyResult   Buffer
	RSSI           int
	HasRSSI        bool
	NotifyDeadline time.Time

	mu        sync.Mutex
	state     State
	history   []State
	finished  bool // terminal state reached
	delivered bool // completion chain has run
	canceled  bool
	cancel    func()
}

// NewOperation returns an Operation addressed to mac/service/characteristic.
func NewOperation(mac, service, characteristic string) *Operation {
	return &Operation{MAC: mac, Service: service, Characteristic: characteristic}
}

// SetWrite copies p into the write payload. Payloads longer than
// MaxDataLen are rejected rather than silently truncated.
func (op *Operation) SetWrite(p []byte) error {
	if len(p) > MaxDataLen {
		return fmt.Errorf("ble: write payload %d bytes exceeds %d", len(p), MaxDataLen)
	}
	op.Write.Set(p)
	return nil
}

// State returns the current state. Safe for concurrent use.
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// History returns every state the operation has passed through, in order.
func (op *Operation) History() []State {
	op.mu.Lock()
	defer op.mu.Unlock()
	out := make([]State, len(op.history))
	copy(out, op.history)
	return out
}

// Done reports whether the operation has completed and every completion
// handler has returned. Only then may it be submitted again.
func (op *Operation) Done() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.delivered
}

func (op *Operation) isFinished() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.finished
}

func (op *Operation) wantsNotify() bool { return op.NotifyCharacteristic != "" }

func (op *Operation) wantsReadWrite() bool { return op.Read || op.Write.Len() > 0 }

// validate checks the request fields and normalizes the MAC.
func (op *Operation) validate() error {
	mac, err := NormalizeMAC(op.MAC)
	if err != nil {
		return err
	}
	op.MAC = mac
	if op.wantsReadWrite() || op.wantsNotify() {
		if err := ValidateUUID(op.Service); err != nil {
			return fmt.Errorf("service: %w", err)
		}
	}
	if op.wantsReadWrite() {
		if err := ValidateUUID(op.Characteristic); err != nil {
			return fmt.Errorf("characteristic: %w", err)
		}
	}
	if op.wantsNotify() {
		if err := ValidateUUID(op.NotifyCharacteristic); err != nil {
			return fmt.Errorf("notify characteristic: %w", err)
		}
	}
	if op.Write.Truncated() {
		return fmt.Errorf("write payload exceeds %d bytes", op.Write.Cap())
	}
	return nil
}

// reset prepares a freshly submitted operation.
func (op *Operation) reset(id uint32) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.ID = id
	op.state = StateStart
	op.history = []State{StateStart}
	op.finished = false
	op.delivered = false
	op.canceled = false
	op.cancel = nil
	op.ReadResult = NewBuffer(MaxDataLen)
	op.NotifyResult = NewBuffer(MaxDataLen)
	op.RSSI, op.HasRSSI = 0, false
	op.NotifyDeadline = time.Time{}
}

// advance moves the state machine forward. It reports false, and leaves the
// state unchanged, when the move would go backwards or leave a final state.
func (op *Operation) advance(next State) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.state.canAdvance(next) {
		return false
	}
	op.state = next
	op.history = append(op.history, next)
	return true
}

// finish marks the operation complete. It reports false if it already was.
func (op *Operation) finish() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finished {
		return false
	}
	op.finished = true
	op.cancel = nil
	return true
}

// deliver marks the completion chain as done.
func (op *Operation) deliver() {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.delivered = true
}

// setCancel installs the in-flight cancel func. A cancel requested before
// the operation started is applied immediately.
func (op *Operation) setCancel(cancel func()) {
	op.mu.Lock()
	op.cancel = cancel
	pending := op.canceled
	op.mu.Unlock()
	if pending {
		cancel()
	}
}

func (op *Operation) requestCancel() {
	op.mu.Lock()
	op.canceled = true
	cancel := op.cancel
	op.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
