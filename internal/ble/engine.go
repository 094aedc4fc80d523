package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Submission errors.
var (
	ErrQueueFull        = errors.New("ble: operation queue full")
	ErrInvalidOperation = errors.New("ble: invalid operation")
	ErrEngineClosed     = errors.New("ble: engine closed")
)

// EngineOptions configures the operation engine.
type EngineOptions struct {
	QueueSize      int           // max pending operations, excluding the one in flight
	ConnectTimeout time.Duration // bound on a single connect attempt
	NotifyTimeout  time.Duration // default notify wait when an operation sets none
}

// DefaultEngineOptions returns sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		QueueSize:      16,
		ConnectTimeout: 10 * time.Second,
		NotifyTimeout:  10 * time.Second,
	}
}

// Summary describes one operation for status reporting.
type Summary struct {
	ID                   uint32    `json:"opid"`
	State                State     `json:"state"`
	StateName            string    `json:"stateName"`
	MAC                  string    `json:"MAC"`
	Service              string    `json:"svc,omitempty"`
	Characteristic       string    `json:"char,omitempty"`
	NotifyCharacteristic string    `json:"notifychar,omitempty"`
	Started              time.Time `json:"started"`
}

// Snapshot is a read-only view of the engine.
type Snapshot struct {
	Queued    int      `json:"queued"`
	Current   *Summary `json:"current,omitempty"`
	Completed uint64   `json:"completed"`
	Failed    uint64   `json:"failed"`
}

// Engine serializes Operations onto the single radio. Submit, Cancel and
// Status are safe for concurrent use; Run is the one executor goroutine
// that drives operations and invokes every operation callback.
type Engine struct {
	adapter Adapter
	radio   *Radio
	opts    EngineOptions
	logger  *slog.Logger

	completions Registry[*Operation]
	unclaimed   func(*Operation)

	mu       sync.Mutex
	pending  []*Operation
	canceled []*Operation // removed from pending, completion not yet delivered
	current  *Operation
	started  time.Time
	closed   bool

	completed atomic.Uint64
	failed    atomic.Uint64
	nextID    atomic.Uint32
	running   atomic.Bool
	wake      chan struct{}
}

// NewEngine creates an engine driving adapter. The radio is shared with a
// Scanner if one is used; nil creates a private one.
func NewEngine(adapter Adapter, radio *Radio, opts EngineOptions, logger *slog.Logger) *Engine {
	def := DefaultEngineOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = def.NotifyTimeout
	}
	if radio == nil {
		radio = NewRadio()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		adapter: adapter,
		radio:   radio,
		opts:    opts,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// RegisterCompletionHandler adds a handler offered every completed
// operation that its own OnComplete did not claim.
func (e *Engine) RegisterCompletionHandler(tag string, fn Handler[*Operation]) {
	e.completions.Register(tag, fn)
	e.logger.Debug("[BLE] completion handler registered", "tag", tag)
}

// SetUnclaimedHandler sets where results nobody claimed are delivered,
// normally the publisher. It must be set before Run.
func (e *Engine) SetUnclaimedHandler(fn func(*Operation)) {
	e.unclaimed = fn
}

// Submit validates op, assigns its id and appends it to the queue. On
// success the engine owns op until its OnComplete has returned.
func (e *Engine) Submit(op *Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	if op.State() != StateIdle && !op.Done() {
		return fmt.Errorf("%w: operation %d still in progress", ErrInvalidOperation, op.ID)
	}
	if err := op.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if len(e.pending) >= e.opts.QueueSize {
		e.mu.Unlock()
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, e.opts.QueueSize)
	}
	op.reset(e.nextID.Add(1))
	e.pending = append(e.pending, op)
	queued := len(e.pending)
	e.mu.Unlock()

	e.signal()
	e.logger.Info("[BLE] operation queued", "opid", op.ID, "mac", op.MAC, "queued", queued)
	return nil
}

// Cancel cancels operation id. A queued operation is removed without
// touching the transport; the one in flight stops at its next suspension
// point. Either way it completes with FAILED_CANCEL.
func (e *Engine) Cancel(id uint32) error {
	e.mu.Lock()
	if e.current != nil && e.current.ID == id {
		op := e.current
		e.mu.Unlock()
		if op.isFinished() {
			return fmt.Errorf("ble: cancel operation %d: already complete: %w", id, ErrNotFound)
		}
		op.requestCancel()
		e.logger.Info("[BLE] cancel requested", "opid", id, "inflight", true)
		return nil
	}
	for i, op := range e.pending {
		if op.ID != id {
			continue
		}
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		e.canceled = append(e.canceled, op)
		e.mu.Unlock()
		e.signal()
		e.logger.Info("[BLE] cancel requested", "opid", id, "inflight", false)
		return nil
	}
	e.mu.Unlock()
	return fmt.Errorf("ble: cancel operation %d: %w", id, ErrNotFound)
}

// Status returns the queue depth and the operation in flight.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Queued:    len(e.pending),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
	if op := e.current; op != nil {
		state := op.State()
		snap.Current = &Summary{
			ID:                   op.ID,
			State:                state,
			StateName:            state.String(),
			MAC:                  op.MAC,
			Service:              op.Service,
			Characteristic:       op.Characteristic,
			NotifyCharacteristic: op.NotifyCharacteristic,
			Started:              e.started,
		}
	}
	return snap
}

// Run executes queued operations one at a time until ctx is done. When it
// returns, operations still queued complete with FAILED_CANCEL and further
// submissions fail with ErrEngineClosed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("ble: engine already running")
	}
	defer e.shutdown()

	e.logger.Info("[BLE] executor started", "queue_size", e.opts.QueueSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		op, canceled := e.next()
		for _, c := range canceled {
			e.complete(c, StateFailedCancel)
		}
		if op != nil {
			e.process(ctx, op)
			continue
		}
		if len(canceled) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		}
	}
}

// next pops the head of the queue and makes it current, and collects the
// operations canceled while queued.
func (e *Engine) next() (*Operation, []*Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	canceled := e.canceled
	e.canceled = nil
	if len(e.pending) == 0 {
		return nil, canceled
	}
	op := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	e.current = op
	e.started = time.Now()
	return op, canceled
}

func (e *Engine) process(ctx context.Context, op *Operation) {
	opCtx, cancel := context.WithCancel(ctx)
	op.setCancel(cancel)
	final := e.execute(opCtx, op)
	cancel()

	e.complete(op, final)

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

// execute drives op through the state machine and returns its terminal
// state. The connection, when one is opened, never outlives this call.
func (e *Engine) execute(ctx context.Context, op *Operation) State {
	if ctx.Err() != nil {
		return StateFailedCancel
	}
	if !op.wantsReadWrite() && !op.wantsNotify() {
		return StateReadDone
	}

	if err := e.radio.AcquireUrgent(ctx); err != nil {
		return StateFailedCancel
	}
	defer e.radio.Release()

	connectCtx, cancelConnect := context.WithTimeout(ctx, e.opts.ConnectTimeout)
	conn, err := e.adapter.Connect(connectCtx, op.MAC)
	cancelConnect()
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return e.fail(ctx, op, StateFailedNoDevice, err)
		}
		return e.fail(ctx, op, StateFailedConnect, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			e.logger.Warn("[BLE] disconnect failed", "opid", op.ID, "mac", op.MAC, "error", err)
		}
	}()
	if rssi, ok := conn.RSSI(); ok {
		op.RSSI, op.HasRSSI = rssi, true
	}
	e.logger.Debug("[BLE] connected", "opid", op.ID, "mac", op.MAC)

	svc, err := conn.DiscoverService(op.Service)
	if err != nil {
		return e.fail(ctx, op, notFoundOr(err, StateFailedNoService), err)
	}

	var rw Characteristic
	if op.wantsReadWrite() {
		if rw, err = svc.DiscoverCharacteristic(op.Characteristic); err != nil {
			return e.fail(ctx, op, notFoundOr(err, StateFailedNoRWChar), err)
		}
	}

	// Subscribe before writing so a reply to the write cannot be missed.
	var notified chan []byte
	var waitState State
	if op.wantsNotify() {
		nc, err := svc.DiscoverCharacteristic(op.NotifyCharacteristic)
		if err != nil {
			return e.fail(ctx, op, notFoundOr(err, StateFailedNoNotifyChar), err)
		}
		notified = make(chan []byte, 1)
		if waitState, err = subscribe(nc, func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			select {
			case notified <- cp:
			default: // only the first notification is kept
			}
		}); err != nil {
			return e.fail(ctx, op, waitState, err)
		}
	}

	if op.Read {
		data, err := rw.Read()
		if err != nil {
			return e.fail(ctx, op, unsupportedOr(err, StateFailedCantRead, StateFailedRead), err)
		}
		if ctx.Err() != nil {
			return StateFailedCancel
		}
		op.ReadResult.Set(data)
		op.advance(StateReadDone)
		e.logger.Debug("[BLE] read done", "opid", op.ID, "data", op.ReadResult.String(), "truncated", op.ReadResult.Truncated())

		if op.OnReadModifyWrite != nil {
			if err := op.OnReadModifyWrite(op); err != nil {
				if errors.Is(err, ErrCanceled) {
					return StateFailedCancel
				}
				return e.fail(ctx, op, StateFailedCantWrite, fmt.Errorf("read-modify-write: %w", err))
			}
			if op.Write.Truncated() {
				return e.fail(ctx, op, StateFailedCantWrite, fmt.Errorf("read-modify-write: payload exceeds %d bytes", op.Write.Cap()))
			}
		}
	}

	if op.Write.Len() > 0 {
		if rw == nil {
			// a write payload produced by OnReadModifyWrite on a notify-only
			// operation has no characteristic to go to
			return e.fail(ctx, op, StateFailedNoRWChar, errors.New("write without characteristic"))
		}
		if err := rw.Write(op.Write.Bytes()); err != nil {
			return e.fail(ctx, op, unsupportedOr(err, StateFailedCantWrite, StateFailedWrite), err)
		}
		if ctx.Err() != nil {
			return StateFailedCancel
		}
		op.advance(StateWriteDone)
		e.logger.Debug("[BLE] write done", "opid", op.ID, "data", op.Write.String())
	}

	if !op.wantsNotify() {
		return op.State()
	}
	return e.awaitNotify(ctx, op, waitState, notified)
}

func (e *Engine) awaitNotify(ctx context.Context, op *Operation, waitState State, notified <-chan []byte) State {
	timeout := op.NotifyTimeout
	if timeout <= 0 {
		timeout = e.opts.NotifyTimeout
	}
	op.NotifyDeadline = time.Now().Add(timeout)
	op.advance(waitState)
	e.logger.Debug("[BLE] waiting", "opid", op.ID, "state", waitState.String(), "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-notified:
		op.NotifyResult.Set(data)
		return StateNotified
	case <-timer.C:
		e.logger.Warn("[BLE] notify timeout", "opid", op.ID, "mac", op.MAC, "timeout", timeout)
		return StateFailedNotifyTimeout
	case <-ctx.Done():
		return StateFailedCancel
	}
}

// subscribe enables notifications, falling back to indications when the
// characteristic only supports those. It returns the wait state on success
// and the failure state otherwise.
func subscribe(c Characteristic, fn func([]byte)) (State, error) {
	err := c.Subscribe(ModeNotify, fn)
	if err == nil {
		return StateWaitNotify, nil
	}
	if !errors.Is(err, ErrNotSupported) {
		return StateFailedNotify, err
	}
	err = c.Subscribe(ModeIndicate, fn)
	switch {
	case err == nil:
		return StateWaitIndicate, nil
	case errors.Is(err, ErrNotSupported):
		return StateFailedCantNotifyOrIndic, err
	default:
		return StateFailedIndicate, err
	}
}

// fail logs a transport failure and returns its state, or FAILED_CANCEL when
// the failure was caused by cancellation.
func (e *Engine) fail(ctx context.Context, op *Operation, state State, err error) State {
	if ctx.Err() != nil {
		return StateFailedCancel
	}
	e.logger.Warn("[BLE] operation failed", "opid", op.ID, "mac", op.MAC, "state", state.String(), "error", err)
	return state
}

func notFoundOr(err error, state State) State {
	if errors.Is(err, ErrNotFound) {
		return state
	}
	return StateFailed
}

func unsupportedOr(err error, unsupported, other State) State {
	if errors.Is(err, ErrNotSupported) {
		return unsupported
	}
	return other
}

// complete moves op to its terminal state and delivers it exactly once:
// OnComplete first, then the completion registry, then the unclaimed sink.
// op cannot be resubmitted until the whole chain has returned.
func (e *Engine) complete(op *Operation, final State) {
	if op.State() != final && !op.advance(final) {
		e.logger.Error("[BLE] illegal terminal transition", "opid", op.ID, "from", op.State().String(), "to", final.String())
	}
	if !op.finish() {
		return
	}
	e.completed.Add(1)
	state := op.State()
	if state.IsFailure() {
		e.failed.Add(1)
	}
	e.logger.Info("[BLE] operation complete", "opid", op.ID, "mac", op.MAC, "state", state.String())
	defer op.deliver()

	if op.OnComplete != nil && op.OnComplete(op).claimed() {
		return
	}
	if v, tag := e.completions.Dispatch(op); v.claimed() {
		e.logger.Debug("[BLE] result claimed", "opid", op.ID, "tag", tag)
		return
	}
	if e.unclaimed != nil {
		e.unclaimed(op)
	}
}

// shutdown closes the queue and completes everything still pending.
func (e *Engine) shutdown() {
	e.mu.Lock()
	e.closed = true
	left := append(e.canceled, e.pending...)
	e.canceled, e.pending = nil, nil
	e.mu.Unlock()

	for _, op := range left {
		e.complete(op, StateFailedCancel)
	}
	e.running.Store(false)
	e.logger.Info("[BLE] executor stopped", "canceled", len(left))
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
