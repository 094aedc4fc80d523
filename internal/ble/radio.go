package ble

import (
	"context"
	"sync/atomic"
)

// Radio is the lease on the single physical radio. The executor holds it
// for one operation at a time and the scanner for one scan window at a
// time; nothing else touches the transport.
type Radio struct {
	sem     chan struct{}
	waiting atomic.Int32
	demand  chan struct{}
}

// NewRadio returns an idle radio.
func NewRadio() *Radio {
	return &Radio{
		sem:    make(chan struct{}, 1),
		demand: make(chan struct{}, 1),
	}
}

// Acquire blocks until the radio is free or ctx is done.
func (r *Radio) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireUrgent is Acquire for operations: while it waits, holders that
// watch Demand are asked to give the radio back early.
func (r *Radio) AcquireUrgent(ctx context.Context) error {
	r.waiting.Add(1)
	defer r.waiting.Add(-1)
	select {
	case r.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case r.demand <- struct{}{}:
	default:
	}
	return r.Acquire(ctx)
}

// Release gives the radio back.
func (r *Radio) Release() {
	select {
	case <-r.sem:
	default:
		panic("ble: release of idle radio")
	}
}

// Demand is signalled when an operation is waiting for the radio.
func (r *Radio) Demand() <-chan struct{} { return r.demand }

// Contended reports whether an operation is waiting for the radio.
func (r *Radio) Contended() bool { return r.waiting.Load() > 0 }
