package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ScannerOptions configures passive scanning.
type ScannerOptions struct {
	Window time.Duration // length of one scan window
	Pause  time.Duration // idle gap between windows, leaving room for operations
}

// DefaultScannerOptions returns sensible defaults.
func DefaultScannerOptions() ScannerOptions {
	return ScannerOptions{
		Window: 20 * time.Second,
		Pause:  time.Second,
	}
}

// ScanSummary describes one finished scan window.
type ScanSummary struct {
	Started        time.Time
	Duration       time.Duration
	Advertisements int
	Devices        int
	Claimed        int
	Discarded      int
	Preempted      bool // stopped early because an operation wanted the radio
}

// Scanner runs scan windows on the shared radio and distributes what it
// hears. Advertisement and scan-complete handlers run on the goroutine that
// calls ScanOnce or Run and must not block.
type Scanner struct {
	adapter Adapter
	radio   *Radio
	opts    ScannerOptions
	logger  *slog.Logger

	adverts   Registry[*Advertisement]
	completes Registry[*ScanSummary]
	unclaimed func(*Advertisement)
}

// NewScanner creates a scanner sharing radio with the engine.
func NewScanner(adapter Adapter, radio *Radio, opts ScannerOptions, logger *slog.Logger) *Scanner {
	def := DefaultScannerOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if radio == nil {
		radio = NewRadio()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{adapter: adapter, radio: radio, opts: opts, logger: logger}
}

// RegisterAdvertisementHandler adds a handler offered every advertisement.
// Returning ClaimedDiscard also keeps the advertisement from being surfaced.
func (s *Scanner) RegisterAdvertisementHandler(tag string, fn Handler[*Advertisement]) {
	s.adverts.Register(tag, fn)
	s.logger.Debug("[SCAN] advertisement handler registered", "tag", tag)
}

// RegisterScanCompleteHandler adds a handler offered every window summary.
func (s *Scanner) RegisterScanCompleteHandler(tag string, fn Handler[*ScanSummary]) {
	s.completes.Register(tag, fn)
	s.logger.Debug("[SCAN] scan-complete handler registered", "tag", tag)
}

// SetUnclaimedHandler sets where advertisements nobody claimed go. It must
// be set before scanning starts.
func (s *Scanner) SetUnclaimedHandler(fn func(*Advertisement)) {
	s.unclaimed = fn
}

// ScanOnce runs one scan window of at most window. The window ends early
// when ctx is done or an operation is waiting for the radio.
func (s *Scanner) ScanOnce(ctx context.Context, window time.Duration) (ScanSummary, error) {
	if err := s.radio.Acquire(ctx); err != nil {
		return ScanSummary{}, err
	}
	defer s.radio.Release()

	sum := ScanSummary{Started: time.Now()}
	// a demand signal left over from an operation that already ran
	select {
	case <-s.radio.Demand():
	default:
	}
	if s.radio.Contended() {
		sum.Preempted = true
		return sum, nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	var preempted bool
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-s.radio.Demand():
			preempted = true
			cancel()
		case <-scanCtx.Done():
		}
	}()

	var mu sync.Mutex
	seen := make(map[string]struct{})
	err := s.adapter.Scan(scanCtx, func(a *Advertisement) {
		v := s.dispatch(a)
		mu.Lock()
		defer mu.Unlock()
		sum.Advertisements++
		seen[a.Address] = struct{}{}
		switch v {
		case Claimed:
			sum.Claimed++
		case ClaimedDiscard:
			sum.Discarded++
		}
	})
	// the window ended on its own only if scanCtx was still live
	windowErr := scanCtx.Err()
	cancel()
	<-watchDone

	mu.Lock()
	sum.Devices = len(seen)
	mu.Unlock()
	sum.Duration = time.Since(sum.Started)
	sum.Preempted = preempted

	if err != nil && windowErr == nil {
		// failed windows are not offered to scan-complete handlers
		return sum, fmt.Errorf("ble: scan: %w", err)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("[SCAN] scan stopped with error", "error", err)
	}

	s.logger.Debug("[SCAN] window done", "adverts", sum.Advertisements, "devices", sum.Devices,
		"duration", sum.Duration.Round(time.Millisecond), "preempted", sum.Preempted)
	if v, tag := s.completes.Dispatch(&sum); v != Pass {
		s.logger.Debug("[SCAN] summary claimed", "tag", tag)
	}
	return sum, nil
}

// Run scans in back-to-back windows separated by the configured pause
// until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("[SCAN] scanner started", "window", s.opts.Window, "pause", s.opts.Pause)
	for {
		if _, err := s.ScanOnce(ctx, s.opts.Window); err != nil && ctx.Err() == nil {
			s.logger.Warn("[SCAN] scan window failed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.opts.Pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.Pause):
			}
		}
	}
}

func (s *Scanner) dispatch(a *Advertisement) Verdict {
	v, tag := s.adverts.Dispatch(a)
	if v != Pass {
		s.logger.Debug("[SCAN] advertisement claimed", "mac", a.Address, "tag", tag, "discard", v == ClaimedDiscard)
		return v
	}
	if s.unclaimed != nil {
		s.unclaimed(a)
	}
	return Pass
}
