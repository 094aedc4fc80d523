package publish

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/chaz8081/blemux/internal/ble"
)

// AdvertOptions configures advertisement surfacing.
type AdvertOptions struct {
	PerSecond      float64       // sustained records per second, <= 0 means unlimited
	Burst          int           // records allowed at once
	SeenCacheSize  int           // devices remembered for de-duplication
	RepeatInterval time.Duration // min gap between two records for one device
}

// DefaultAdvertOptions returns sensible defaults.
func DefaultAdvertOptions() AdvertOptions {
	return AdvertOptions{
		PerSecond:      5,
		Burst:          10,
		SeenCacheSize:  256,
		RepeatInterval: time.Minute,
	}
}

type seenEntry struct {
	last  time.Time // zero until first published
	count int
}

// AdvertPublisher surfaces advertisements nobody claimed. A device is
// published at most once per repeat interval, and all devices together at
// most at the configured rate; a device that was rate limited is tried
// again on its next advertisement.
type AdvertPublisher struct {
	pub     *Publisher
	limiter *rate.Limiter
	seen    *lru.Cache
	repeat  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	suppressed uint64
	limited    uint64
}

// NewAdvertPublisher creates an advertisement publisher on top of pub.
func NewAdvertPublisher(pub *Publisher, opts AdvertOptions, logger *slog.Logger) (*AdvertPublisher, error) {
	def := DefaultAdvertOptions()
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = def.SeenCacheSize
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	limit := rate.Inf
	if opts.PerSecond > 0 {
		limit = rate.Limit(opts.PerSecond)
	}
	seen, err := lru.New(opts.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("publish: seen cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvertPublisher{
		pub:     pub,
		limiter: rate.NewLimiter(limit, opts.Burst),
		seen:    seen,
		repeat:  opts.RepeatInterval,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Offer publishes a if its device is due and the rate allows it. It
// reports whether a record was written.
func (p *AdvertPublisher) Offer(a *ble.Advertisement) (bool, error) {
	p.mu.Lock()
	now := p.now()
	e := &seenEntry{}
	if v, ok := p.seen.Get(a.Address); ok {
		e = v.(*seenEntry)
	} else {
		p.seen.Add(a.Address, e)
	}
	e.count++
	if !e.last.IsZero() && now.Sub(e.last) < p.repeat {
		p.suppressed++
		p.mu.Unlock()
		return false, nil
	}
	if !p.limiter.AllowN(now, 1) {
		p.limited++
		p.mu.Unlock()
		return false, nil
	}
	e.last = now
	rec := NewAdvertRecord(a, e.count)
	p.mu.Unlock()

	if err := p.pub.PublishJSON(rec); err != nil {
		return false, err
	}
	return true, nil
}

// HandleAdvertisement has the shape of the scanner's unclaimed handler.
func (p *AdvertPublisher) HandleAdvertisement(a *ble.Advertisement) {
	if _, err := p.Offer(a); err != nil {
		p.logger.Warn("[PUB] advertisement not published", "mac", a.Address, "error", err)
	}
}

// Stats returns the number of known devices and of advertisements held
// back by de-duplication and by the rate limit.
func (p *AdvertPublisher) Stats() (devices int, suppressed, limited uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen.Len(), p.suppressed, p.limited
}
