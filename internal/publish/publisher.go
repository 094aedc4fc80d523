package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/chaz8081/blemux/internal/ble"
)

// Publisher encodes records as JSON and hands them to a sink.
type Publisher struct {
	sink   Sink
	topic  string
	logger *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a publisher writing to sink under topic.
func NewPublisher(sink Sink, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{sink: sink, topic: topic, logger: logger}
}

// PublishJSON encodes v and publishes it.
func (p *Publisher) PublishJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish: encode record: %w", err)
	}
	if err := p.sink.Publish(p.topic, payload); err != nil {
		p.failed.Add(1)
		return err
	}
	p.published.Add(1)
	return nil
}

// PublishOperation publishes the record of op.
func (p *Publisher) PublishOperation(op *ble.Operation) error {
	return p.PublishJSON(NewOperationRecord(op))
}

// HandleOperation publishes op and logs failures. It has the shape of the
// engine's unclaimed-result handler.
func (p *Publisher) HandleOperation(op *ble.Operation) {
	if err := p.PublishOperation(op); err != nil {
		p.logger.Warn("[PUB] operation record not published", "opid", op.ID, "error", err)
		return
	}
	p.logger.Debug("[PUB] operation published", "opid", op.ID, "state", op.State().String())
}

// Published returns the number of records written.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Failed returns the number of records that could not be written.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }
