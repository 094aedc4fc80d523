// Package publish turns operation results and advertisements nobody
// claimed into structured JSON records and writes them to a sink.
package publish

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives one encoded record under a topic.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// LineSink writes each record as a "topic payload" line. It is safe for
// concurrent use.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewLineSink returns a sink writing to w.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

// OpenSink opens the configured output: "-" or "" for stdout, otherwise a
// file that records are appended to.
func OpenSink(output string) (*LineSink, error) {
	if output == "" || output == "-" {
		return NewLineSink(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("publish: creating output dir: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("publish: opening output: %w", err)
	}
	return &LineSink{w: f, c: f}, nil
}

func (s *LineSink) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s %s\n", topic, payload); err != nil {
		return fmt.Errorf("publish: write record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the sink opened one.
func (s *LineSink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
