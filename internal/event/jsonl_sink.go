package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/re-cinq/loom/internal/errs"
)

// JSONLSink appends one JSON object per line to the file at the path it
// was opened with. Many goroutines may
// call Emit concurrently; a single background goroutine owns the file
// handle and does the actual write, so Emit only ever contends on a
// channel send, never a write syscall.
type JSONLSink struct {
	path    string
	eventCh chan Event
	errCh   chan error
	done    chan struct{}
	closeOnce sync.Once
}

// NewJSONLSink opens (creating parent directories as needed) the JSONL file
// at path in append mode and starts its background flusher.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating event log dir: %w", errs.ErrInternal)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log %s: %w", path, errs.ErrInternal)
	}

	s := &JSONLSink{
		path:    path,
		eventCh: make(chan Event, 256),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go s.run(f)
	return s, nil
}

func (s *JSONLSink) run(f *os.File) {
	defer close(s.done)
	defer f.Close()
	enc := json.NewEncoder(f)
	for e := range s.eventCh {
		if err := enc.Encode(e); err != nil {
			select {
			case s.errCh <- err:
			default:
			}
			continue
		}
		_ = f.Sync()
	}
}

// Emit enqueues e for the background flusher. It only blocks if the
// internal buffer (256 events) is full, never on the write itself.
func (s *JSONLSink) Emit(e Event) error {
	select {
	case err := <-s.errCh:
		return fmt.Errorf("previous event write failed: %w", err)
	default:
	}
	s.eventCh <- e
	return nil
}

// Close stops accepting new events, flushes the remainder, and closes the
// underlying file. Safe to call more than once.
func (s *JSONLSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.eventCh)
	})
	<-s.done
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}
