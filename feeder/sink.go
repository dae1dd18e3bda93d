package feeder

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterSink prints each triggered prompt to W. With AlwaysReady it gives
// a dry run of a delivery without any external interface.
type WriterSink struct {
	W io.Writer

	mu      sync.Mutex
	pending string
	count   int
}

func (s *WriterSink) Inject(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = text
	return nil
}

func (s *WriterSink) Trigger(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	_, err := fmt.Fprintf(s.W, "----- submission %d -----\n%s\n", s.count, s.pending)
	s.pending = ""
	return err
}

// AlwaysReady is a ReadinessProbe for interfaces that never need pacing.
func AlwaysReady(context.Context) (bool, error) { return true, nil }
