package filter

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/schema"
)

// Trace logs every pipeline callback. Per-batch noise goes out at
// trace level, lifecycle at debug. It implements both filter
// interfaces so it can observe either chain.
type Trace struct {
	log pslog.Logger

	mu       sync.Mutex
	batches  int
	frames   int
	bytesOut int64
	bytesIn  int64
}

// NewTrace builds the filter around the given logger.
func NewTrace(log pslog.Logger) *Trace {
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	return &Trace{log: log}
}

// Name identifies the filter in diagnostics.
func (t *Trace) Name() schema.FilterName { return "trace" }

func (t *Trace) OnSessionStart(cols, rows int, startedAt time.Time) error {
	if t.log != nil {
		t.log.Debug("trace session start", "cols", cols, "rows", rows)
	}
	return nil
}

func (t *Trace) OnOutput(tokens []core.Token, elapsed time.Duration) error {
	size := 0
	for i := range tokens {
		size += len(tokens[i].Raw)
	}
	t.mu.Lock()
	t.batches++
	t.bytesOut += int64(size)
	t.mu.Unlock()
	if t.log != nil {
		t.log.Trace("output batch", "tokens", len(tokens), "bytes", size, "ms", elapsed.Milliseconds())
	}
	return nil
}

func (t *Trace) OnFrameComplete(elapsed time.Duration) error {
	t.mu.Lock()
	t.frames++
	t.mu.Unlock()
	if t.log != nil {
		t.log.Trace("frame complete", "ms", elapsed.Milliseconds())
	}
	return nil
}

func (t *Trace) OnInput(p []byte, elapsed time.Duration) error {
	t.mu.Lock()
	t.bytesIn += int64(len(p))
	t.mu.Unlock()
	if t.log != nil {
		t.log.Trace("input", "bytes", len(p), "ms", elapsed.Milliseconds())
	}
	return nil
}

func (t *Trace) OnResize(cols, rows int, elapsed time.Duration) error {
	if t.log != nil {
		t.log.Debug("trace resize", "cols", cols, "rows", rows, "ms", elapsed.Milliseconds())
	}
	return nil
}

func (t *Trace) OnSessionEnd(elapsed time.Duration) error {
	t.mu.Lock()
	batches, frames := t.batches, t.frames
	bytesOut, bytesIn := t.bytesOut, t.bytesIn
	t.mu.Unlock()
	if t.log != nil {
		t.log.Debug("trace session end",
			"batches", batches,
			"frames", frames,
			"bytes_out", bytesOut,
			"bytes_in", bytesIn,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return nil
}
