package vtgrid

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/schema"
)

// Option adjusts a Pipeline at construction time.
type Option func(*Pipeline)

// WithSize sets the initial grid dimensions. New rejects dimensions
// below 1x1 with schema.ErrInvalidResize.
func WithSize(cols, rows int) Option {
	return func(p *Pipeline) {
		p.cols = cols
		p.rows = rows
	}
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id schema.SessionID) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.id = id
		}
	}
}

// WithLogger sets the logger for the pipeline and its flows.
func WithLogger(log pslog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithDiagnostics attaches a bus for out-of-band session events. A nil
// bus is valid and publishes nowhere.
func WithDiagnostics(bus *eventbus.Bus) Option {
	return func(p *Pipeline) {
		p.bus = bus
	}
}

// WithClock replaces the wall clock, pinning WrittenAt stamps and
// elapsed offsets in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithWorkloadFilter appends a filter to the output-side chain.
// Callback order follows registration order.
func WithWorkloadFilter(f WorkloadFilter) Option {
	return func(p *Pipeline) {
		p.workloadFilters = append(p.workloadFilters, f)
	}
}

// WithPresentationFilter appends a filter to the input-side chain.
func WithPresentationFilter(f PresentationFilter) Option {
	return func(p *Pipeline) {
		p.presentationFilters = append(p.presentationFilters, f)
	}
}

// WithFrameIdle sets the quiet window after which buffered workload
// output counts as a complete frame. Zero or negative keeps the
// default.
func WithFrameIdle(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.frameIdle = d
		}
	}
}
