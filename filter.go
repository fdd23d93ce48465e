package vtgrid

import (
	"time"

	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/schema"
)

// WorkloadFilter observes the output direction of a session. All
// timestamps are elapsed-relative so recordings replay
// deterministically. Callbacks run on the flow goroutine and should
// return quickly; a returned error is isolated and published on the
// diagnostics bus, and the remaining filters still run.
type WorkloadFilter interface {
	Name() schema.FilterName
	OnSessionStart(cols, rows int, startedAt time.Time) error
	OnOutput(tokens []core.Token, elapsed time.Duration) error
	OnFrameComplete(elapsed time.Duration) error
	OnResize(cols, rows int, elapsed time.Duration) error
	OnSessionEnd(elapsed time.Duration) error
}

// PresentationFilter observes the input direction of a session under
// the same isolation rules as WorkloadFilter.
type PresentationFilter interface {
	Name() schema.FilterName
	OnSessionStart(cols, rows int, startedAt time.Time) error
	OnInput(p []byte, elapsed time.Duration) error
	OnResize(cols, rows int, elapsed time.Duration) error
	OnSessionEnd(elapsed time.Duration) error
}
