// Package vtgrid drives terminal traffic between a workload and a
// presentation through a token parser and a versioned cell grid.
// Adapters for both ends are owned by the caller; the pipeline owns
// the grid, the parser and the attached filter chains.
package vtgrid

import (
	"context"

	"pkt.systems/vtgrid/schema"
)

// Workload is the program side of a session, typically a process on a
// PTY. ReadOutput blocks until output is available or ctx is done;
// io.EOF marks the end of the stream.
type Workload interface {
	ReadOutput(ctx context.Context) ([]byte, error)
	WriteInput(ctx context.Context, p []byte) error
	Resize(cols, rows int) error
}

// Presentation is the display side of a session, typically a local
// console or an SSH client. ReadInput blocks until input is available
// or ctx is done; io.EOF ends the input flow only.
type Presentation interface {
	WriteOutput(ctx context.Context, p []byte) error
	ReadInput(ctx context.Context) ([]byte, error)
	EnterInteractive() error
	ExitInteractive() error
	Capabilities() schema.Capabilities
}

// ResizeNotifier is implemented by presentations that can detect
// geometry changes. The pipeline registers its resize entry point
// here during Start.
type ResizeNotifier interface {
	NotifyResize(fn func(cols, rows int))
}
