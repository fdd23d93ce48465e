package vtgrid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/internal/logx"
	"pkt.systems/vtgrid/schema"
)

const (
	defaultCols      = 80
	defaultRows      = 24
	defaultFrameIdle = 50 * time.Millisecond
)

// Pipeline connects a workload to a presentation. Output bytes are
// parsed into tokens, applied to the grid, fanned out to the workload
// filters and forwarded verbatim; input bytes travel the other way
// through the presentation filters. Each direction runs on its own
// goroutine and both stop cooperatively when the start context is
// canceled or the workload exits.
type Pipeline struct {
	workload     Workload
	presentation Presentation

	workloadFilters     []WorkloadFilter
	presentationFilters []PresentationFilter

	grid   *core.Grid
	parser *core.Parser
	bus    *eventbus.Bus
	log    pslog.Logger
	now    func() time.Time

	id        schema.SessionID
	cols      int
	rows      int
	frameIdle time.Duration

	mu        sync.Mutex
	started   bool
	closed    bool
	startedAt time.Time
	runErr    error

	resizeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	outDone chan struct{}
	inDone  chan struct{}
	done    chan struct{}
}

// New builds a pipeline around the given adapters. Filters and other
// behavior are supplied through options. The filter chains are fixed
// after construction.
func New(workload Workload, presentation Presentation, opts ...Option) (*Pipeline, error) {
	if workload == nil {
		return nil, schema.ErrNilWorkload
	}
	if presentation == nil {
		return nil, schema.ErrNilPresentation
	}
	p := &Pipeline{
		workload:     workload,
		presentation: presentation,
		log:          pslog.Ctx(context.Background()),
		now:          time.Now,
		id:           newSessionID(),
		cols:         defaultCols,
		rows:         defaultRows,
		frameIdle:    defaultFrameIdle,
		outDone:      make(chan struct{}),
		inDone:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	for _, f := range p.workloadFilters {
		if f == nil {
			return nil, schema.ErrNilFilter
		}
	}
	for _, f := range p.presentationFilters {
		if f == nil {
			return nil, schema.ErrNilFilter
		}
	}
	if err := schema.ValidateSize(schema.Size{Cols: p.cols, Rows: p.rows}); err != nil {
		return nil, err
	}
	p.grid = core.NewGrid(p.cols, p.rows, core.WithClock(p.now))
	p.parser = core.NewParser()
	return p, nil
}

// Start launches both flows. It fires every filter's session-start
// callback before any traffic moves. Starting twice or starting after
// Shutdown fails fast.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return schema.ErrPipelineClosed
	}
	if p.started {
		p.mu.Unlock()
		return schema.ErrPipelineStarted
	}
	ctx = pslog.ContextWithLogger(ctx, p.log)
	log := logx.WithSession(ctx, p.id)
	ctx = logx.ContextWithSessionLogger(ctx, log, p.id)
	p.log = log
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.startedAt = p.now()
	startedAt := p.startedAt
	p.mu.Unlock()

	if err := p.presentation.EnterInteractive(); err != nil {
		err = fmt.Errorf("enter interactive: %w", err)
		p.mu.Lock()
		p.closed = true
		p.runErr = err
		p.mu.Unlock()
		p.cancel()
		close(p.done)
		return err
	}

	size := p.grid.Size()
	p.fanoutWorkload(func(f WorkloadFilter) error {
		return f.OnSessionStart(size.Cols, size.Rows, startedAt)
	})
	p.fanoutPresentation(func(f PresentationFilter) error {
		return f.OnSessionStart(size.Cols, size.Rows, startedAt)
	})
	p.publish(schema.DiagEvent{Kind: schema.DiagSessionStart, Size: &size, At: startedAt})
	p.log.Info("session started", "cols", size.Cols, "rows", size.Rows)

	if notifier, ok := p.presentation.(ResizeNotifier); ok {
		notifier.NotifyResize(func(cols, rows int) {
			if err := p.Resize(cols, rows); err != nil {
				p.log.Warn("resize rejected", "cols", cols, "rows", rows, "err", err)
			}
		})
	}

	go p.outputFlow(p.ctx)
	go p.inputFlow(p.ctx)
	go p.finishWhenDone()
	return nil
}

// Wait blocks until the session has ended and every session-end
// callback has run. It returns the first unexpected adapter failure,
// or nil when the session ended by EOF or cancellation.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return schema.ErrPipelineNotStarted
	}
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

// Shutdown cancels both flows and waits for the session to end, or for
// ctx to expire. A pipeline that was never started is merely marked
// disposed. Shutdown is safe to call more than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resize validates the geometry, resizes the grid, informs the
// workload and then both filter chains. Resizing to the current
// geometry is a no-op. A workload that refuses the new size does not
// stop the propagation.
func (p *Pipeline) Resize(cols, rows int) error {
	if err := schema.ValidateSize(schema.Size{Cols: cols, Rows: rows}); err != nil {
		return err
	}
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return schema.ErrPipelineNotStarted
	}
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()
	cur := p.grid.Size()
	if cur.Cols == cols && cur.Rows == rows {
		return nil
	}
	if err := p.grid.Resize(cols, rows); err != nil {
		return err
	}
	if err := p.workload.Resize(cols, rows); err != nil {
		p.log.Warn("workload resize failed", "cols", cols, "rows", rows, "err", err)
	}
	elapsed := p.Elapsed()
	p.fanoutWorkload(func(f WorkloadFilter) error {
		return f.OnResize(cols, rows, elapsed)
	})
	p.fanoutPresentation(func(f PresentationFilter) error {
		return f.OnResize(cols, rows, elapsed)
	})
	p.publish(schema.DiagEvent{Kind: schema.DiagResize, Size: &schema.Size{Cols: cols, Rows: rows}})
	p.log.Debug("grid resized", "cols", cols, "rows", rows)
	return nil
}

// Snapshot returns a copy of the current screen state. Safe to call
// from any goroutine at any time.
func (p *Pipeline) Snapshot() core.Snapshot {
	return p.grid.Snapshot()
}

func (p *Pipeline) outputFlow(ctx context.Context) {
	defer close(p.outDone)
	log := logx.WithSessionFlow(ctx, p.id, schema.FlowOutput)
	flowCtx := logx.ContextWithSessionFlowLogger(ctx, log, p.id, schema.FlowOutput)
	pending := false
	reason := "eof"
	for {
		readCtx := flowCtx
		cancel := func() {}
		if pending {
			// A quiet window with buffered output marks the frame
			// boundary; the deadline bounds the blocking read.
			readCtx, cancel = context.WithTimeout(flowCtx, p.frameIdle)
		}
		data, err := p.workload.ReadOutput(readCtx)
		cancel()
		if len(data) > 0 {
			if werr := p.deliver(flowCtx, data); werr != nil {
				log.Warn("presentation write failed", "err", werr)
				p.noteErr(werr)
				reason = "write failed"
				break
			}
			pending = true
		}
		if err == nil {
			continue
		}
		if pending && ctx.Err() == nil && isIdleTimeout(err) {
			p.frameComplete()
			pending = false
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			reason = "eof"
		case ctx.Err() != nil:
			reason = "canceled"
		default:
			log.Warn("workload read failed", "err", err)
			p.noteErr(err)
			reason = "read failed"
		}
		break
	}
	if tokens := p.parser.Flush(); len(tokens) > 0 {
		for i := range tokens {
			p.grid.Apply(tokens[i])
		}
		elapsed := p.Elapsed()
		p.fanoutWorkload(func(f WorkloadFilter) error {
			return f.OnOutput(tokens, elapsed)
		})
		pending = true
	}
	if pending {
		p.frameComplete()
	}
	log.Debug("output flow ended", "reason", reason)
	p.publish(schema.DiagEvent{Kind: schema.DiagFlowEnd, Flow: schema.FlowOutput})
	// The session is over once the workload stops producing; unblock
	// the input side.
	p.cancel()
}

// deliver parses one chunk, applies every token, fans the batch out to
// the workload filters and forwards the raw bytes unmodified.
func (p *Pipeline) deliver(ctx context.Context, data []byte) error {
	tokens := p.parser.Feed(data)
	for i := range tokens {
		p.grid.Apply(tokens[i])
	}
	if len(tokens) > 0 {
		elapsed := p.Elapsed()
		p.fanoutWorkload(func(f WorkloadFilter) error {
			return f.OnOutput(tokens, elapsed)
		})
	}
	return p.presentation.WriteOutput(ctx, data)
}

func (p *Pipeline) frameComplete() {
	elapsed := p.Elapsed()
	p.fanoutWorkload(func(f WorkloadFilter) error {
		return f.OnFrameComplete(elapsed)
	})
	p.publish(schema.DiagEvent{Kind: schema.DiagFrameComplete, Seq: p.grid.LastSeq()})
}

func (p *Pipeline) inputFlow(ctx context.Context) {
	defer close(p.inDone)
	log := logx.WithSessionFlow(ctx, p.id, schema.FlowInput)
	flowCtx := logx.ContextWithSessionFlowLogger(ctx, log, p.id, schema.FlowInput)
	reason := "eof"
	for {
		data, err := p.presentation.ReadInput(flowCtx)
		if len(data) > 0 {
			elapsed := p.Elapsed()
			p.fanoutPresentation(func(f PresentationFilter) error {
				return f.OnInput(data, elapsed)
			})
			if werr := p.workload.WriteInput(flowCtx, data); werr != nil {
				if errors.Is(werr, schema.ErrWorkloadExited) {
					reason = "workload exited"
				} else {
					log.Warn("workload write failed", "err", werr)
					reason = "write failed"
				}
				break
			}
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			reason = "eof"
		case ctx.Err() != nil:
			reason = "canceled"
		default:
			log.Warn("presentation read failed", "err", err)
			reason = "read failed"
		}
		break
	}
	log.Debug("input flow ended", "reason", reason)
	p.publish(schema.DiagEvent{Kind: schema.DiagFlowEnd, Flow: schema.FlowInput})
}

func (p *Pipeline) finishWhenDone() {
	<-p.outDone
	<-p.inDone
	if err := p.presentation.ExitInteractive(); err != nil {
		p.log.Warn("exit interactive failed", "err", err)
	}
	elapsed := p.Elapsed()
	p.fanoutWorkload(func(f WorkloadFilter) error {
		return f.OnSessionEnd(elapsed)
	})
	p.fanoutPresentation(func(f PresentationFilter) error {
		return f.OnSessionEnd(elapsed)
	})
	p.publish(schema.DiagEvent{Kind: schema.DiagSessionEnd})
	p.log.Info("session ended", "elapsed", elapsed)
	close(p.done)
}

func (p *Pipeline) noteErr(err error) {
	p.mu.Lock()
	if p.runErr == nil {
		p.runErr = err
	}
	p.mu.Unlock()
}

func isIdleTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
