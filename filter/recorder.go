// Package filter ships the built-in pipeline filters: session
// recording, the update-frequency heatmap, and trace logging.
package filter

import (
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/internal/recstore"
	"pkt.systems/vtgrid/schema"
)

// RecorderConfig describes one recording.
type RecorderConfig struct {
	// Session names the session in the recording header.
	Session schema.SessionID
	// Shell is recorded in the header for replay context.
	Shell string
	// KeystorePath enables at-rest encryption when non-empty.
	KeystorePath string
	// ExitCode, when set, supplies the workload exit status for the
	// final event.
	ExitCode func() (int, bool)
	// Log receives recorder lifecycle messages.
	Log pslog.Logger
}

// Recorder is a workload filter that writes the session to a recording
// store as it happens. The file is created on session start and sealed
// on session end.
type Recorder struct {
	store *recstore.Store
	cfg   RecorderConfig

	mu   sync.Mutex
	w    *recstore.Writer
	id   schema.RecordingID
	path string
}

// NewRecorder builds a recorder writing into store.
func NewRecorder(store *recstore.Store, cfg RecorderConfig) *Recorder {
	return &Recorder{store: store, cfg: cfg}
}

// Name identifies the filter in diagnostics.
func (r *Recorder) Name() schema.FilterName { return "recorder" }

// ID returns the recording id once the session has started.
func (r *Recorder) ID() (schema.RecordingID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id, r.id != ""
}

// Path returns the final recording path once the session has started.
func (r *Recorder) Path() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path, r.path != ""
}

func (r *Recorder) OnSessionStart(cols, rows int, startedAt time.Time) error {
	header := schema.RecordHeader{
		Session:   r.cfg.Session,
		StartedAt: startedAt,
		Cols:      cols,
		Rows:      rows,
		Shell:     r.cfg.Shell,
	}
	var w *recstore.Writer
	var err error
	if r.cfg.KeystorePath != "" {
		w, err = r.store.CreateEncrypted(header, r.cfg.KeystorePath)
	} else {
		w, err = r.store.Create(header)
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.w = w
	r.id = w.ID()
	r.path = w.Path()
	r.mu.Unlock()
	if r.cfg.Log != nil {
		r.cfg.Log.Debug("recording started", "recording", w.ID(), "encrypted", r.cfg.KeystorePath != "")
	}
	return nil
}

func (r *Recorder) OnOutput(tokens []core.Token, elapsed time.Duration) error {
	var data []byte
	for i := range tokens {
		data = append(data, tokens[i].Raw...)
	}
	if len(data) == 0 {
		return nil
	}
	return r.append(schema.RecordEvent{
		T:    schema.RecordOutput,
		MS:   elapsed.Milliseconds(),
		Data: data,
	})
}

func (r *Recorder) OnFrameComplete(elapsed time.Duration) error {
	return r.append(schema.RecordEvent{
		T:  schema.RecordFrame,
		MS: elapsed.Milliseconds(),
	})
}

func (r *Recorder) OnResize(cols, rows int, elapsed time.Duration) error {
	return r.append(schema.RecordEvent{
		T:    schema.RecordResize,
		MS:   elapsed.Milliseconds(),
		Cols: cols,
		Rows: rows,
	})
}

func (r *Recorder) OnSessionEnd(elapsed time.Duration) error {
	end := schema.RecordEvent{T: schema.RecordEnd, MS: elapsed.Milliseconds()}
	if r.cfg.ExitCode != nil {
		if code, ok := r.cfg.ExitCode(); ok {
			end.Exit = &code
		}
	}
	r.mu.Lock()
	w := r.w
	r.w = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	if err := w.Append(end); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (r *Recorder) append(ev schema.RecordEvent) error {
	r.mu.Lock()
	w := r.w
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Append(ev)
}

// InputSide returns the presentation-chain companion that records
// keyboard input into the same stream. Session lifecycle events are
// owned by the workload side, so the companion ignores them.
func (r *Recorder) InputSide() *InputRecorder {
	return &InputRecorder{r: r}
}

// InputRecorder records input bytes; see Recorder.InputSide.
type InputRecorder struct {
	r *Recorder
}

func (ir *InputRecorder) Name() schema.FilterName { return "recorder.input" }

func (ir *InputRecorder) OnSessionStart(cols, rows int, startedAt time.Time) error {
	return nil
}

func (ir *InputRecorder) OnInput(p []byte, elapsed time.Duration) error {
	return ir.r.append(schema.RecordEvent{
		T:    schema.RecordInput,
		MS:   elapsed.Milliseconds(),
		Data: p,
	})
}

func (ir *InputRecorder) OnResize(cols, rows int, elapsed time.Duration) error {
	return nil
}

func (ir *InputRecorder) OnSessionEnd(elapsed time.Duration) error {
	return nil
}
