// Package httpview serves a read-only live view of a pipeline session:
// the current screen as JSON or plain text, and session diagnostics as
// a server-sent event stream. It never accepts input.
package httpview

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/schema"
)

// Source is the session being viewed. *vtgrid.Pipeline satisfies it.
type Source interface {
	Session() schema.SessionID
	Snapshot() core.Snapshot
	Elapsed() time.Duration
}

// Server exposes one session over HTTP. The source func returns the
// session to view, or nil when none is active, so a long-running
// bridge can point the view at its most recent session.
type Server struct {
	source func() Source
	bus    *eventbus.Bus
}

// NewServer builds a view over the given source. A nil bus disables
// the event stream endpoint's traffic but keeps the endpoint.
func NewServer(source func() Source, bus *eventbus.Bus) *Server {
	return &Server{source: source, bus: bus}
}

// Handler returns the view's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/screen", s.handleScreen)
	mux.HandleFunc("/screen.txt", s.handleScreenText)
	mux.HandleFunc("/api/events", s.handleEvents)
	return withRequestLogging(mux)
}

type cellPayload struct {
	Ch    string `json:"ch,omitempty"`
	FG    string `json:"fg,omitempty"`
	BG    string `json:"bg,omitempty"`
	Attrs uint16 `json:"attrs,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
	MS    int64  `json:"ms,omitempty"`
}

type screenPayload struct {
	Session       schema.SessionID `json:"session"`
	Cols          int              `json:"cols"`
	Rows          int              `json:"rows"`
	CursorX       int              `json:"cursor_x"`
	CursorY       int              `json:"cursor_y"`
	CursorVisible bool             `json:"cursor_visible"`
	AltActive     bool             `json:"alt_active"`
	Seq           uint64           `json:"seq"`
	ElapsedMS     int64            `json:"elapsed_ms"`
	Cells         [][]cellPayload  `json:"cells"`
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	src, ok := s.currentSource(w, r)
	if !ok {
		return
	}
	snap := src.Snapshot()
	payload := screenPayload{
		Session:       src.Session(),
		Cols:          snap.Size.Cols,
		Rows:          snap.Size.Rows,
		CursorX:       snap.CursorX,
		CursorY:       snap.CursorY,
		CursorVisible: snap.CursorVisible,
		AltActive:     snap.AltActive,
		Seq:           snap.Seq,
		ElapsedMS:     src.Elapsed().Milliseconds(),
		Cells:         make([][]cellPayload, len(snap.Cells)),
	}
	started := snap.TakenAt
	for y, row := range snap.Cells {
		out := make([]cellPayload, len(row))
		for x, c := range row {
			out[x] = cellPayload{
				Ch:    c.Char,
				FG:    c.FG.Hex(),
				BG:    c.BG.Hex(),
				Attrs: uint16(c.Attrs),
				Seq:   c.Seq,
			}
			if c.Seq > 0 {
				out[x].MS = started.Sub(c.WrittenAt).Milliseconds()
			}
		}
		payload.Cells[y] = out
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleScreenText(w http.ResponseWriter, r *http.Request) {
	src, ok := s.currentSource(w, r)
	if !ok {
		return
	}
	snap := src.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, snap.String())
}

// eventPayload is one SSE data line on /api/events.
type eventPayload struct {
	Kind    schema.DiagKind  `json:"kind"`
	Session schema.SessionID `json:"session"`
	Cols    int              `json:"cols,omitempty"`
	Rows    int              `json:"rows,omitempty"`
	Seq     uint64           `json:"seq,omitempty"`
	At      time.Time        `json:"at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.bus == nil {
		<-r.Context().Done()
		return
	}
	ch, unsubscribe := s.bus.Subscribe("")
	defer unsubscribe()

	notify := r.Context().Done()
	log.Info("http event stream opened")
	for {
		select {
		case <-notify:
			log.Info("http event stream closed")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload := eventPayload{Kind: ev.Kind, Session: ev.Session, Seq: ev.Seq, At: ev.At}
			if ev.Size != nil {
				payload.Cols = ev.Size.Cols
				payload.Rows = ev.Size.Rows
			}
			if err := writeSSEvent(w, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) currentSource(w http.ResponseWriter, r *http.Request) (Source, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return nil, false
	}
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no active session"))
		return nil, false
	}
	src := s.source()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no active session"))
		return nil, false
	}
	return src, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, payload eventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
