package httpview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/schema"
)

type fakeSource struct {
	id   schema.SessionID
	grid *core.Grid
}

func (f *fakeSource) Session() schema.SessionID { return f.id }
func (f *fakeSource) Snapshot() core.Snapshot   { return f.grid.Snapshot() }
func (f *fakeSource) Elapsed() time.Duration    { return 1500 * time.Millisecond }

func newFakeSource(t *testing.T, input string) *fakeSource {
	t.Helper()
	grid := core.NewGrid(10, 4)
	parser := core.NewParser()
	for _, tok := range parser.Feed([]byte(input)) {
		grid.Apply(tok)
	}
	return &fakeSource{id: "test-session", grid: grid}
}

func TestScreenJSON(t *testing.T) {
	src := newFakeSource(t, "\x1b[31mhi")
	server := NewServer(func() Source { return src }, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/screen", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload screenPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Session != "test-session" {
		t.Fatalf("session = %q", payload.Session)
	}
	if payload.Cols != 10 || payload.Rows != 4 {
		t.Fatalf("geometry = %dx%d, want 10x4", payload.Cols, payload.Rows)
	}
	if payload.ElapsedMS != 1500 {
		t.Fatalf("elapsed_ms = %d, want 1500", payload.ElapsedMS)
	}
	first := payload.Cells[0][0]
	if first.Ch != "h" {
		t.Fatalf("cell(0,0) = %q, want h", first.Ch)
	}
	if first.FG != "#cd0000" {
		t.Fatalf("cell(0,0) fg = %q, want #cd0000", first.FG)
	}
	if first.Seq == 0 {
		t.Fatalf("cell(0,0) has no sequence stamp")
	}
}

func TestScreenText(t *testing.T) {
	src := newFakeSource(t, "hi\r\nthere")
	server := NewServer(func() Source { return src }, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screen.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "hi\nthere\n" {
		t.Fatalf("body = %q, want %q", got, "hi\nthere\n")
	}
}

func TestNoActiveSession(t *testing.T) {
	server := NewServer(func() Source { return nil }, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/screen", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestScreenRejectsPost(t *testing.T) {
	src := newFakeSource(t, "x")
	server := NewServer(func() Source { return src }, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/screen", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	bus := eventbus.New(nil)
	src := newFakeSource(t, "x")
	server := NewServer(func() Source { return src }, bus)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Handler().ServeHTTP(rec, req)
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(schema.DiagEvent{Kind: schema.DiagFrameComplete, Session: "test-session", Seq: 7, At: time.Now()})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "frame.complete") {
		t.Fatalf("stream body missing frame event: %q", body)
	}
	if !strings.Contains(body, "test-session") {
		t.Fatalf("stream body missing session id: %q", body)
	}
}
