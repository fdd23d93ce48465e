package recstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/vtgrid/schema"
)

func testHeader(session schema.SessionID) schema.RecordHeader {
	return schema.RecordHeader{
		Session:   session,
		StartedAt: time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC),
		Cols:      80,
		Rows:      24,
		Shell:     "/bin/sh",
	}
}

func TestWriterRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w, err := store.Create(testHeader("s1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Append(schema.RecordEvent{T: schema.RecordOutput, MS: 10, Data: []byte("hello")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(schema.RecordEvent{T: schema.RecordResize, MS: 20, Cols: 100, Rows: 30}); err != nil {
		t.Fatalf("append: %v", err)
	}
	exit := 0
	if err := w.Append(schema.RecordEvent{T: schema.RecordEnd, MS: 30, Exit: &exit}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(w.PartPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected part file to be renamed, stat err %v", err)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Fatalf("expected final file: %v", err)
	}

	r, err := store.Open(string(w.ID()), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()
	header := r.Header()
	if header.Session != "s1" || header.Cols != 80 || header.Rows != 24 {
		t.Fatalf("unexpected header: %+v", header)
	}
	if header.Version != schema.RecordHeaderVersion {
		t.Fatalf("expected version %d, got %d", schema.RecordHeaderVersion, header.Version)
	}
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.T != schema.RecordOutput || string(ev.Data) != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ev, err = r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.T != schema.RecordResize || ev.Cols != 100 || ev.Rows != 30 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ev, err = r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.T != schema.RecordEnd || ev.Exit == nil || *ev.Exit != 0 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keystore := filepath.Join(dir, "keys.bundle")
	store, err := NewStore(filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w, err := store.CreateEncrypted(testHeader("secret"), keystore)
	if err != nil {
		t.Fatalf("create encrypted: %v", err)
	}
	if err := w.Append(schema.RecordEvent{T: schema.RecordOutput, MS: 5, Data: []byte("top")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := store.Open(string(w.ID()), ""); !errors.Is(err, schema.ErrRecordingEncrypted) {
		t.Fatalf("expected encrypted error without keystore, got %v", err)
	}

	r, err := store.Open(string(w.ID()), keystore)
	if err != nil {
		t.Fatalf("open encrypted: %v", err)
	}
	defer func() { _ = r.Close() }()
	if !r.Header().Encrypted {
		t.Fatalf("expected encrypted header flag")
	}
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(ev.Data) != "top" {
		t.Fatalf("unexpected data %q", ev.Data)
	}
}

func TestReaderToleratesTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	content := `{"vtgrid":1,"session":"cut","started_at":"2026-03-01T10:00:00Z","cols":80,"rows":24}
{"t":"output","ms":1,"data":"aGk="}
{"t":"output","ms":2,"da`
	path := filepath.Join(dir, "cut.rec")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := store.Open("cut", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(ev.Data) != "hi" {
		t.Fatalf("unexpected data %q", ev.Data)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF on truncated tail, got %v", err)
	}
}

func TestListSkipsPartAndPeeksHeaders(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w, err := store.Create(testHeader("listed"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pending.rec.part"), []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "locked.rec.enc"), []byte("binary"), 0o600); err != nil {
		t.Fatalf("write enc: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	for _, entry := range entries {
		switch entry.ID {
		case "locked":
			if !entry.Encrypted || entry.HeaderOK {
				t.Fatalf("unexpected encrypted entry: %+v", entry)
			}
		case w.ID():
			if entry.Encrypted || !entry.HeaderOK {
				t.Fatalf("unexpected plain entry: %+v", entry)
			}
			if entry.Header.Session != "listed" {
				t.Fatalf("unexpected peeked session %q", entry.Header.Session)
			}
		default:
			t.Fatalf("unexpected entry id %q", entry.ID)
		}
	}
}

func TestRemoveAndResolve(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w, err := store.Create(testHeader("gone"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Remove(string(w.ID())); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Resolve(string(w.ID())); !errors.Is(err, schema.ErrRecordingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Remove("missing"); !errors.Is(err, schema.ErrRecordingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFollowDeliversAppendedEvents(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w, err := store.Create(testHeader("live"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan schema.RecordEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- store.Follow(ctx, string(w.ID()), func(ev schema.RecordEvent) error {
			got <- ev
			return nil
		})
	}()

	if err := w.Append(schema.RecordEvent{T: schema.RecordOutput, MS: 1, Data: []byte("a")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case ev := <-got:
		if ev.T != schema.RecordOutput || string(ev.Data) != "a" {
			t.Fatalf("unexpected first event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for tailed event")
	}

	if err := w.Append(schema.RecordEvent{T: schema.RecordEnd, MS: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("follow: %v", err)
	}
	select {
	case ev := <-got:
		if ev.T != schema.RecordEnd {
			t.Fatalf("expected end event, got %+v", ev)
		}
	default:
		t.Fatalf("expected end event to be delivered")
	}
}
