package ptyproc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"pkt.systems/vtgrid/schema"
)

func collectOutput(t *testing.T, p *Proc, want []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []byte
	for {
		data, err := p.ReadOutput(ctx)
		out = append(out, data...)
		if want != nil && bytes.Contains(out, want) {
			return out
		}
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("ReadOutput: %v (collected %q)", err, out)
		}
	}
}

func TestStartReadsUntilEOF(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Command: []string{"sh", "-c", "printf hello"},
		Cols:    40,
		Rows:    10,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	out := collectOutput(t, p, nil)
	if !bytes.Contains(out, []byte("hello")) {
		t.Fatalf("output %q does not contain hello", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code %d, want 0", code)
	}
	if got, ok := p.ExitCode(); !ok || got != 0 {
		t.Fatalf("ExitCode = %d/%v, want 0/true", got, ok)
	}
}

func TestWriteInputReachesChild(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Command: []string{"sh", "-c", `read line; printf "got:%s" "$line"`},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	if err := p.WriteInput(context.Background(), []byte("ping\n")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	out := collectOutput(t, p, []byte("got:ping"))
	if !bytes.Contains(out, []byte("got:ping")) {
		t.Fatalf("output %q does not contain got:ping", out)
	}
}

func TestExitCodePropagates(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code %d, want 3", code)
	}
}

func TestReadOutputHonorsContext(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Command: []string{"sh", "-c", "sleep 5"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err = p.ReadOutput(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadOutput with expired context: %v", err)
	}
	if waited := time.Since(begin); waited > 2*time.Second {
		t.Fatalf("blocked read ignored the context for %v", waited)
	}
}

func TestCloseKillsRunningChild(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Command: []string{"sh", "-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.WriteInput(context.Background(), []byte("x")); !errors.Is(err, schema.ErrWorkloadExited) {
		t.Fatalf("WriteInput after Close: %v", err)
	}
	if err := p.Resize(90, 30); !errors.Is(err, schema.ErrWorkloadExited) {
		t.Fatalf("Resize after Close: %v", err)
	}
}

func TestFilterEnvRemovesKey(t *testing.T) {
	env := []string{"TERM=dumb", "HOME=/root", "TERMINFO=/usr/share"}
	got := filterEnv(env, "TERM")
	for _, entry := range got {
		if entry == "TERM=dumb" {
			t.Fatalf("TERM survived filtering: %v", got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("filtered env %v, want 2 entries", got)
	}
}

func TestResolveShellOverride(t *testing.T) {
	if got := resolveShell("/bin/dash"); got != "/bin/dash" {
		t.Fatalf("resolveShell override = %q", got)
	}
}
