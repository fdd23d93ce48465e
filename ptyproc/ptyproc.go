// Package ptyproc runs a child process on a pseudo-terminal and
// exposes it as a pipeline workload. The child gets a real controlling
// terminal, so full-screen programs and multiplexers behave normally.
package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

const (
	readBufferSize = 4096
	escalateAfter  = 500 * time.Millisecond
)

// Config controls how the child process is spawned.
type Config struct {
	// Command is the argv to execute. Empty means the login shell.
	Command []string
	// Shell overrides the login shell path. Defaults to $SHELL, then
	// /bin/bash, then /bin/sh.
	Shell string
	// Dir is the working directory. Empty inherits the parent's.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the environment.
	Env []string
	// Term is the TERM value exported to the child.
	Term string
	// Cols and Rows size the terminal. Zero values fall back to 80x24.
	Cols int
	Rows int
}

// Proc is a running child process on a PTY. Implements the pipeline's
// Workload contract.
type Proc struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	log     pslog.Logger
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	closed   bool
	exited   bool
	exitCode int
	signal   string
}

// Start spawns the configured command on a new PTY. A shell launch uses
// the login-shell argv convention (argv0 is "-" plus the base name).
func Start(ctx context.Context, cfg Config) (*Proc, error) {
	log := pslog.Ctx(ctx)
	argv := cfg.Command
	if len(argv) == 0 {
		shell := resolveShell(cfg.Shell)
		argv = []string{shell}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("resolve command: %w", err)
	}

	cmd := exec.Command(path, argv[1:]...)
	if len(cfg.Command) == 0 {
		cmd.Args = []string{"-" + filepath.Base(path)}
	}
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	term := cfg.Term
	if term == "" {
		term = schema.DefaultTerm
	}
	env := filterEnv(os.Environ(), "TERM")
	env = append(env, "TERM="+term)
	env = append(env, cfg.Env...)
	cmd.Env = env

	size := schema.NormalizeSize(schema.Size{Cols: cfg.Cols, Rows: cfg.Rows})
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(size.Cols),
		Rows: uint16(size.Rows),
	})
	if err != nil {
		if log != nil {
			log.Error("pty start failed", "command", argv[0], "err", err)
		}
		return nil, fmt.Errorf("pty start: %w", err)
	}
	if log != nil {
		log.Info("pty started",
			"command", argv[0],
			"pid", cmd.Process.Pid,
			"cols", size.Cols,
			"rows", size.Rows,
			"term", term,
		)
	}

	p := &Proc{
		cmd:     cmd,
		ptmx:    ptmx,
		log:     log,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// reap collects the exit status as soon as the child terminates.
func (p *Proc) reap() {
	err := p.cmd.Wait()
	code := 0
	signal := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
				code = 128 + int(status.Signal())
			}
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.signal = signal
	p.mu.Unlock()
	if p.log != nil {
		fields := []any{
			"exit_code", code,
			"duration_ms", time.Since(p.started).Milliseconds(),
		}
		if signal != "" {
			fields = append(fields, "signal", signal)
		}
		p.log.Info("pty process exited", fields...)
	}
	close(p.done)
}

// ReadOutput reads the next chunk of terminal output. It returns io.EOF
// once the child has exited and the PTY buffer is drained, and the
// context error when ctx ends first.
func (p *Proc) ReadOutput(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = p.ptmx.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = p.ptmx.SetReadDeadline(time.Now())
	})
	buf := make([]byte, readBufferSize)
	n, err := p.ptmx.Read(buf)
	stop()
	if n > 0 {
		return buf[:n], mapReadErr(ctx, err)
	}
	return nil, mapReadErr(ctx, err)
}

func mapReadErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// Stale deadline from an earlier canceled read; not an error.
		return nil
	}
	// The master side reports EIO once the child is gone; that is the
	// stream's EOF.
	if errors.Is(err, syscall.EIO) {
		return io.EOF
	}
	return err
}

// WriteInput forwards input bytes to the child's terminal.
func (p *Proc) WriteInput(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	exited := p.exited || p.closed
	p.mu.Unlock()
	if exited {
		return schema.ErrWorkloadExited
	}
	if _, err := p.ptmx.Write(data); err != nil {
		if errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
			return schema.ErrWorkloadExited
		}
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

// Resize pushes new terminal dimensions to the kernel, which signals
// the child with SIGWINCH.
func (p *Proc) Resize(cols, rows int) error {
	p.mu.Lock()
	exited := p.exited || p.closed
	p.mu.Unlock()
	if exited {
		return schema.ErrWorkloadExited
	}
	err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	return nil
}

// Wait blocks until the child exits or ctx ends, returning the exit
// code. Children killed by a signal report 128 plus the signal number.
func (p *Proc) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ExitCode reports the exit status once the child has terminated.
func (p *Proc) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Close terminates the child if it is still running, escalating
// SIGHUP, SIGTERM, SIGKILL with a grace interval between each, then
// closes the PTY master.
func (p *Proc) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	exited := p.exited
	p.mu.Unlock()
	defer p.ptmx.Close()

	if exited {
		return nil
	}
	for _, sig := range []syscall.Signal{syscall.SIGHUP, syscall.SIGTERM, syscall.SIGKILL} {
		_ = p.cmd.Process.Signal(sig)
		select {
		case <-p.done:
			return nil
		case <-time.After(escalateAfter):
		}
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("process %d did not exit", p.cmd.Process.Pid)
	}
}

func resolveShell(override string) string {
	if override != "" {
		return override
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

func filterEnv(env []string, key string) []string {
	if len(env) == 0 {
		return env
	}
	prefix := key + "="
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
