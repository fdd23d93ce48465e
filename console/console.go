// Package console drives the local terminal as a presentation
// endpoint: raw mode in, verbatim bytes out, window changes reported
// through the pipeline's resize callback.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	inputBufferSize     = 1024

	enterAltScreen = "\x1b[?1049h\x1b[H\x1b[2J"
	exitAltScreen  = "\x1b[?1049l\x1b[?25h"
	showCursor     = "\x1b[?25h"
)

// Config adjusts console behavior.
type Config struct {
	// PollInterval bounds how long a blocked input read can outlive a
	// canceled context. Zero means 50ms.
	PollInterval time.Duration
	// PreserveOutput keeps kernel output post-processing (ONLCR) active
	// while the input side runs raw. Useful when replaying streams that
	// carry bare newlines.
	PreserveOutput bool
}

// Console is a local-terminal presentation. Implements the pipeline's
// Presentation contract and its resize notification.
type Console struct {
	in   *os.File
	out  *os.File
	log  pslog.Logger
	poll time.Duration
	caps schema.Capabilities
	cfg  Config

	mu        sync.Mutex
	rawState  *term.State
	raw       bool
	resizeFn  func(cols, rows int)
	winch     chan os.Signal
	winchDone chan struct{}
}

// New wires the console to the process's stdin/stdout. Both must be
// terminals.
func New(ctx context.Context, cfg Config) (*Console, error) {
	if !isTerminal(os.Stdin) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}
	if !isTerminal(os.Stdout) {
		return nil, fmt.Errorf("stdout is not a terminal")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Console{
		in:   os.Stdin,
		out:  os.Stdout,
		log:  pslog.Ctx(ctx),
		poll: poll,
		caps: ProbeCapabilities(os.Getenv("TERM"), os.Getenv("COLORTERM")),
		cfg:  cfg,
	}, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ProbeCapabilities derives terminal capabilities from the TERM and
// COLORTERM environment values.
func ProbeCapabilities(termEnv, colorterm string) schema.Capabilities {
	termEnv = strings.ToLower(termEnv)
	colorterm = strings.ToLower(colorterm)
	caps := schema.Capabilities{}
	if termEnv == "" || termEnv == "dumb" {
		return caps
	}
	caps.AltScreen = true
	caps.Colors256 = strings.Contains(termEnv, "256color")
	if colorterm == "truecolor" || colorterm == "24bit" {
		caps.TrueColor = true
		caps.Colors256 = true
	}
	xtermish := strings.HasPrefix(termEnv, "xterm") ||
		strings.HasPrefix(termEnv, "screen") ||
		strings.HasPrefix(termEnv, "tmux") ||
		strings.HasPrefix(termEnv, "rxvt") ||
		strings.HasPrefix(termEnv, "alacritty") ||
		strings.HasPrefix(termEnv, "foot") ||
		strings.HasPrefix(termEnv, "wezterm") ||
		strings.HasPrefix(termEnv, "ghostty") ||
		strings.HasPrefix(termEnv, "kitty")
	caps.Mouse = xtermish
	caps.BracketedPaste = xtermish
	return caps
}

// Capabilities reports what the attached terminal supports.
func (c *Console) Capabilities() schema.Capabilities {
	return c.caps
}

// Size probes the current terminal geometry.
func (c *Console) Size() (cols, rows int, err error) {
	ws, err := unix.IoctlGetWinsize(int(c.out.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, fmt.Errorf("winsize: %w", err)
	}
	return int(ws.Col), int(ws.Row), nil
}

// EnterInteractive switches the terminal to raw mode and, when the
// terminal supports it, to the alternate screen.
func (c *Console) EnterInteractive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw {
		return nil
	}
	state, err := term.MakeRaw(int(c.in.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	c.rawState = state
	c.raw = true
	if c.cfg.PreserveOutput {
		if err := c.restoreOutputProcessing(); err != nil && c.log != nil {
			c.log.Warn("output post-processing restore failed", "err", err)
		}
	}
	if c.caps.AltScreen {
		_, _ = io.WriteString(c.out, enterAltScreen)
	}
	if c.log != nil {
		c.log.Debug("console raw mode on", "alt_screen", c.caps.AltScreen)
	}
	return nil
}

// ExitInteractive restores the terminal: leave the alternate screen,
// show the cursor, drain unread input, drop raw mode.
func (c *Console) ExitInteractive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.raw {
		return nil
	}
	if c.caps.AltScreen {
		_, _ = io.WriteString(c.out, exitAltScreen)
	} else {
		_, _ = io.WriteString(c.out, showCursor)
	}
	c.drainInput()
	err := term.Restore(int(c.in.Fd()), c.rawState)
	c.raw = false
	c.rawState = nil
	c.stopWinchLocked()
	if c.log != nil {
		c.log.Debug("console raw mode off")
	}
	if err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}

// restoreOutputProcessing re-enables ONLCR after MakeRaw cleared it, so
// written newlines still expand to CRLF.
func (c *Console) restoreOutputProcessing() error {
	fd := int(c.out.Fd())
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Oflag |= unix.OPOST | unix.ONLCR
	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}

// drainInput discards whatever is pending on stdin so a half-typed
// escape sequence does not leak into the shell after exit.
func (c *Console) drainInput() {
	fd := int32(c.in.Fd())
	buf := make([]byte, inputBufferSize)
	for {
		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil || n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			return
		}
		if _, err := c.in.Read(buf); err != nil {
			return
		}
	}
}

// WriteOutput forwards workload bytes to the terminal unmodified.
func (c *Console) WriteOutput(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.out.Write(p); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// ReadInput returns the next chunk of keyboard input. The read is
// bounded by the poll interval, so a canceled context is noticed
// within that bound.
func (c *Console) ReadInput(ctx context.Context) ([]byte, error) {
	fd := int32(c.in.Fd())
	pollMS := int(c.poll / time.Millisecond)
	if pollMS < 1 {
		pollMS = 1
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return nil, fmt.Errorf("console poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 &&
			fds[0].Revents&unix.POLLIN == 0 {
			return nil, io.EOF
		}
		buf := make([]byte, inputBufferSize)
		r, err := c.in.Read(buf)
		if r > 0 {
			return buf[:r], nil
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return nil, err
		}
		return nil, io.EOF
	}
}

// NotifyResize registers the pipeline's resize callback and starts
// watching SIGWINCH.
func (c *Console) NotifyResize(fn func(cols, rows int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizeFn = fn
	if c.winch != nil {
		return
	}
	c.winch = make(chan os.Signal, 1)
	c.winchDone = make(chan struct{})
	signal.Notify(c.winch, syscall.SIGWINCH)
	go c.watchWinch(c.winch, c.winchDone)
}

func (c *Console) watchWinch(ch chan os.Signal, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			cols, rows, err := c.Size()
			if err != nil {
				if c.log != nil {
					c.log.Warn("winsize probe failed", "err", err)
				}
				continue
			}
			c.mu.Lock()
			fn := c.resizeFn
			c.mu.Unlock()
			if fn != nil {
				fn(cols, rows)
			}
		}
	}
}

func (c *Console) stopWinchLocked() {
	if c.winch == nil {
		return
	}
	signal.Stop(c.winch)
	close(c.winchDone)
	c.winch = nil
	c.winchDone = nil
}
