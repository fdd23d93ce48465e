package sshbridge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/console"
	"pkt.systems/vtgrid/schema"
)

const (
	inputBufferSize = 1024

	enterAltScreen = "\x1b[?1049h\x1b[H\x1b[2J"
	exitAltScreen  = "\x1b[?1049l\x1b[?25h"
	showCursor     = "\x1b[?25h"
)

// Client is one connected SSH terminal, exposed as a pipeline
// presentation. The remote side already runs raw mode; interactive
// setup only toggles the alternate screen when the client's TERM
// supports it.
type Client struct {
	rw   io.ReadWriter
	term string
	caps schema.Capabilities
	log  pslog.Logger

	chunks chan []byte
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	cols        int
	rows        int
	resizeFn    func(cols, rows int)
	interactive bool
}

func newClient(rw io.ReadWriter, term string, environ []string, cols, rows int, log pslog.Logger) *Client {
	c := &Client{
		rw:     rw,
		term:   term,
		caps:   console.ProbeCapabilities(term, environValue(environ, "COLORTERM")),
		log:    log,
		chunks: make(chan []byte),
		done:   make(chan struct{}),
		cols:   cols,
		rows:   rows,
	}
	go c.pump()
	return c
}

// pump moves client keystrokes onto the chunk channel so ReadInput can
// honor its context. It exits when the SSH channel closes.
func (c *Client) pump() {
	defer close(c.chunks)
	buf := make([]byte, inputBufferSize)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.chunks <- data:
			case <-c.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Term returns the client's TERM value from the pty request.
func (c *Client) Term() string {
	return c.term
}

// Capabilities reports what the remote terminal claims to support.
func (c *Client) Capabilities() schema.Capabilities {
	return c.caps
}

// Size returns the most recent client window geometry.
func (c *Client) Size() (cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols, c.rows
}

// EnterInteractive switches the remote terminal to the alternate
// screen when supported.
func (c *Client) EnterInteractive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interactive {
		return nil
	}
	c.interactive = true
	if c.caps.AltScreen {
		if _, err := io.WriteString(c.rw, enterAltScreen); err != nil {
			return fmt.Errorf("enter alt screen: %w", err)
		}
	}
	return nil
}

// ExitInteractive restores the remote terminal.
func (c *Client) ExitInteractive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interactive {
		return nil
	}
	c.interactive = false
	if c.caps.AltScreen {
		_, _ = io.WriteString(c.rw, exitAltScreen)
	} else {
		_, _ = io.WriteString(c.rw, showCursor)
	}
	return nil
}

// WriteOutput sends rendered bytes to the client.
func (c *Client) WriteOutput(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.rw.Write(p); err != nil {
		return fmt.Errorf("ssh write: %w", err)
	}
	return nil
}

// ReadInput returns the next chunk of client input, io.EOF once the
// connection is gone, or the context error when ctx ends first.
func (c *Client) ReadInput(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.chunks:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// NotifyResize registers the pipeline's resize entry point. Window
// change messages from the client land here.
func (c *Client) NotifyResize(fn func(cols, rows int)) {
	c.mu.Lock()
	c.resizeFn = fn
	c.mu.Unlock()
}

func (c *Client) windowChanged(cols, rows int) {
	c.mu.Lock()
	c.cols = cols
	c.rows = rows
	fn := c.resizeFn
	c.mu.Unlock()
	if c.log != nil {
		c.log.Debug("client window change", "cols", cols, "rows", rows)
	}
	if fn != nil {
		fn(cols, rows)
	}
}

// Close releases the input pump. The SSH session itself is closed by
// the server.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func environValue(environ []string, key string) string {
	prefix := key + "="
	for _, entry := range environ {
		if strings.HasPrefix(entry, prefix) {
			return strings.TrimPrefix(entry, prefix)
		}
	}
	return ""
}
