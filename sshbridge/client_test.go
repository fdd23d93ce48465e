package sshbridge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type testConn struct {
	r io.Reader

	mu  sync.Mutex
	out bytes.Buffer
}

func (c *testConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *testConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *testConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func newTestClient(t *testing.T, term string, environ []string) (*Client, *io.PipeWriter, *testConn) {
	t.Helper()
	pr, pw := io.Pipe()
	conn := &testConn{r: pr}
	client := newClient(conn, term, environ, 80, 24, nil)
	t.Cleanup(func() {
		_ = client.Close()
		_ = pw.Close()
	})
	return client, pw, conn
}

func TestClientReadInput(t *testing.T) {
	client, pw, _ := newTestClient(t, "xterm-256color", nil)

	go func() { _, _ = pw.Write([]byte("ls\r")) }()
	data, err := client.ReadInput(context.Background())
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if string(data) != "ls\r" {
		t.Fatalf("ReadInput = %q, want %q", data, "ls\r")
	}

	_ = pw.Close()
	if _, err := client.ReadInput(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadInput after close = %v, want io.EOF", err)
	}
}

func TestClientReadInputHonorsContext(t *testing.T) {
	client, _, _ := newTestClient(t, "xterm", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.ReadInput(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadInput = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("ReadInput did not return promptly")
	}
}

func TestClientCapabilities(t *testing.T) {
	client, _, _ := newTestClient(t, "xterm-256color", []string{"COLORTERM=truecolor"})

	caps := client.Capabilities()
	if !caps.TrueColor || !caps.Colors256 || !caps.AltScreen {
		t.Fatalf("capabilities = %+v, want truecolor/256/altscreen", caps)
	}
	if client.Term() != "xterm-256color" {
		t.Fatalf("Term = %q", client.Term())
	}
}

func TestClientInteractiveAltScreen(t *testing.T) {
	client, _, conn := newTestClient(t, "xterm", nil)

	if err := client.EnterInteractive(); err != nil {
		t.Fatalf("EnterInteractive: %v", err)
	}
	if !strings.Contains(conn.written(), "\x1b[?1049h") {
		t.Fatalf("enter did not switch to alternate screen: %q", conn.written())
	}
	if err := client.ExitInteractive(); err != nil {
		t.Fatalf("ExitInteractive: %v", err)
	}
	if !strings.Contains(conn.written(), "\x1b[?1049l") {
		t.Fatalf("exit did not leave alternate screen: %q", conn.written())
	}
}

func TestClientWindowChangeNotifies(t *testing.T) {
	client, _, _ := newTestClient(t, "xterm", nil)

	var gotCols, gotRows int
	client.NotifyResize(func(cols, rows int) {
		gotCols, gotRows = cols, rows
	})
	client.windowChanged(132, 43)
	if gotCols != 132 || gotRows != 43 {
		t.Fatalf("resize callback got %dx%d, want 132x43", gotCols, gotRows)
	}
	if cols, rows := client.Size(); cols != 132 || rows != 43 {
		t.Fatalf("Size = %dx%d, want 132x43", cols, rows)
	}
}

func TestAuthorizedKeysMatch(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh public key: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	sshOther, err := ssh.NewPublicKey(otherPub)
	if err != nil {
		t.Fatalf("ssh other public key: %v", err)
	}

	content := "# admin laptop\n\n" + string(ssh.MarshalAuthorizedKey(sshPub))
	path := filepath.Join(t.TempDir(), "authorized_keys")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write authorized keys: %v", err)
	}

	keys, err := LoadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("LoadAuthorizedKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("parsed %d keys, want 1", len(keys))
	}
	if !matchKey(keys, sshPub) {
		t.Fatalf("authorized key did not match")
	}
	if matchKey(keys, sshOther) {
		t.Fatalf("unauthorized key matched")
	}
}

func TestParseAuthorizedKeysRejectsGarbage(t *testing.T) {
	if _, err := ParseAuthorizedKeys([]byte("not a key\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}
