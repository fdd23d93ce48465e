// Package sshbridge serves pipeline sessions to SSH clients. Every
// connection with a pty request becomes one presentation endpoint
// handed to the Accept callback, which wires it to a workload.
package sshbridge

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

// AcceptFunc runs one client session. The client is a live pipeline
// presentation; the callback owns the workload and pipeline lifetime
// and returns when the session is over.
type AcceptFunc func(ctx context.Context, client *Client) error

// Server exposes vtgrid sessions over SSH.
type Server struct {
	Addr        string
	HostKeyPath string
	// AuthorizedKeysPath enables public-key auth when non-empty. An
	// empty path accepts any client.
	AuthorizedKeysPath string
	Listener           net.Listener
	Accept             AcceptFunc

	authorized []ssh.PublicKey
	logger     pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context
// cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Accept == nil {
		return errors.New("accept callback is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if s.AuthorizedKeysPath != "" {
		keys, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
		if err != nil {
			return err
		}
		s.authorized = keys
		server.PublicKeyHandler = s.handlePublicKey
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	fingerprint := ssh.FingerprintSHA256(key)
	log = log.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", fingerprint)
	if sshSession := ctx.SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	if !matchKey(s.authorized, key) {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	remote := sess.RemoteAddr().String()
	log = log.With("user", sess.User(), "remote", remote)
	sshSession := sess.Context().SessionID()
	if sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}

	size := schema.NormalizeSize(schema.Size{Cols: pty.Window.Width, Rows: pty.Window.Height})
	log.Info("ssh session opened", "term", pty.Term, "cols", size.Cols, "rows", size.Rows)

	client := newClient(sess, pty.Term, sess.Environ(), size.Cols, size.Rows, log)
	defer func() { _ = client.Close() }()

	// The channel closes with the session, after Accept has returned.
	go func() {
		for win := range winCh {
			client.windowChanged(win.Width, win.Height)
		}
	}()

	ctx := pslog.ContextWithLogger(sess.Context(), log)
	if err := s.Accept(ctx, client); err != nil {
		log.Warn("ssh session failed", "err", err)
		_ = sess.Exit(1)
		return
	}
	log.Info("ssh session closed", "term", pty.Term)
	_ = sess.Exit(0)
}
