package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid"
	"pkt.systems/vtgrid/internal/appconfig"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/ptyproc"
	"pkt.systems/vtgrid/sshbridge"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var qr bool
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve shell sessions to SSH clients",
		Long: `Serve runs an SSH bridge: every connecting client gets its own PTY
workload and pipeline. Public-key auth is used when the configured
authorized_keys file exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			authPath := cfg.SSH.AuthorizedKeys
			if authPath != "" {
				if _, err := os.Stat(authPath); os.IsNotExist(err) {
					logger.Warn("authorized keys file missing; accepting any client", "path", authPath)
					authPath = ""
				}
			}

			bus := eventbus.New(logger)
			var latest atomic.Pointer[vtgrid.Pipeline]

			bridge := &sshbridge.Server{
				Addr:               cfg.SSH.Addr,
				HostKeyPath:        cfg.SSH.HostKeyPath,
				AuthorizedKeysPath: authPath,
				Accept: func(ctx context.Context, client *sshbridge.Client) error {
					return serveClient(ctx, cfg, client, bus, &latest)
				},
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			viewAddr := httpAddr
			if viewAddr == "" {
				viewAddr = cfg.HTTP.Addr
			}
			if viewAddr != "" {
				source := func() viewSource {
					if pipe := latest.Load(); pipe != nil {
						return pipe
					}
					return nil
				}
				startHTTPView(pslog.ContextWithLogger(ctx, logger), viewAddr, source, bus)
			}

			if qr {
				url := sshURL(cfg.SSH.Addr)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", url)
				qrterminal.GenerateHalfBlock(url, qrterminal.L, cmd.OutOrStdout())
			}

			logger.Info("ssh bridge listening", "addr", cfg.SSH.Addr)
			return bridge.ListenAndServe(pslog.ContextWithLogger(ctx, logger))
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&qr, "qr", false, "print an ssh:// connection QR code")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve a live view of the most recent session")
	return cmd
}

// serveClient runs one SSH client's session: a fresh PTY shell bridged
// to the client through its own pipeline.
func serveClient(ctx context.Context, cfg appconfig.Config, client *sshbridge.Client, bus *eventbus.Bus, latest *atomic.Pointer[vtgrid.Pipeline]) error {
	log := pslog.Ctx(ctx)
	cols, rows := client.Size()

	term := client.Term()
	if term == "" {
		term = cfg.Session.Term
	}
	proc, err := ptyproc.Start(ctx, ptyproc.Config{
		Shell: cfg.Session.Shell,
		Term:  term,
		Cols:  cols,
		Rows:  rows,
	})
	if err != nil {
		return err
	}
	defer func() { _ = proc.Close() }()

	pipe, err := vtgrid.New(proc, client,
		vtgrid.WithSessionID(newSessionID()),
		vtgrid.WithSize(cols, rows),
		vtgrid.WithLogger(log),
		vtgrid.WithDiagnostics(bus),
	)
	if err != nil {
		return err
	}
	latest.Store(pipe)

	if err := pipe.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = pipe.Shutdown(stopCtx)
	}()
	return pipe.Wait()
}

// sshURL turns a listen address into a connection URL, substituting
// the hostname for wildcard binds.
func sshURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "ssh://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if name, err := os.Hostname(); err == nil {
			host = name
		} else {
			host = "localhost"
		}
	}
	return "ssh://" + net.JoinHostPort(host, port)
}
