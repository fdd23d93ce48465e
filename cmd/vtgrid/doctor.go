package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/console"
	"pkt.systems/vtgrid/internal/appconfig"
	"pkt.systems/vtgrid/internal/recstore"
	"pkt.systems/vtgrid/ptyproc"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var ptyTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run vtgrid diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)
			logger.Info("doctor config ok", "state_dir", cfg.StateDir, "recordings_dir", cfg.RecordingsDir)

			checkDoctorTerminal(logger)

			if err := checkDoctorPTY(cmd.Context(), logger, cfg, ptyTimeout); err != nil {
				return err
			}

			if err := checkDoctorRecordings(logger, cfg); err != nil {
				return err
			}

			if cfg.Record.Encrypt {
				if err := recstore.EnsureKeystore(cfg.Record.KeystorePath, logger); err != nil {
					return fmt.Errorf("doctor keystore: %w", err)
				}
				logger.Info("doctor keystore ok", "path", cfg.Record.KeystorePath)
			}

			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&ptyTimeout, "pty-timeout", 10*time.Second, "timeout for the PTY round-trip check")
	return cmd
}

// checkDoctorTerminal probes the controlling terminal. A non-tty
// environment is reported, not fatal: serve and replay run headless.
func checkDoctorTerminal(logger pslog.Logger) {
	stdinTTY := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if !stdinTTY || !stdoutTTY {
		logger.Warn("doctor terminal skipped", "stdin_tty", stdinTTY, "stdout_tty", stdoutTTY)
		return
	}
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		logger.Warn("doctor terminal geometry failed", "err", err)
		return
	}
	caps := console.ProbeCapabilities(os.Getenv("TERM"), os.Getenv("COLORTERM"))
	logger.Info("doctor terminal ok",
		"cols", cols,
		"rows", rows,
		"term", os.Getenv("TERM"),
		"truecolor", caps.TrueColor,
		"colors256", caps.Colors256,
		"alt_screen", caps.AltScreen,
	)
}

// checkDoctorPTY spawns a throwaway child on a PTY and verifies the
// output round trip.
func checkDoctorPTY(ctx context.Context, logger pslog.Logger, cfg appconfig.Config, timeout time.Duration) error {
	const marker = "vtgrid-doctor"
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc, err := ptyproc.Start(checkCtx, ptyproc.Config{
		Command: []string{"sh", "-c", "echo " + marker},
		Term:    cfg.Session.Term,
		Cols:    80,
		Rows:    24,
	})
	if err != nil {
		return fmt.Errorf("doctor pty spawn: %w", err)
	}
	defer func() { _ = proc.Close() }()

	var output strings.Builder
	for {
		data, err := proc.ReadOutput(checkCtx)
		output.Write(data)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("doctor pty read: %w", err)
		}
	}
	if !strings.Contains(output.String(), marker) {
		return fmt.Errorf("doctor pty round trip failed: %q", output.String())
	}
	code, _ := proc.Wait(checkCtx)
	logger.Info("doctor pty ok", "exit_code", code)
	return nil
}

// checkDoctorRecordings verifies the recordings directory is writable.
func checkDoctorRecordings(logger pslog.Logger, cfg appconfig.Config) error {
	store, err := recstore.NewStoreWithLogger(cfg.RecordingsDir, logger)
	if err != nil {
		return fmt.Errorf("doctor recordings dir: %w", err)
	}
	probe := filepath.Join(store.Dir(), ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o600); err != nil {
		return fmt.Errorf("doctor recordings dir not writable: %w", err)
	}
	_ = os.Remove(probe)
	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("doctor recordings list: %w", err)
	}
	logger.Info("doctor recordings ok", "dir", store.Dir(), "recordings", len(entries))
	return nil
}
