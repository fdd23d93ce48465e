package main

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/internal/appconfig"
	"pkt.systems/vtgrid/internal/recstore"
	"pkt.systems/vtgrid/schema"
)

func newReplayCmd() *cobra.Command {
	var cfgPath string
	var speed float64
	var follow bool
	var recordKey string
	cmd := &cobra.Command{
		Use:   "replay <id|path>",
		Short: "Play a recording back to the terminal",
		Long: `Replay writes a recording's output stream to stdout at its original
pace. --speed scales the pace; --follow tails a recording that is
still being written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if speed <= 0 {
				return errors.New("speed must be positive")
			}
			store, err := recstore.NewStoreWithLogger(cfg.RecordingsDir, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			if follow {
				logger.Info("replay follow", "recording", args[0])
				return store.Follow(ctx, args[0], func(ev schema.RecordEvent) error {
					if ev.T == schema.RecordOutput {
						_, err := out.Write(ev.Data)
						return err
					}
					return nil
				})
			}

			keystore := recordKey
			if keystore == "" {
				keystore = cfg.Record.KeystorePath
			}
			r, err := store.Open(args[0], keystore)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			header := r.Header()
			logger.Info("replay start",
				"session", header.Session,
				"cols", header.Cols,
				"rows", header.Rows,
				"speed", speed,
			)
			return playRecording(ctx, out, r, speed, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "playback speed factor")
	cmd.Flags().BoolVar(&follow, "follow", false, "tail a recording still in progress")
	cmd.Flags().StringVar(&recordKey, "record-key", "", "keystore path for encrypted recordings")
	return cmd
}

func playRecording(ctx context.Context, out io.Writer, r *recstore.Reader, speed float64, logger pslog.Logger) error {
	start := time.Now()
	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ev.MS > 0 {
			target := time.Duration(float64(ev.MS) / speed * float64(time.Millisecond))
			if d := target - time.Since(start); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		switch ev.T {
		case schema.RecordOutput:
			if _, err := out.Write(ev.Data); err != nil {
				return err
			}
		case schema.RecordEnd:
			fields := []any{"duration_ms", ev.MS}
			if ev.Exit != nil {
				fields = append(fields, "exit_code", *ev.Exit)
			}
			logger.Info("replay end", fields...)
		}
	}
}
