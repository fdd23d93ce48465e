package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/vtgrid/internal/appconfig"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	var record bool
	var recordKey string
	var heatmap bool
	var palette string
	var httpAddr string
	var cols, rows int
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command args...]",
		Short: "Run a terminal session on the local console",
		Long: `Run starts a workload on a PTY and bridges it to the local terminal
through the pipeline. Without a command the login shell is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			spec := sessionSpec{
				cfg:      cfg,
				command:  args,
				record:   record || cfg.Record.Enabled,
				keystore: recordKey,
				heatmap:  heatmap || cfg.Heatmap.Enabled,
				palette:  palette,
				httpAddr: httpAddr,
				cols:     cols,
				rows:     rows,
			}
			if spec.httpAddr == "" {
				spec.httpAddr = cfg.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConsoleSession(ctx, spec)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&record, "record", false, "record the session")
	cmd.Flags().StringVar(&recordKey, "record-key", "", "keystore path for encrypted recordings")
	cmd.Flags().BoolVar(&heatmap, "heatmap", false, "print an update-frequency heatmap on exit")
	cmd.Flags().StringVar(&palette, "heatmap-palette", "", "heatmap palette (thermal, viridis, ice)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve a read-only live view on this address")
	cmd.Flags().IntVar(&cols, "cols", 0, "override the probed terminal width")
	cmd.Flags().IntVar(&rows, "rows", 0, "override the probed terminal height")
	return cmd
}
