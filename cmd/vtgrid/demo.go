package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/vtgrid/demo"
	"pkt.systems/vtgrid/internal/appconfig"
)

func newDemoCmd() *cobra.Command {
	var cfgPath string
	var heatmap bool
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the embedded counter workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			dir, err := os.MkdirTemp("", "vtgrid-demo-")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(dir) }()
			script, err := demo.Extract(dir)
			if err != nil {
				return err
			}
			spec := sessionSpec{
				cfg:      cfg,
				command:  []string{"/bin/sh", script},
				heatmap:  heatmap,
				httpAddr: httpAddr,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConsoleSession(ctx, spec)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&heatmap, "heatmap", false, "print an update-frequency heatmap on exit")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve a read-only live view on this address")
	return cmd
}
