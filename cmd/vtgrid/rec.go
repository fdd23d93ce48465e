package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/internal/appconfig"
	"pkt.systems/vtgrid/internal/recstore"
	"pkt.systems/vtgrid/schema"
)

func newRecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rec",
		Short: "Manage session recordings",
	}
	cmd.AddCommand(newRecLsCmd())
	cmd.AddCommand(newRecInfoCmd())
	cmd.AddCommand(newRecRmCmd())
	return cmd
}

func openStore(cmd *cobra.Command, cfgPath string) (*recstore.Store, appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	store, err := recstore.NewStoreWithLogger(cfg.RecordingsDir, pslog.Ctx(cmd.Context()))
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	return store, cfg, nil
}

func newRecLsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd, cfgPath)
			if err != nil {
				return err
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintf(out, "no recordings in %s\n", store.Dir())
				return nil
			}
			for _, entry := range entries {
				marker := ""
				if entry.Encrypted {
					marker = "  (encrypted)"
				}
				geometry := ""
				if entry.HeaderOK {
					geometry = fmt.Sprintf("  %dx%d", entry.Header.Cols, entry.Header.Rows)
				}
				_, _ = fmt.Fprintf(out, "%s  %s  %8d bytes%s%s\n",
					entry.ID,
					entry.ModTime.Format("2006-01-02 15:04:05"),
					entry.Size,
					geometry,
					marker,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func newRecInfoCmd() *cobra.Command {
	var cfgPath string
	var recordKey string
	cmd := &cobra.Command{
		Use:   "info <id|path>",
		Short: "Show one recording's header and event counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd, cfgPath)
			if err != nil {
				return err
			}
			keystore := recordKey
			if keystore == "" {
				keystore = cfg.Record.KeystorePath
			}
			info, err := store.Info(args[0], keystore)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "path:     %s\n", info.Path)
			_, _ = fmt.Fprintf(out, "session:  %s\n", info.Header.Session)
			_, _ = fmt.Fprintf(out, "started:  %s\n", info.Header.StartedAt.Format("2006-01-02 15:04:05"))
			_, _ = fmt.Fprintf(out, "geometry: %dx%d\n", info.Header.Cols, info.Header.Rows)
			if info.Header.Shell != "" {
				_, _ = fmt.Fprintf(out, "shell:    %s\n", info.Header.Shell)
			}
			_, _ = fmt.Fprintf(out, "size:     %d bytes\n", info.Size)
			_, _ = fmt.Fprintf(out, "duration: %dms\n", info.DurationMS)
			for _, kind := range []schema.RecordEventType{schema.RecordOutput, schema.RecordInput, schema.RecordResize, schema.RecordFrame} {
				if n := info.Events[kind]; n > 0 {
					_, _ = fmt.Fprintf(out, "%-8s  %d\n", kind+":", n)
				}
			}
			if !info.Ended {
				_, _ = fmt.Fprintln(out, "note:     recording was cut short (no end event)")
			} else if info.ExitCode != nil {
				_, _ = fmt.Fprintf(out, "exit:     %d\n", *info.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&recordKey, "record-key", "", "keystore path for encrypted recordings")
	return cmd
}

func newRecRmCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "rm <id|path>",
		Short: "Remove a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd, cfgPath)
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("recording removed", "recording", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
