package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid"
	"pkt.systems/vtgrid/console"
	"pkt.systems/vtgrid/filter"
	"pkt.systems/vtgrid/internal/appconfig"
	"pkt.systems/vtgrid/internal/eventbus"
	"pkt.systems/vtgrid/internal/recstore"
	"pkt.systems/vtgrid/ptyproc"
	"pkt.systems/vtgrid/schema"
)

const shutdownGrace = 10 * time.Second

// sessionSpec is everything a local console session needs: the loaded
// config plus the per-command flag overrides.
type sessionSpec struct {
	cfg      appconfig.Config
	command  []string
	record   bool
	keystore string
	heatmap  bool
	palette  string
	httpAddr string
	cols     int
	rows     int
}

// runConsoleSession wires console presentation, PTY workload, filters,
// and pipeline together and blocks until the session ends.
func runConsoleSession(ctx context.Context, spec sessionSpec) error {
	logger := pslog.Ctx(ctx)
	cfg := spec.cfg

	cons, err := console.New(ctx, console.Config{})
	if err != nil {
		return err
	}
	size := sessionSize(spec, cons)

	proc, err := ptyproc.Start(ctx, ptyproc.Config{
		Command: spec.command,
		Shell:   cfg.Session.Shell,
		Term:    cfg.Session.Term,
		Cols:    size.Cols,
		Rows:    size.Rows,
	})
	if err != nil {
		return err
	}
	defer func() { _ = proc.Close() }()

	id := newSessionID()
	bus := eventbus.New(logger)
	opts := []vtgrid.Option{
		vtgrid.WithSessionID(id),
		vtgrid.WithSize(size.Cols, size.Rows),
		vtgrid.WithLogger(logger),
		vtgrid.WithDiagnostics(bus),
	}

	var rec *filter.Recorder
	if spec.record {
		store, err := recstore.NewStoreWithLogger(cfg.RecordingsDir, logger)
		if err != nil {
			return err
		}
		rec = filter.NewRecorder(store, filter.RecorderConfig{
			Session:      id,
			Shell:        cfg.Session.Shell,
			KeystorePath: recordKeystore(cfg, spec.keystore),
			ExitCode:     proc.ExitCode,
			Log:          logger,
		})
		opts = append(opts,
			vtgrid.WithWorkloadFilter(rec),
			vtgrid.WithPresentationFilter(rec.InputSide()),
		)
	}

	var heat *filter.Heatmap
	if spec.heatmap {
		paletteName := spec.palette
		if paletteName == "" {
			paletteName = cfg.Heatmap.Palette
		}
		palette, ok := schema.NormalizePaletteName(paletteName)
		if !ok {
			return fmt.Errorf("heatmap palette %q: %w", paletteName, schema.ErrInvalidPalette)
		}
		heat = filter.NewHeatmap(filter.HeatmapConfig{
			Ring:    cfg.Heatmap.Ring,
			Window:  time.Duration(cfg.Heatmap.WindowSeconds) * time.Second,
			Palette: palette,
		})
		opts = append(opts, vtgrid.WithWorkloadFilter(heat))
	}

	pipe, err := vtgrid.New(proc, cons, opts...)
	if err != nil {
		return err
	}

	if spec.httpAddr != "" {
		startHTTPView(ctx, spec.httpAddr, func() viewSource { return pipe }, bus)
	}

	if err := pipe.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = pipe.Shutdown(stopCtx)
	}()

	err = pipe.Wait()
	_ = proc.Close()

	if code, ok := proc.ExitCode(); ok {
		logger.Info("workload exited", "exit_code", code)
	}
	if rec != nil {
		if path, ok := rec.Path(); ok {
			recID, _ := rec.ID()
			logger.Info("recording saved", "id", recID, "path", path)
		}
	}
	if heat != nil {
		// The pipeline restored the terminal before Wait returned.
		fmt.Println(heat.Render())
	}
	return err
}

// sessionSize resolves the initial geometry: explicit flags beat the
// config, which beats the probed console size.
func sessionSize(spec sessionSpec, cons *console.Console) schema.Size {
	size := schema.Size{Cols: spec.cols, Rows: spec.rows}
	if size.Cols < 1 {
		size.Cols = spec.cfg.Session.Cols
	}
	if size.Rows < 1 {
		size.Rows = spec.cfg.Session.Rows
	}
	if cons != nil && (size.Cols < 1 || size.Rows < 1) {
		if cols, rows, err := cons.Size(); err == nil {
			if size.Cols < 1 {
				size.Cols = cols
			}
			if size.Rows < 1 {
				size.Rows = rows
			}
		}
	}
	return schema.NormalizeSize(size)
}

func recordKeystore(cfg appconfig.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.Record.Encrypt {
		return cfg.Record.KeystorePath
	}
	return ""
}

func newSessionID() schema.SessionID {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return schema.SessionID(time.Now().UTC().Format("20060102-150405") + "-" + hex.EncodeToString(buf[:]))
}
