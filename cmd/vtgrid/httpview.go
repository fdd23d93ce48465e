package main

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/httpview"
	"pkt.systems/vtgrid/internal/eventbus"
)

type viewSource = httpview.Source

// startHTTPView serves the read-only live view until ctx ends. Listen
// failures are logged, not fatal: the session outranks its viewer.
func startHTTPView(ctx context.Context, addr string, source func() viewSource, bus *eventbus.Bus) {
	srv := httpview.NewServer(source, bus)
	log := pslog.Ctx(ctx)
	log.Info("http view listening", "addr", addr)
	go func() {
		if err := httpview.ListenAndServe(ctx, addr, srv.Handler()); err != nil {
			log.Warn("http view failed", "err", err)
		}
	}()
}
