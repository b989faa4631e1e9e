package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/justestif/go-spotify-history/internal/history"
	"github.com/justestif/go-spotify-history/internal/logging"
	"github.com/justestif/go-spotify-history/internal/scheduler"
	"github.com/justestif/go-spotify-history/internal/web"
)

const httpShutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic sync and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	cfg := opts.cfg

	store, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	// Without a Spotify login the API still serves analytics; syncs fail.
	var source history.Source
	client, err := opts.connectSpotify(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("spotify unavailable, periodic sync disabled")
	} else {
		source = client
	}

	syncer := opts.newSyncer(source, store)
	handlers := web.NewHandlers(syncer, newViews(store), store)
	server := web.NewServer(web.ServerConfig{
		Addr:          cfg.HTTP.Addr,
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		WriteTimeout:  cfg.HTTP.WriteTimeout,
		SyncRateLimit: cfg.HTTP.SyncRateLimit,
	}, handlers)

	sup := scheduler.NewSupervisor("spotify-history", scheduler.DefaultConfig())
	sup.Add(scheduler.NewHTTPService(server.HTTPServer(), httpShutdownTimeout))
	if source != nil {
		sup.Add(scheduler.NewSyncService(syncer, cfg.Sync.Interval, cfg.Sync.Timeout, cfg.Sync.RunOnStart))
	}

	logging.Info().
		Str("addr", cfg.HTTP.Addr).
		Dur("sync_interval", cfg.Sync.Interval).
		Bool("sync_enabled", source != nil).
		Msg("starting spotify-history")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}
