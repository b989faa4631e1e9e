package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justestif/go-spotify-history/internal/analytics"
	"github.com/justestif/go-spotify-history/internal/auth"
	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/scheduler"
	"github.com/justestif/go-spotify-history/internal/spotify"
)

func newSyncCmd(opts *options) *cobra.Command {
	var (
		watch       bool
		resetCursor bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull recently played tracks into the event store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if resetCursor {
				if err := store.Cursors().Reset(ctx, db.DefaultCursorID); err != nil {
					return err
				}
			}

			client, err := opts.connectSpotify(ctx)
			if err != nil {
				return err
			}
			syncer := opts.newSyncer(client, store)

			if watch {
				svc := scheduler.NewSyncService(syncer, opts.cfg.Sync.Interval, opts.cfg.Sync.Timeout, true)
				if err := svc.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			result, syncErr := syncer.Sync(ctx)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return syncErr
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing on the configured interval until interrupted")
	cmd.Flags().BoolVar(&resetCursor, "reset-cursor", false, "clear the watermark before syncing")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cursor, err := opts.newSyncer(nil, store).Cursor(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cursor)
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize listening over the last N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			return printJSON(cmd.OutOrStdout(), newViews(store).ComputeStats(ctx, days))
		},
	}

	cmd.Flags().IntVar(&days, "days", analytics.DefaultStatsDays, "window size in days")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		days   int
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent plays, optionally grouped by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			views := newViews(store)
			if days > 0 {
				return printJSON(cmd.OutOrStdout(), views.HistoryByDay(ctx, days))
			}
			return printJSON(cmd.OutOrStdout(), views.History(ctx, db.ListOptions{Limit: limit, Offset: offset}))
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "group the last N days of plays by local day")
	cmd.Flags().IntVar(&limit, "limit", analytics.DefaultHistoryLimit, "maximum plays to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "plays to skip")
	return cmd
}

func newCorrelateCmd(opts *options) *cobra.Command {
	var (
		artist   string
		artistID string
		date     string
	)

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Compare an artist's plays in the 30 days around an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			return printJSON(cmd.OutOrStdout(), newViews(store).Correlate(ctx, artist, artistID, date))
		},
	}

	cmd.Flags().StringVar(&artist, "artist", "", "artist name (substring match)")
	cmd.Flags().StringVar(&artistID, "artist-id", "", "Spotify artist ID")
	cmd.Flags().StringVar(&date, "date", "", "event date, RFC 3339 or YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("artist")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to your Spotify listening history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			authenticator, err := auth.New(opts.cfg.Spotify)
			if err != nil {
				return err
			}
			api, err := authenticator.Login(ctx)
			if err != nil {
				return err
			}
			userID, err := spotify.New(api).UserID(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (token saved to %s)\n", userID, authenticator.TokenPath())
			return err
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached Spotify token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authenticator, err := auth.New(opts.cfg.Spotify)
			if err != nil {
				return err
			}
			return authenticator.Logout()
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := db.New(ctx, opts.cfg.Database.URL, db.Options{MaxConns: opts.cfg.Database.MaxConns})
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Migrate(ctx)
		},
	}
}
