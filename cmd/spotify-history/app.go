package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/justestif/go-spotify-history/internal/analytics"
	"github.com/justestif/go-spotify-history/internal/auth"
	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/history"
	"github.com/justestif/go-spotify-history/internal/spotify"
)

// openStore connects to PostgreSQL and applies the schema when configured to.
func (o *options) openStore(ctx context.Context) (*db.DB, error) {
	store, err := db.New(ctx, o.cfg.Database.URL, db.Options{MaxConns: o.cfg.Database.MaxConns})
	if err != nil {
		return nil, err
	}
	if o.cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// connectSpotify returns a rate-limited client built from the cached token.
func (o *options) connectSpotify(ctx context.Context) (*spotify.Client, error) {
	if err := o.cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	authenticator, err := auth.New(o.cfg.Spotify)
	if err != nil {
		return nil, err
	}
	api, err := authenticator.Client(ctx)
	if err != nil {
		return nil, err
	}
	return spotify.New(api, spotify.WithRateLimit(o.cfg.Spotify.RequestsPerSecond, 1)), nil
}

func (o *options) newSyncer(source history.Source, store *db.DB) *history.Service {
	return history.New(source, store.Events(), store.Cursors(),
		history.WithPageLimit(o.cfg.Spotify.PageLimit),
	)
}

func newViews(store *db.DB) *analytics.Service {
	return analytics.New(store.Events())
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
