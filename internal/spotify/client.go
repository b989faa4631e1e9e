// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"

	"github.com/justestif/go-spotify-history/internal/logging"
	"github.com/justestif/go-spotify-history/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls to Spotify.
var ErrCircuitOpen = errors.New("spotify circuit breaker open")

const breakerName = "spotify-api"

// Client wraps the Spotify API client with a rate limiter and a circuit breaker.
type Client struct {
	api     *spotify.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]spotify.RecentlyPlayedItem]
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	rps           float64
	burst         int
	tripAfter     uint32
	breakerReset  time.Duration
	breakerWindow time.Duration
}

// WithRateLimit caps the request rate to Spotify. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *clientOptions) {
		o.rps = rps
		if burst > 0 {
			o.burst = burst
		}
	}
}

// WithBreaker opens the circuit after tripAfter consecutive failures and
// probes again after reset.
func WithBreaker(tripAfter uint32, reset time.Duration) Option {
	return func(o *clientOptions) {
		if tripAfter > 0 {
			o.tripAfter = tripAfter
		}
		if reset > 0 {
			o.breakerReset = reset
		}
	}
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client, opts ...Option) *Client {
	o := clientOptions{
		rps:           2,
		burst:         1,
		tripAfter:     5,
		breakerReset:  time.Minute,
		breakerWindow: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	limit := rate.Inf
	if o.rps > 0 {
		limit = rate.Limit(o.rps)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	breaker := gobreaker.NewCircuitBreaker[[]spotify.RecentlyPlayedItem](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    o.breakerWindow,
		Timeout:     o.breakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		// A cancelled sync says nothing about Spotify's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &Client{
		api:     api,
		limiter: rate.NewLimiter(limit, o.burst),
		breaker: breaker,
	}
}

// UserID returns the current user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	return user.ID, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
