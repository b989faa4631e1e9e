package scheduler

import (
	"context"
	"time"

	"github.com/justestif/go-spotify-history/internal/history"
	"github.com/justestif/go-spotify-history/internal/logging"
)

// Syncer runs one sync step.
type Syncer interface {
	Sync(ctx context.Context) (*history.SyncResult, error)
}

// SyncService calls Sync on a fixed interval as a supervised service.
//
// A failed sync is logged and retried on the next tick; Serve only returns
// when its context is cancelled. Runs never overlap.
type SyncService struct {
	syncer     Syncer
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	name       string
}

// NewSyncService creates a periodic sync service. timeout bounds each run;
// zero or negative means the interval.
func NewSyncService(syncer Syncer, interval, timeout time.Duration, runOnStart bool) *SyncService {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &SyncService{
		syncer:     syncer,
		interval:   interval,
		timeout:    timeout,
		runOnStart: runOnStart,
		name:       "history-sync",
	}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.interval).
		Bool("run_on_start", s.runOnStart).
		Msg("periodic sync started")

	if s.runOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("periodic sync stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SyncService) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// The sync logs its own outcome; a failure is retried on the next tick.
	_, _ = s.syncer.Sync(runCtx)
}

// String implements fmt.Stringer for suture's logs.
func (s *SyncService) String() string {
	return s.name
}
