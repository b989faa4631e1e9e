package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/go-spotify-history/internal/history"
)

type countingSyncer struct {
	calls    atomic.Int32
	deadline atomic.Bool
	err      error
}

func (c *countingSyncer) Sync(ctx context.Context) (*history.SyncResult, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		c.deadline.Store(true)
	}
	if c.err != nil {
		return &history.SyncResult{Error: c.err.Error()}, c.err
	}
	return &history.SyncResult{Success: true}, nil
}

func TestSyncService_RunsOnStartAndOnTicks(t *testing.T) {
	syncer := &countingSyncer{}
	svc := NewSyncService(syncer, 10*time.Millisecond, 0, true)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want context deadline", err)
	}
	if n := syncer.calls.Load(); n < 3 {
		t.Errorf("sync calls = %d, want at least 3", n)
	}
	if !syncer.deadline.Load() {
		t.Error("sync ran without a per-run deadline")
	}
}

func TestSyncService_FailuresDoNotStopLoop(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("spotify unavailable")}
	svc := NewSyncService(syncer, 5*time.Millisecond, time.Millisecond, false)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want context deadline", err)
	}
	if n := syncer.calls.Load(); n < 2 {
		t.Errorf("sync calls = %d, want repeated attempts after failure", n)
	}
}

func TestSyncService_NoRunOnStart(t *testing.T) {
	syncer := &countingSyncer{}
	svc := NewSyncService(syncer, time.Hour, 0, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if n := syncer.calls.Load(); n != 0 {
		t.Errorf("sync calls = %d, want 0", n)
	}
}

func TestNewSyncService_TimeoutCappedAtInterval(t *testing.T) {
	svc := NewSyncService(&countingSyncer{}, time.Second, time.Minute, false)
	if svc.timeout != time.Second {
		t.Errorf("timeout = %v, want %v", svc.timeout, time.Second)
	}
	if svc.String() != "history-sync" {
		t.Errorf("String() = %q", svc.String())
	}
}

type fakeServer struct {
	mu       sync.Mutex
	stopped  chan struct{}
	listen   error
	shutdown bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{stopped: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.shutdown = true
		close(f.stopped)
	}
	return nil
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if !server.shutdown {
		t.Error("server was not shut down")
	}
}

func TestHTTPService_ListenError(t *testing.T) {
	server := newFakeServer()
	server.listen = errors.New("address already in use")
	svc := NewHTTPService(server, 0)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listen) {
		t.Errorf("Serve() error = %v, want listen error", err)
	}
}

func TestSupervisorRestartsPanickingService(t *testing.T) {
	sup := NewSupervisor("test", Config{FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second})

	var runs atomic.Int32
	sup.Add(serviceFunc(func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if runs.Load() < 2 {
		t.Errorf("service runs = %d, want restart after panic", runs.Load())
	}
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }
