package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/justestif/go-spotify-history/internal/analytics"
	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/history"
)

type fakeSyncer struct {
	result    *history.SyncResult
	err       error
	cursor    *db.SyncCursor
	cursorErr error
	calls     int
}

func (f *fakeSyncer) Sync(context.Context) (*history.SyncResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeSyncer) Cursor(context.Context) (*db.SyncCursor, error) {
	return f.cursor, f.cursorErr
}

type fakeViews struct {
	stats       *analytics.StatsSnapshot
	statsDays   int
	events      []db.ListeningEvent
	listOpts    db.ListOptions
	groups      []analytics.DayGroup
	byDayDays   int
	correlation analytics.CorrelationWindow
	corrArgs    []string
}

func (f *fakeViews) ComputeStats(_ context.Context, days int) *analytics.StatsSnapshot {
	f.statsDays = days
	return f.stats
}

func (f *fakeViews) Correlate(_ context.Context, artistName, artistID, eventDate string) analytics.CorrelationWindow {
	f.corrArgs = []string{artistName, artistID, eventDate}
	return f.correlation
}

func (f *fakeViews) History(_ context.Context, opts db.ListOptions) []db.ListeningEvent {
	f.listOpts = opts
	return f.events
}

func (f *fakeViews) HistoryByDay(_ context.Context, days int) []analytics.DayGroup {
	f.byDayDays = days
	return f.groups
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(syncer *fakeSyncer, views *fakeViews, rateLimit int) http.Handler {
	return NewServer(ServerConfig{SyncRateLimit: rateLimit}, NewHandlers(syncer, views, fakePinger{})).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestSyncEndpoint(t *testing.T) {
	newest := time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)
	syncer := &fakeSyncer{result: &history.SyncResult{Success: true, NewTracks: 3, TotalTracksInDB: 3, NewestTrack: &newest}}
	h := newTestServer(syncer, &fakeViews{}, 0)

	rec := do(t, h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body history.SyncResult
	decode(t, rec, &body)
	if !body.Success || body.NewTracks != 3 || body.TotalTracksInDB != 3 {
		t.Errorf("body = %+v", body)
	}

	if rec := do(t, h, http.MethodGet, "/api/sync"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/sync status = %d, want 405", rec.Code)
	}
}

func TestSyncEndpoint_Failure(t *testing.T) {
	syncer := &fakeSyncer{
		result: &history.SyncResult{Success: false, Error: "fetching recent plays: 503"},
		err:    errors.New("fetching recent plays: 503"),
	}
	h := newTestServer(syncer, &fakeViews{}, 0)

	rec := do(t, h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["success"] != false || body["error"] != "fetching recent plays: 503" {
		t.Errorf("body = %v", body)
	}
}

func TestSyncEndpoint_RateLimited(t *testing.T) {
	syncer := &fakeSyncer{result: &history.SyncResult{Success: true}}
	h := newTestServer(syncer, &fakeViews{}, 2)

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/api/sync"); rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d, want 200", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/sync"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third call status = %d, want 429", rec.Code)
	}
	if syncer.calls != 2 {
		t.Errorf("sync calls = %d, want 2", syncer.calls)
	}
	// Reads are not limited.
	if rec := do(t, h, http.MethodGet, "/api/stats"); rec.Code != http.StatusOK {
		t.Errorf("GET /api/stats status = %d, want 200", rec.Code)
	}
}

func TestCursorEndpoint(t *testing.T) {
	played := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	syncer := &fakeSyncer{cursor: &db.SyncCursor{ID: "default", LastPlayedAt: &played, LastSyncAt: played, TotalTracksSynced: 42}}
	h := newTestServer(syncer, &fakeViews{}, 0)

	rec := do(t, h, http.MethodGet, "/api/sync/cursor")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body cursorResponse
	decode(t, rec, &body)
	if body.ID != "default" || body.TotalTracksSynced != 42 || body.LastPlayedAt == nil || !body.LastPlayedAt.Equal(played) {
		t.Errorf("body = %+v", body)
	}

	syncer.cursor = &db.SyncCursor{ID: "default"}
	rec = do(t, h, http.MethodGet, "/api/sync/cursor")
	if !strings.Contains(rec.Body.String(), `"lastPlayedAt":null`) {
		t.Errorf("never-synced cursor body = %s, want null lastPlayedAt", rec.Body.String())
	}

	syncer.cursorErr = errors.New("down")
	if rec := do(t, h, http.MethodGet, "/api/sync/cursor"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status on error = %d, want 503", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	views := &fakeViews{stats: &analytics.StatsSnapshot{Days: 7, TotalPlays: 10, TopTrack: "Song", TopTrackCount: 4}}
	h := newTestServer(&fakeSyncer{}, views, 0)

	rec := do(t, h, http.MethodGet, "/api/stats?days=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if views.statsDays != 7 {
		t.Errorf("days = %d, want 7", views.statsDays)
	}
	var body analytics.StatsSnapshot
	decode(t, rec, &body)
	if body.TotalPlays != 10 || body.TopTrack != "Song" {
		t.Errorf("body = %+v", body)
	}

	do(t, h, http.MethodGet, "/api/stats")
	if views.statsDays != analytics.DefaultStatsDays {
		t.Errorf("default days = %d, want %d", views.statsDays, analytics.DefaultStatsDays)
	}

	views.stats = nil
	rec = do(t, h, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("unavailable stats = %d %q, want 200 null", rec.Code, rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/stats?days=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad days status = %d, want 400", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	image := "https://i.scdn.co/1"
	views := &fakeViews{events: []db.ListeningEvent{{
		ID:            7,
		TrackID:       "t1",
		TrackName:     "Song",
		TrackArtists:  "A, B",
		AlbumImageURL: &image,
		PlayedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	h := newTestServer(&fakeSyncer{}, views, 0)

	rec := do(t, h, http.MethodGet, "/api/history?limit=10&offset=5&start=2025-03-01&end=2025-03-02T00:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	opts := views.listOpts
	if opts.Limit != 10 || opts.Offset != 5 || opts.Start == nil || opts.End == nil {
		t.Errorf("list options = %+v", opts)
	}
	var body []eventResponse
	decode(t, rec, &body)
	if len(body) != 1 || body[0].TrackArtists != "A, B" || body[0].AlbumImageURL == nil {
		t.Errorf("body = %+v", body)
	}

	views.events = nil
	rec = do(t, h, http.MethodGet, "/api/history")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty history body = %q, want []", rec.Body.String())
	}

	tests := []string{
		"/api/history?limit=0",
		"/api/history?limit=501",
		"/api/history?offset=-1",
		"/api/history?start=yesterday",
	}
	for _, target := range tests {
		if rec := do(t, h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestHistoryByDayEndpoint(t *testing.T) {
	views := &fakeViews{groups: []analytics.DayGroup{
		{Day: "Sun, Jun 15", Plays: []db.ListeningEvent{{TrackID: "a"}, {TrackID: "b"}}},
		{Day: "Sat, Jun 14", Plays: []db.ListeningEvent{{TrackID: "c"}}},
	}}
	h := newTestServer(&fakeSyncer{}, views, 0)

	rec := do(t, h, http.MethodGet, "/api/history/by-day")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if views.byDayDays != analytics.DefaultHistoryDays {
		t.Errorf("days = %d, want %d", views.byDayDays, analytics.DefaultHistoryDays)
	}
	var body []dayGroupResponse
	decode(t, rec, &body)
	if len(body) != 2 || body[0].Day != "Sun, Jun 15" || len(body[0].Plays) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestCorrelationEndpoint(t *testing.T) {
	views := &fakeViews{correlation: analytics.CorrelationWindow{
		ArtistName:  "The Beatles",
		PlaysBefore: 2,
		DailyPlays:  []analytics.DailyPlays{},
		TopTracks:   []analytics.TopTrack{},
	}}
	h := newTestServer(&fakeSyncer{}, views, 0)

	rec := do(t, h, http.MethodGet, "/api/correlation?artist=The+Beatles&artist_id=3WrFJ7ztbogyGnTHbHJFl2&date=2025-05-10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := []string{"The Beatles", "3WrFJ7ztbogyGnTHbHJFl2", "2025-05-10"}
	for i := range want {
		if views.corrArgs[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, views.corrArgs[i], want[i])
		}
	}
	if !strings.Contains(rec.Body.String(), `"dailyPlays":[]`) {
		t.Errorf("body = %s, want empty dailyPlays array", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/correlation?artist=X"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing date status = %d, want 400", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeSyncer{}, &fakeViews{}, 0)

	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}

	down := NewServer(ServerConfig{}, NewHandlers(&fakeSyncer{}, &fakeViews{}, fakePinger{err: errors.New("refused")})).Handler()
	if rec := do(t, down, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/healthz with store down status = %d, want 503", rec.Code)
	}

	do(t, h, http.MethodGet, "/api/stats")
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "api_request_duration_seconds") {
		t.Error("/metrics is missing api_request_duration_seconds")
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(ServerConfig{}, NewHandlers(&fakeSyncer{}, &fakeViews{}, nil))
	if s.HTTPServer().Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", s.HTTPServer().Addr, DefaultAddr)
	}
	if s.HTTPServer().ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", s.HTTPServer().ReadTimeout)
	}
}
