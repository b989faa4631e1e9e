package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/justestif/go-spotify-history/internal/analytics"
	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/history"
	"github.com/justestif/go-spotify-history/internal/logging"
)

// Syncer runs syncs and reports the cursor.
type Syncer interface {
	Sync(ctx context.Context) (*history.SyncResult, error)
	Cursor(ctx context.Context) (*db.SyncCursor, error)
}

// Views serves the read-only analytics.
type Views interface {
	ComputeStats(ctx context.Context, days int) *analytics.StatsSnapshot
	Correlate(ctx context.Context, artistName, artistID, eventDate string) analytics.CorrelationWindow
	History(ctx context.Context, opts db.ListOptions) []db.ListeningEvent
	HistoryByDay(ctx context.Context, days int) []analytics.DayGroup
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

const maxHistoryLimit = 500

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	syncer Syncer
	views  Views
	pinger Pinger
}

// NewHandlers creates a new Handlers instance. pinger may be nil.
func NewHandlers(syncer Syncer, views Views, pinger Pinger) *Handlers {
	return &Handlers{
		syncer: syncer,
		views:  views,
		pinger: pinger,
	}
}

// Health reports liveness and store connectivity (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sync runs one sync step (POST /api/sync). A failed sync answers 502 with
// the failure result.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cursor returns the sync cursor (GET /api/sync/cursor).
func (h *Handlers) Cursor(w http.ResponseWriter, r *http.Request) {
	cursor, err := h.syncer.Cursor(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("reading sync cursor")
		writeError(w, http.StatusServiceUnavailable, "sync cursor unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toCursorResponse(cursor))
}

// Stats returns the stats snapshot, or null when the store is unavailable
// (GET /api/stats?days=).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", analytics.DefaultStatsDays, 1, 3650)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.views.ComputeStats(r.Context(), days))
}

// History lists plays newest first (GET /api/history?limit=&offset=&start=&end=).
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", analytics.DefaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0, 0, 1<<31-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := timeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := timeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := h.views.History(r.Context(), db.ListOptions{Limit: limit, Offset: offset, Start: start, End: end})
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// HistoryByDay groups recent plays by local day (GET /api/history/by-day?days=).
func (h *Handlers) HistoryByDay(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", analytics.DefaultHistoryDays, 1, 366)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groups := h.views.HistoryByDay(r.Context(), days)
	resp := make([]dayGroupResponse, len(groups))
	for i, g := range groups {
		resp[i] = dayGroupResponse{Day: g.Day, Plays: toEventResponses(g.Plays)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Correlation compares an artist's plays around a date
// (GET /api/correlation?artist=&artist_id=&date=).
func (h *Handlers) Correlation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	artist := q.Get("artist")
	date := q.Get("date")
	if artist == "" || date == "" {
		writeError(w, http.StatusBadRequest, "artist and date are required")
		return
	}
	writeJSON(w, http.StatusOK, h.views.Correlate(r.Context(), artist, q.Get("artist_id"), date))
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := analytics.ParseEventDate(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", name)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
