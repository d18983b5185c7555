package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/forecasthub/forecasthub/server/internal/feed"
	"github.com/forecasthub/forecasthub/server/internal/hub"
	"github.com/forecasthub/forecasthub/server/internal/snapshot"
)

// Hub is the read side of the broadcast scheduler.
type Hub interface {
	Stats() hub.Stats
	Connections() []hub.Connection
	Cache() *snapshot.Cache
}

// Forecaster generates forecasts on demand.
type Forecaster interface {
	Forecast(ctx context.Context) ([]feed.Forecast, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	hub  Hub
	feed Forecaster
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(h Hub, f Forecaster) http.Handler {
	a := &Handler{hub: h, feed: f, mux: http.NewServeMux()}

	a.mux.HandleFunc("/api/v1/health", a.health)
	a.mux.HandleFunc("/api/v1/snapshot", a.snapshot)
	a.mux.HandleFunc("/api/v1/connections", a.connections)
	a.mux.HandleFunc("/api/v1/weatherforecast", a.weatherForecast)

	return a
}

func (a *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (a *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := a.hub.Stats()
	resp := HealthResponse{
		State:           st.State.String(),
		Connections:     st.Connections,
		Ticks:           st.Ticks,
		IntervalSeconds: st.Interval.Seconds(),
	}
	if !st.LastTick.IsZero() {
		resp.LastTick = st.LastTick.UTC().Format(time.RFC3339)
	}
	if p := a.hub.Cache().Current(); p != nil {
		resp.SnapshotSeq = p.Seq
	}

	code := http.StatusOK
	if st.State != hub.Running {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// snapshot returns GET /api/v1/snapshot: the same bytes clients received.
func (a *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p := a.hub.Cache().Current()
	if p == nil {
		jsonErr(w, http.StatusServiceUnavailable, "no snapshot generated yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Snapshot-Seq", strconv.FormatUint(p.Seq, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(p.Data) //nolint:errcheck
}

// connections returns GET /api/v1/connections sorted by ID.
func (a *Handler) connections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conns := a.hub.Connections()
	out := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnectionResponse{ID: c.ID(), State: c.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	jsonResp(w, http.StatusOK, out)
}

// weatherForecast returns GET /api/v1/weatherforecast.
func (a *Handler) weatherForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fc, err := a.feed.Forecast(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, fc)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
