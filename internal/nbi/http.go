package nbi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/observability"
	"github.com/signalsfoundry/sewerflow-simulator/internal/report"
)

// RouterConfig holds what the HTTP surface needs.
type RouterConfig struct {
	Simulation Simulation
	Logger     logging.Logger
	// Collector counts requests per route; nil disables HTTP metrics.
	Collector *observability.APICollector
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
}

type httpHandler struct {
	sim Simulation
	log logging.Logger
}

// NewRouter returns the HTTP API: JSON under /api/v1, GeoJSON and CSV
// exports, health and metrics endpoints, and an HTML dashboard at /.
func NewRouter(cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	h := &httpHandler{sim: cfg.Simulation, log: log}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware(log, cfg.Simulation.RunID()))
	r.Use(TracingMiddleware)
	if cfg.Collector != nil {
		r.Use(cfg.Collector.HTTPMiddleware)
	}
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.dashboard)
	r.Get("/healthz", h.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/topology", h.topology)
		r.Get("/snapshot", h.latest)
		r.Get("/snapshots/{hour}", h.snapshot)
		r.Get("/history", h.history)
		r.Get("/history.csv", h.historyCSV)
		r.Get("/summary", h.summary)
		r.Get("/network.geojson", h.network)
		r.Put("/sites/{id}/location", h.moveSite)
		r.Route("/run", func(r chi.Router) {
			r.Post("/pause", h.control(cfg.Simulation.Pause))
			r.Post("/resume", h.control(cfg.Simulation.Resume))
			r.Post("/stop", h.control(cfg.Simulation.Stop))
		})
	})
	return r
}

func (h *httpHandler) logger(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.log
}

// writeJSON encodes body before writing the header so an encoding failure
// becomes a 500 instead of an empty 200.
func (h *httpHandler) writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	buf, err := json.Marshal(body)
	if err != nil {
		h.logger(r).Error(r.Context(), "failed to encode response", logging.Err(err))
		code = http.StatusInternalServerError
		buf, _ = json.Marshal(map[string]any{"error": "response encoding failed"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(buf, '\n'))
}

func (h *httpHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger(r).Error(r.Context(), "request failed", logging.Err(err))
	}
	h.writeJSON(w, r, code, map[string]any{"error": err.Error()})
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":     "ok",
		"run_status": h.sim.Status().String(),
	})
}

func (h *httpHandler) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, StatusView(h.sim))
}

func (h *httpHandler) topology(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, TopologyView(h.sim.Topology()))
}

func (h *httpHandler) latest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sim.Latest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotView(snap))
}

func (h *httpHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	hour, err := strconv.Atoi(chi.URLParam(r, "hour"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: hour must be an integer", ErrInvalidRequest))
		return
	}
	snap, err := h.sim.SnapshotAt(hour)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotView(snap))
}

func (h *httpHandler) rangeParams(r *http.Request) (from, to int, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: from must be an integer", ErrInvalidRequest)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: to must be an integer", ErrInvalidRequest)
		}
	}
	return from, to, nil
}

func (h *httpHandler) history(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.rangeParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HistoryView(h.sim.History(from, to)))
}

func (h *httpHandler) historyCSV(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.rangeParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	if err := report.WriteCSV(w, h.sim.History(from, to)); err != nil {
		h.logger(r).Warn(r.Context(), "csv export failed", logging.Err(err))
	}
}

func (h *httpHandler) summary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, SummaryView(h.sim.Summary()))
}

func (h *httpHandler) network(w http.ResponseWriter, r *http.Request) {
	var (
		snap *core.HourSnapshot
		err  error
	)
	switch v := r.URL.Query().Get("hour"); v {
	case "":
		// Latest hour if any; a run that has not started still has a layout.
		snap, _ = h.sim.Latest()
	default:
		hour, convErr := strconv.Atoi(v)
		if convErr != nil {
			h.writeError(w, r, fmt.Errorf("%w: hour must be an integer", ErrInvalidRequest))
			return
		}
		if snap, err = h.sim.SnapshotAt(hour); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	ctx, span := StartChildSpan(r.Context(), "report.NetworkLayer", "", "")
	fc := report.NetworkLayer(h.sim.Topology(), h.sim.Sites(), snap)
	span.End()

	raw, err := fc.MarshalJSON()
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(raw)
}

type moveSiteRequest struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

func (h *httpHandler) moveSite(w http.ResponseWriter, r *http.Request) {
	var req moveSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if req.Lon == nil || req.Lat == nil {
		h.writeError(w, r, fmt.Errorf("%w: lon and lat are required", ErrInvalidRequest))
		return
	}
	site, err := h.sim.MoveSite(r.Context(), chi.URLParam(r, "id"), orb.Point{*req.Lon, *req.Lat})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SiteView(site))
}

func (h *httpHandler) control(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, r, http.StatusOK, StatusView(h.sim))
	}
}
