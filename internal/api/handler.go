package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/engine"
	"github.com/certsentry/certsentry/internal/store"
)

// Runner triggers monitoring runs. Satisfied by engine.Engine.
type Runner interface {
	RunNow(ctx context.Context) (*engine.Report, error)
}

// Broadcaster pushes finished run reports to streaming clients.
// Satisfied by ws.Hub.
type Broadcaster interface {
	Broadcast(rep *engine.Report)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Handler is the HTTP handler for all routes.
type Handler struct {
	runner  Runner
	store   store.RecordStore
	hub     Broadcaster
	metrics http.Handler
	router  chi.Router
}

// New creates a Handler and registers all routes. The metrics handler and
// hub may be nil; their routes then answer 404.
func New(runner Runner, st store.RecordStore, hub Broadcaster, metrics http.Handler) http.Handler {
	h := &Handler{runner: runner, store: st, hub: hub, metrics: metrics}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/run", h.triggerRun)
		r.Get("/records", h.listRecords)
		r.Get("/records/{targetID}", h.getRecord)
		if hub != nil {
			r.Get("/stream", hub.ServeHTTP)
		}
	})
	if metrics != nil {
		r.Get("/metrics", metrics.ServeHTTP)
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// HealthResponse is the GET /api/v1/health body.
type HealthResponse struct {
	Status   string         `json:"status"`
	Targets  int            `json:"targets"`
	ByStatus map[string]int `json:"by_status"`
	Time     string         `json:"time"`
}

// health returns GET /api/v1/health: record counts per certificate status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := HealthResponse{
		Status:   "ok",
		Targets:  len(records),
		ByStatus: make(map[string]int),
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	for _, rec := range records {
		resp.ByStatus[string(rec.Status)]++
	}
	jsonResp(w, http.StatusOK, resp)
}

// triggerRun handles POST /api/v1/run: executes one monitoring run and
// returns its report. A run already in flight answers 409.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runner.RunNow(r.Context())
	if errors.Is(err, engine.ErrRunInProgress) {
		jsonErr(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(rep)
	}
	jsonResp(w, http.StatusOK, rep)
}

// listRecords returns GET /api/v1/records: the current record of every
// target, optionally filtered with ?status=expiring.
func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	if want := r.URL.Query().Get("status"); want != "" {
		filtered := make([]cert.Record, 0, len(records))
		for _, rec := range records {
			if string(rec.Status) == want {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	jsonResp(w, http.StatusOK, records)
}

// getRecord returns GET /api/v1/records/{targetID}: one target's current
// record.
func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "targetID"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid target id")
		return
	}

	rec, ok, err := h.store.Latest(r.Context(), id)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "record not found")
		return
	}
	jsonResp(w, http.StatusOK, rec)
}

// --- helpers ----------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
