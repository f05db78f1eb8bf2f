package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/orator/internal/deck"
	"github.com/MikeSquared-Agency/orator/internal/live"
	"github.com/MikeSquared-Agency/orator/internal/metrics"
	"github.com/MikeSquared-Agency/orator/internal/photos"
	"github.com/MikeSquared-Agency/orator/internal/store"
	"github.com/MikeSquared-Agency/orator/internal/theme"
)

const heartbeatInterval = 15 * time.Second

// RunLauncher starts generation runs. Implemented by *generate.Service.
type RunLauncher interface {
	StartRun(ctx context.Context, req deck.Request) (string, error)
}

// PhotoSearcher finds stock photos for the editor. Implemented by
// *photos.Client.
type PhotoSearcher interface {
	Search(ctx context.Context, query string, perPage int) ([]photos.Photo, error)
}

type Server struct {
	store     store.DataStore
	runs      RunLauncher
	hub       *live.Hub
	photos    PhotoSearcher
	collector *metrics.Collector
	router    chi.Router
	port      int
}

// NewServer wires the HTTP API. photos and collector may be nil; the
// matching endpoints degrade instead of failing startup.
func NewServer(s store.DataStore, runs RunLauncher, hub *live.Hub, ph PhotoSearcher, collector *metrics.Collector, port int) *Server {
	srv := &Server{
		store:     s,
		runs:      runs,
		hub:       hub,
		photos:    ph,
		collector: collector,
		port:      port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Post("/decks/generate", srv.handleGenerate)
		r.Get("/decks", srv.handleListDecks)
		r.Get("/decks/{deckID}", srv.handleGetDeck)
		r.Delete("/decks/{deckID}", srv.handleDeleteDeck)
		r.Get("/generations", srv.handleListRuns)
		r.Get("/generations/{runID}", srv.handleGetRun)
		r.Get("/generations/{runID}/events", srv.handleRunEvents)
		r.Get("/themes", srv.handleThemes)
		r.Get("/photos", srv.handlePhotos)
		r.Get("/stats", srv.handleStats)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "orator",
	}
	if s.collector != nil {
		body["runs_active"] = s.collector.Snapshot()["runs_active"]
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	req, err := deck.Normalize(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request needs input or an outline for its mode"})
		return
	}

	runID, err := s.runs.StartRun(r.Context(), req)
	if err != nil {
		slog.Error("start run failed", "request_id", req.RequestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": deck.StatusPending,
	})
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	decks, err := s.store.QueryDecks(r.Context(), limit)
	if err != nil {
		slog.Error("query decks failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, decks)
}

func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	deckID := chi.URLParam(r, "deckID")

	d, err := s.store.GetDeck(r.Context(), deckID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "deck not found"})
		return
	}

	slides, _ := s.store.GetDeckSlides(r.Context(), deckID)
	d["slides"] = slides

	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	deckID := chi.URLParam(r, "deckID")

	if err := s.store.DeleteDeck(r.Context(), deckID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "deck not found"})
			return
		}
		slog.Error("delete deck failed", "deck_id", deckID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deck_id": deckID, "status": "deleted"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.store.QueryRuns(r.Context(), status, limit)
	if err != nil {
		slog.Error("query runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunEvents streams live.Snapshot frames over SSE until the run
// reaches a terminal status. Runs already finished get a single snapshot
// rebuilt from the store.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	status, _ := run["status"].(string)
	if terminalStatus(status) {
		writeSSE(w, flusher, s.snapshotFromRun(r.Context(), runID, run))
		return
	}

	// Subscribe before flushing headers so no snapshot can slip between the
	// client seeing the stream open and delivery starting.
	snaps, cancel := s.hub.Subscribe(runID)
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case snap := <-snaps:
			writeSSE(w, flusher, snap)
			if terminalStatus(snap.Status) {
				return
			}
		}
	}
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := theme.List()
	if err != nil {
		slog.Error("load theme catalog failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"themes":  themes,
		"default": theme.DefaultName,
	})
}

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	if s.photos == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "photo search is not configured"})
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	perPage := 12
	if p := r.URL.Query().Get("per_page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 80 {
			perPage = n
		}
	}

	results, err := s.photos.Search(r.Context(), query, perPage)
	if err != nil {
		slog.Error("photo search failed", "query", query, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "photo search failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"photos": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		slog.Error("query run stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if s.collector != nil {
		stats["process"] = s.collector.Snapshot()
	}

	writeJSON(w, http.StatusOK, stats)
}

// snapshotFromRun rebuilds a terminal snapshot for SSE clients that connect
// after the run finished and the hub forgot it.
func (s *Server) snapshotFromRun(ctx context.Context, runID string, run map[string]any) live.Snapshot {
	snap := live.Snapshot{RunID: runID, BatchIndex: -1}
	snap.Status, _ = run["status"].(string)
	if n, ok := run["batches_done"].(int); ok && n > 0 {
		snap.BatchIndex = n - 1
	}
	if n, ok := run["slide_count"].(int); ok {
		snap.SlideCount = n
	}
	snap.Error, _ = run["error"].(string)

	if deckID, ok := run["deck_id"].(string); ok && deckID != "" {
		if slides, err := s.store.GetDeckSlides(ctx, deckID); err == nil {
			snap.Slides = slides
			snap.SlideCount = len(slides)
		}
	}
	return snap
}

func terminalStatus(status string) bool {
	return status == deck.StatusComplete || status == deck.StatusFailed
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, snap live.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
