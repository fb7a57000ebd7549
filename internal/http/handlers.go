// Package httpapi exposes practice screens, the shared timer record and
// progress over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/domain"
	"github.com/hperssn/dailypractice/internal/navigation"
	"github.com/hperssn/dailypractice/internal/restore"
	"github.com/hperssn/dailypractice/internal/storage"
)

const defaultHistoryWindow = 7 * 24 * time.Hour

type Deps struct {
	Bridge   *navigation.Bridge
	Catalog  *domain.Catalog
	Progress storage.ProgressRepository
	Broker   *Broker
	Clock    clock.Clock
	Logger   *slog.Logger

	// Platform is used for requests without an X-Client-Platform header.
	Platform string
}

func NewRouter(d Deps) chi.Router {
	if d.Clock == nil {
		d.Clock = clock.System
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(ClientPlatform(d.Platform))

	r.Get("/steps", listSteps(d.Catalog))
	r.Get("/steps/{id}/progress", stepProgress(d.Bridge))
	r.Get("/stats", getStats(d.Progress))
	r.Get("/history", getHistory(d.Progress, d.Clock))

	r.Get("/timer", getIndicator(d.Bridge))
	r.Get("/events", StreamEvents(d.Bridge, d.Broker))

	r.Post("/views", openView(d.Bridge, d.Logger))
	r.Route("/views/{id}", func(r chi.Router) {
		r.Get("/", getView(d.Bridge))
		r.Delete("/", closeView(d.Bridge))
		r.Post("/activate", activateView(d.Bridge))
		r.Post("/navigate", navigateTo(d.Bridge))
		r.Post("/practices/{idx}/select", selectPractice(d.Bridge))
		r.Get("/events", StreamEvents(d.Bridge, d.Broker))

		r.Post("/timer/start", startTimer(d.Bridge))
		r.Post("/timer/pause", pauseTimer(d.Bridge))
		r.Post("/timer/resume", resumeTimer(d.Bridge))
		r.Post("/timer/stop", stopTimer(d.Bridge))
		r.Post("/timer/stopped", timerStopped(d.Bridge))
	})

	return r
}

type activationResponse struct {
	Result restore.Result      `json:"result"`
	View   navigation.Snapshot `json:"view"`
}

func listSteps(c *domain.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, c.Steps(), http.StatusOK)
	}
}

func stepProgress(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stepID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, "invalid step id", http.StatusBadRequest)
			return
		}

		step, err := b.Progress(r.Context(), stepID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, step, http.StatusOK)
	}
}

func getStats(p storage.ProgressRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := p.GetProgressStats(r.Context())
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, stats, http.StatusOK)
	}
}

// getHistory lists completions since the RFC 3339 "since" query parameter,
// defaulting to the last week.
func getHistory(p storage.ProgressRepository, c clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since := c.Now().Add(-defaultHistoryWindow)
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				respondError(w, "since must be RFC 3339", http.StatusBadRequest)
				return
			}
			since = t
		}

		records, err := p.GetRecentCompletions(r.Context(), since)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if records == nil {
			records = []storage.CompletionRecord{}
		}
		respondJSON(w, records, http.StatusOK)
	}
}

func getIndicator(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ind, err := b.Indicator(r.Context())
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, ind, http.StatusOK)
	}
}

func openView(b *navigation.Bridge, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StepID int `json:"stepId"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		s, err := b.Open(req.StepID, GetPlatform(r))
		if err != nil {
			respondFailure(w, err)
			return
		}

		logger.Info("view opened", "view_id", s.ID(), "step_id", req.StepID, "platform", GetPlatform(r))
		respondJSON(w, s.Snapshot(), http.StatusCreated)
	}
}

func getView(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}
		respondJSON(w, s.Snapshot(), http.StatusOK)
	}
}

func closeView(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.Close(chi.URLParam(r, "id")); err != nil {
			respondFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func activateView(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}

		res, err := s.Activate(r.Context())
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, activationResponse{Result: res, View: s.Snapshot()}, http.StatusOK)
	}
}

// navigateTo moves the user to the view in the URL from the optional "from"
// view in the body.
func navigateTo(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			From string `json:"from"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		id := chi.URLParam(r, "id")
		res, err := b.Navigate(r.Context(), req.From, id)
		if err != nil {
			respondFailure(w, err)
			return
		}

		s, err := b.Screen(id)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, activationResponse{Result: res, View: s.Snapshot()}, http.StatusOK)
	}
}

func selectPractice(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}

		idx, err := parsePracticeIndex(r)
		if err != nil {
			respondError(w, "invalid practice index", http.StatusBadRequest)
			return
		}

		if err := s.Select(r.Context(), idx); err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, s.Snapshot(), http.StatusOK)
	}
}

func startTimer(b *navigation.Bridge) http.HandlerFunc {
	return timerAction(b, "a timer is already active", (*navigation.Screen).Start)
}

func pauseTimer(b *navigation.Bridge) http.HandlerFunc {
	return timerAction(b, "timer is not running", (*navigation.Screen).Pause)
}

func resumeTimer(b *navigation.Bridge) http.HandlerFunc {
	return timerAction(b, "timer cannot be resumed", (*navigation.Screen).Resume)
}

// timerAction runs a screen transition that reports false when it changed
// nothing, which maps to 409.
func timerAction(b *navigation.Bridge, conflict string, action func(*navigation.Screen, context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}

		done, err := action(s, r.Context())
		if err != nil {
			respondFailure(w, err)
			return
		}
		if !done {
			respondError(w, conflict, http.StatusConflict)
			return
		}
		respondJSON(w, s.Snapshot(), http.StatusOK)
	}
}

func stopTimer(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}

		if err := s.Stop(r.Context()); err != nil {
			respondFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// timerStopped is the client runtime reporting that its countdown ended
// without a user stop.
func timerStopped(b *navigation.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, b)
		if !ok {
			return
		}

		cleared, err := s.TimerStopped(r.Context())
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, map[string]bool{"cleared": cleared}, http.StatusOK)
	}
}

func lookupScreen(w http.ResponseWriter, r *http.Request, b *navigation.Bridge) (*navigation.Screen, bool) {
	s, err := b.Screen(chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return nil, false
	}
	return s, true
}

func parsePracticeIndex(r *http.Request) (int, error) {
	idxStr := chi.URLParam(r, "idx")
	return strconv.Atoi(idxStr)
}

func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, navigation.ErrScreenNotFound):
		respondError(w, "view not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrStepNotFound):
		respondError(w, "step not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrPracticeNotFound):
		respondError(w, "practice not found", http.StatusNotFound)
	default:
		slog.Error("request failed", "error", err)
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
