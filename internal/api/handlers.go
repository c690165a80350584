// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/calscribe/internal/calendar"
	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/ledger"
	"github.com/kalambet/calscribe/internal/reconcile"
	"github.com/kalambet/calscribe/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ActionExtractor abstracts the intent extraction step.
type ActionExtractor interface {
	Extract(ctx context.Context, message string, ledger []intent.LedgerEntry, now time.Time) ([]intent.ProposedAction, error)
}

// CalendarReader is the remote calendar read surface.
type CalendarReader interface {
	ListUpcoming(ctx context.Context, calendarIDs []string, window time.Duration) ([]calendar.RemoteEvent, error)
	Get(ctx context.Context, gcalID string) (*calendar.RemoteEvent, error)
}

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Store      *storage.Store
	Ledger     *ledger.Manager
	Extractor  ActionExtractor
	Reconciler *reconcile.Reconciler
	Token      string
	Provider   string
	Model      string

	// CallbackURL is the OAuth redirect this server answers on.
	CallbackURL string
	// AuthURLFn and ExchangeFn default to the calendar package; tests
	// override them.
	AuthURLFn  func(redirectURL string) (string, error)
	ExchangeFn func(ctx context.Context, code, redirectURL string) error
	// OnAuthorized runs after a successful token exchange, letting the
	// server attach the calendar client without a restart.
	OnAuthorized func()
	// Calendar returns the remote reader, or nil while the calendar is
	// not authorized.
	Calendar func() CalendarReader
}

// NewAppHandler returns the HTTP API router. The OAuth callback and health
// check are unauthenticated; everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.AuthURLFn == nil {
		deps.AuthURLFn = calendar.AuthURL
	}
	if deps.ExchangeFn == nil {
		deps.ExchangeFn = calendar.Exchange
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/auth/callback", handleAuthCallback(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/extract", handleExtract(deps))
		r.Post("/actions/apply", handleApplyAction(deps))
		r.Get("/events", handleListEvents(deps))
		r.Get("/events/{id}", handleGetEvent(deps))
		r.Get("/events/{id}/remote", handleGetRemoteEvent(deps))
		r.Post("/events/{id}/retry", handleRetryEvent(deps))
		r.Get("/calendar/upcoming", handleUpcomingEvents(deps))
		r.Get("/extractions", handleListExtractions(deps))
		r.Get("/extractions/{id}", handleGetExtraction(deps))
		r.Get("/auth/url", handleAuthURL(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type ExtractRequest struct {
	Message string `json:"message"`
	// Apply enqueues confident actions for application. Defaults to true.
	Apply *bool `json:"apply,omitempty"`
}

type ExtractResponse struct {
	ID       string                  `json:"id"`
	Actions  []intent.ProposedAction `json:"actions"`
	Enqueued int                     `json:"enqueued"`
	Pending  []intent.ProposedAction `json:"pending"`
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		snapshot, err := deps.Ledger.Snapshot()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load ledger: %v", err)
			return
		}

		extractionID := uuid.New().String()

		actions, err := deps.Extractor.Extract(r.Context(), req.Message, snapshot, time.Now())
		if err != nil {
			saveExtraction(deps, extractionID, req.Message, nil, "failed")
			httpError(w, http.StatusBadGateway, "api_error", "extraction failed: %v", err)
			return
		}
		saveExtraction(deps, extractionID, req.Message, actions, "completed")

		resp := ExtractResponse{
			ID:      extractionID,
			Actions: actions,
			Pending: []intent.ProposedAction{},
		}

		apply := req.Apply == nil || *req.Apply
		if apply {
			enqueued, pending, err := deps.Reconciler.ProcessAuto(actions, req.Message)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue actions: %v", err)
				return
			}
			resp.Enqueued = enqueued
			if pending != nil {
				resp.Pending = pending
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// saveExtraction records the extraction for history. Best effort: a failed
// insert does not affect the extraction result.
func saveExtraction(deps AppDeps, id, message string, actions []intent.ProposedAction, status string) {
	actionsJSON := "[]"
	if len(actions) > 0 {
		if b, err := json.Marshal(actions); err == nil {
			actionsJSON = string(b)
		}
	}
	_ = deps.Store.SaveExtraction(storage.Extraction{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		Message:     message,
		ActionsJSON: actionsJSON,
		Provider:    deps.Provider,
		Model:       deps.Model,
		Status:      status,
	})
}

type ApplyActionRequest struct {
	Action       intent.ProposedAction `json:"action"`
	OriginalText string                `json:"original_text"`
}

func handleApplyAction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ApplyActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Action.Type == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action.type is required")
			return
		}
		switch req.Action.Type {
		case intent.ActionCreate, intent.ActionUpdate, intent.ActionMove:
			if req.Action.Event == nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "action.event is required for %s actions", req.Action.Type)
				return
			}
		}

		rec, err := deps.Reconciler.Apply(r.Context(), req.Action, req.OriginalText)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply action: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if rec == nil {
			json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
			return
		}
		json.NewEncoder(w).Encode(rec)
	}
}

func handleListEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		events, err := deps.Ledger.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list events: %v", err)
			return
		}
		if events == nil {
			events = []storage.EventRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleGetEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Ledger.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// calendarReader resolves the live remote reader, nil when unauthorized.
func calendarReader(deps AppDeps) CalendarReader {
	if deps.Calendar == nil {
		return nil
	}
	return deps.Calendar()
}

func handleGetRemoteEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Ledger.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}
		if ledger.IsPlaceholder(rec.GCalID) {
			httpError(w, http.StatusConflict, "invalid_request_error", "event is not mirrored to the calendar yet")
			return
		}

		reader := calendarReader(deps)
		if reader == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "calendar not authorized")
			return
		}

		ev, err := reader.Get(r.Context(), rec.GCalID)
		if errors.Is(err, calendar.ErrNotAuthorized) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "calendar not authorized")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch remote event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ev)
	}
}

func handleUpcomingEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reader := calendarReader(deps)
		if reader == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "calendar not authorized")
			return
		}

		window := 7 * 24 * time.Hour
		if s := r.URL.Query().Get("window"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid window %q", s)
				return
			}
			window = d
		}

		var calendarIDs []string
		if s := r.URL.Query().Get("calendars"); s != "" {
			calendarIDs = strings.Split(s, ",")
		}

		events, err := reader.ListUpcoming(r.Context(), calendarIDs, window)
		if errors.Is(err, calendar.ErrNotAuthorized) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "calendar not authorized")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list upcoming events: %v", err)
			return
		}
		if events == nil {
			events = []calendar.RemoteEvent{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleRetryEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Reconciler.Retry(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleListExtractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		extractions, err := deps.Store.ListExtractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list extractions: %v", err)
			return
		}
		if extractions == nil {
			extractions = []storage.Extraction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(extractions)
	}
}

func handleGetExtraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		x, err := deps.Store.GetExtraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "extraction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get extraction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(x)
	}
}

func handleAuthURL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := deps.AuthURLFn(deps.CallbackURL)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build auth url: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": url})
	}
}

func handleAuthCallback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing code parameter")
			return
		}

		if err := deps.ExchangeFn(r.Context(), code, deps.CallbackURL); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "token exchange failed: %v", err)
			return
		}
		if deps.OnAuthorized != nil {
			deps.OnAuthorized()
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Calendar connected</h1><p>You can close this tab.</p></body></html>`)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
