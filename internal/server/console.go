package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/app"
)

// writeConsoleError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details.
func writeConsoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, gateway.NewError(http.StatusNotFound, "not_found", "not found"))
	case errors.Is(err, gateway.ErrConflict):
		writeError(w, gateway.NewError(http.StatusConflict, "conflict", "conflict"))
	default:
		var ge *gateway.GatewayError
		if errors.As(err, &ge) {
			writeError(w, ge)
			return
		}
		slog.LogAttrs(r.Context(), slog.LevelError, "console error",
			slog.String("error", err.Error()),
		)
		writeError(w, gateway.NewError(http.StatusInternalServerError, "internal_error", "internal error"))
	}
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Keys.ListKeys(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keys})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label     string   `json:"label"`
		Scopes    []string `json:"scopes"`
		RateLimit *int     `json:"rate_limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	actor := gateway.ActorFromContext(r.Context())
	secret, key, err := s.deps.Keys.IssueKey(r.Context(), app.IssueKeyOpts{
		OrgID:     chi.URLParam(r, "org"),
		Label:     req.Label,
		Scopes:    req.Scopes,
		CreatedBy: actor.UserID,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		writeConsoleError(w, r, err)
		return
	}

	// The plaintext secret appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    key,
		"secret": secret,
	})
}

func (s *server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.deps.Keys.RevokeKey(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, gateway.ErrKeyRevoked) {
		writeConsoleError(w, r, err)
		return
	}
	// Already-revoked resolves to the same terminal state; report it as
	// success with the unchanged record.
	writeJSON(w, http.StatusOK, map[string]any{
		"key":             key,
		"already_revoked": errors.Is(err, gateway.ErrKeyRevoked),
	})
}

// handleOrgUsage summarizes a day's usage events for the org. Defaults to
// today (UTC) unless a ?day=YYYY-MM-DD is given.
func (s *server) handleOrgUsage(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = gateway.DayKey(time.Now())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, gateway.NewError(http.StatusBadRequest, gateway.CodeUnsupportedRequest,
			"invalid day format, use YYYY-MM-DD").WithParam("day"))
		return
	}

	events, err := s.deps.Usage.UsageEventsForDay(r.Context(), chi.URLParam(r, "org"), day)
	if err != nil {
		writeConsoleError(w, r, err)
		return
	}

	summary := struct {
		Day              string `json:"day"`
		Requests         int    `json:"requests"`
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
		HeavyRequests    int    `json:"heavy_requests"`
		StreamedRequests int    `json:"streamed_requests"`

		ByModel map[string]int `json:"by_model"`
	}{Day: day, ByModel: make(map[string]int)}

	for _, e := range events {
		summary.Requests++
		summary.PromptTokens += e.PromptTokens
		summary.CompletionTokens += e.CompletionTokens
		if e.Heavy {
			summary.HeavyRequests++
		}
		if e.Streamed {
			summary.StreamedRequests++
		}
		summary.ByModel[e.Model]++
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleOrgErrors lists recent request errors. Window defaults to 24h.
func (s *server) handleOrgErrors(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, gateway.NewError(http.StatusBadRequest, gateway.CodeUnsupportedRequest,
				"invalid window, use a Go duration like 6h").WithParam("window"))
			return
		}
		window = d
	}

	errs, err := s.deps.Usage.RequestErrorsForOrg(r.Context(), chi.URLParam(r, "org"), window)
	if err != nil {
		writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": errs})
}
