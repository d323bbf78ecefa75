// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/metrics"
	"github.com/devpilot/orchestrator/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type createSessionRequest struct {
	ProjectName string `json:"project_name"`
	Autonomous  bool   `json:"autonomous"`
}

type continueSessionRequest struct {
	Inputs map[string]any `json:"inputs"`
}

type reviewRequest struct {
	Phase    string `json:"phase"`
	Feedback string `json:"feedback"`
}

type sessionResponse struct {
	SessionID      string            `json:"session_id"`
	ProjectName    string            `json:"project_name"`
	CurrentPhase   string            `json:"current_phase"`
	PhaseKind      string            `json:"phase_kind"`
	AutonomousMode bool              `json:"autonomous_mode"`
	Completion     float64           `json:"completion_percentage"`
	ReviewStatus   map[string]string `json:"review_status"`
}

type Deps struct {
	Sessions   SessionRunner
	Connectors ConnectorReporter
	Health     HealthChecker
	Logger     *slog.Logger

	AdminToken string

	// SessionRateLimit bounds mutation requests per session per minute;
	// zero disables the limiter.
	SessionRateLimit int

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- CONNECTORS ----------------

	r.Get("/connectors", func(w http.ResponseWriter, r *http.Request) {
		if deps.Connectors == nil {
			writeJSON(w, http.StatusOK, map[string]any{"connectors": map[string]any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"connectors": deps.Connectors.Status(r.Context()),
		})
	})

	// ---------------- SESSIONS ----------------

	mutation := func(r chi.Router) chi.Router {
		if deps.SessionRateLimit > 0 {
			return r.With(middleware.SessionRateLimit(deps.SessionRateLimit, logger))
		}
		return r
	}

	mutation(r).Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := decodeCreateSessionRequest(r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		state, err := deps.Sessions.Start(r.Context(), reqBody.ProjectName, reqBody.Autonomous)
		if err != nil && !isPhaseFailure(err) {
			logger.Error("start session failed", "error", err)
			http.Error(w, "failed to start session", http.StatusInternalServerError)
			return
		}
		if err != nil {
			// The session exists and is resumable; surface the failed phase.
			writePhaseFailure(w, logger, state.SessionID, err)
			return
		}

		logger.Info("session created via API",
			"session_id", state.SessionID,
			"project", state.ProjectName,
		)
		writeJSON(w, http.StatusCreated, toSessionResponse(state))
	})

	r.Route("/sessions/{id}", func(sr chi.Router) {
		mutation(sr).Post("/continue", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}
			reqBody, err := decodeContinueSessionRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			state, err := deps.Sessions.Continue(r.Context(), id, reqBody.Inputs)
			if err != nil {
				writeSessionError(w, logger, "continue session", id, err)
				return
			}
			writeJSON(w, http.StatusOK, toSessionResponse(state))
		})

		mutation(sr).Post("/approve", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}
			reqBody, err := decodeReviewRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			state, err := deps.Sessions.Approve(r.Context(), id, domain.Phase(reqBody.Phase))
			if err != nil {
				writeSessionError(w, logger, "approve review", id, err)
				return
			}

			logger.Info("review approved via API", "session_id", id, "phase", reqBody.Phase)
			writeJSON(w, http.StatusOK, toSessionResponse(state))
		})

		mutation(sr).Post("/feedback", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}
			reqBody, err := decodeReviewRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if strings.TrimSpace(reqBody.Feedback) == "" {
				http.Error(w, "feedback text required", http.StatusBadRequest)
				return
			}

			state, err := deps.Sessions.Feedback(r.Context(), id, domain.Phase(reqBody.Phase), reqBody.Feedback)
			if err != nil {
				writeSessionError(w, logger, "record feedback", id, err)
				return
			}

			logger.Info("review feedback via API", "session_id", id, "phase", reqBody.Phase)
			writeJSON(w, http.StatusOK, toSessionResponse(state))
		})

		sr.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}

			report, err := deps.Sessions.Status(r.Context(), id)
			if err != nil {
				writeSessionError(w, logger, "get status", id, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		// ---------------- STREAM EXECUTION LOG (SSE) ----------------

		sr.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}

			cursor, err := resolveEventsCursor(r.URL.Query().Get("since"))
			if err != nil {
				http.Error(w, "invalid since", http.StatusBadRequest)
				return
			}

			if _, err := deps.Sessions.Log(r.Context(), id); errors.Is(err, domain.ErrSessionNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			writeEvents := func() error {
				entries, err := deps.Sessions.Log(r.Context(), id)
				if err != nil {
					return err
				}

				for ; cursor < len(entries); cursor++ {
					payload, err := json.Marshal(struct {
						Seq int `json:"seq"`
						domain.ExecutionEntry
					}{Seq: cursor, ExecutionEntry: entries[cursor]})
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(w, "event: execution_entry\ndata: %s\n\n", payload); err != nil {
						return err
					}
					flusher.Flush()
				}
				return nil
			}

			if err := writeEvents(); err != nil {
				logger.Error("sse initial write failed", "session_id", id, "error", err)
				return
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-r.Context().Done():
					return
				case <-ticker.C:
					if err := writeEvents(); err != nil {
						logger.Error("sse write failed", "session_id", id, "error", err)
						return
					}
				}
			}
		})

		// ---------------- TERMINATE (ADMIN) ----------------

		sr.With(middleware.AdminTokenAuth(deps.AdminToken, logger)).Delete("/", func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessionID(w, r)
			if !ok {
				return
			}

			if err := deps.Sessions.Terminate(r.Context(), id); err != nil {
				writeSessionError(w, logger, "terminate session", id, err)
				return
			}

			logger.Info("session terminated via API", "session_id", id)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func isPhaseFailure(err error) bool {
	var workerErr *domain.WorkerError
	return errors.As(err, &workerErr)
}

// writePhaseFailure reports a failed work phase. The session survived and is
// resumable via continue once the underlying fault clears.
func writePhaseFailure(w http.ResponseWriter, logger *slog.Logger, id uuid.UUID, err error) {
	var workerErr *domain.WorkerError
	if !errors.As(err, &workerErr) {
		http.Error(w, "phase execution failed", http.StatusBadGateway)
		return
	}

	logger.Warn("phase execution failed",
		"session_id", id,
		"phase", workerErr.Phase,
		"error", workerErr.Err,
	)
	writeJSON(w, http.StatusBadGateway, map[string]string{
		"error":      "phase execution failed",
		"phase":      string(workerErr.Phase),
		"session_id": id.String(),
	})
}

func writeSessionError(w http.ResponseWriter, logger *slog.Logger, op string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidPhase), errors.Is(err, domain.ErrNotGatePhase):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrPhaseNotAwaitingReview),
		errors.Is(err, domain.ErrReviewAlreadyResolved),
		errors.Is(err, domain.ErrSessionTerminal):
		http.Error(w, err.Error(), http.StatusConflict)
	case isPhaseFailure(err):
		writePhaseFailure(w, logger, id, err)
	default:
		logger.Error(op+" failed", "session_id", id, "error", err)
		http.Error(w, "failed to "+op, http.StatusInternalServerError)
	}
}

func toSessionResponse(state *domain.WorkflowState) sessionResponse {
	reviews := make(map[string]string, len(state.ReviewStatus))
	for phase, status := range state.ReviewStatus {
		reviews[string(phase)] = string(status)
	}
	return sessionResponse{
		SessionID:      state.SessionID.String(),
		ProjectName:    state.ProjectName,
		CurrentPhase:   string(state.CurrentPhase),
		PhaseKind:      string(state.CurrentPhase.Kind()),
		AutonomousMode: state.AutonomousMode,
		Completion:     state.CompletionPercentage(),
		ReviewStatus:   reviews,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateSessionRequest(r *http.Request) (createSessionRequest, error) {
	var req createSessionRequest
	if err := decodeSingleObject(r, &req); err != nil {
		return createSessionRequest{}, err
	}

	req.ProjectName = strings.TrimSpace(req.ProjectName)
	if req.ProjectName == "" {
		return createSessionRequest{}, errors.New("project_name required")
	}
	return req, nil
}

func decodeContinueSessionRequest(r *http.Request) (continueSessionRequest, error) {
	var req continueSessionRequest
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	if err := decodeSingleObject(r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return continueSessionRequest{}, nil
		}
		return continueSessionRequest{}, err
	}
	return req, nil
}

func decodeReviewRequest(r *http.Request) (reviewRequest, error) {
	var req reviewRequest
	if err := decodeSingleObject(r, &req); err != nil {
		return reviewRequest{}, err
	}

	req.Phase = strings.TrimSpace(req.Phase)
	if req.Phase == "" {
		return reviewRequest{}, errors.New("phase required")
	}
	return req, nil
}

func decodeSingleObject(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return io.EOF
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}

func resolveEventsCursor(since string) (int, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		return 0, nil
	}

	seq, err := strconv.Atoi(since)
	if err != nil || seq < 0 {
		return 0, errors.New("invalid since")
	}
	// The cursor is exclusive: since=N resumes after entry N.
	return seq + 1, nil
}
