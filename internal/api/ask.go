package api

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/duckmesh/querypilot/internal/agent"
	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/config"
	"github.com/duckmesh/querypilot/internal/progress"
)

const maxQuestionChars = 4000

type askRequest struct {
	SessionID    string          `json:"session_id"`
	ConnectionID string          `json:"connection_id"`
	Question     string          `json:"question"`
	History      []agent.Message `json:"history"`
	Strategy     string          `json:"strategy"`
	Export       bool            `json:"export"`
}

type askResponse struct {
	agent.Response
	SessionID string           `json:"session_id"`
	Events    []progress.Event `json:"events"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Question = strings.TrimSpace(request.Question)
	if request.Question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if len([]rune(request.Question)) > maxQuestionChars {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_chars": maxQuestionChars})
		return
	}
	connectionID, ok := resolveConnection(deps, request.ConnectionID)
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_REQUIRED", "connection_id is required", false, nil)
		return
	}
	strategy := strings.ToLower(strings.TrimSpace(request.Strategy))
	switch strategy {
	case "":
		strategy = cfg.Agent.Strategy
	case agent.StrategyPipeline, agent.StrategyToolLoop:
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_STRATEGY", "strategy must be pipeline or toolloop", false, map[string]any{"strategy": request.Strategy})
		return
	}
	if request.Export && !cfg.Export.Enabled {
		writeError(r.Context(), w, http.StatusBadRequest, "EXPORT_DISABLED", "result export is not enabled", false, nil)
		return
	}
	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if cfg.Agent.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Agent.RunTimeout)
		defer cancel()
	}

	run := agent.RunRequest{
		SessionID:    sessionID,
		ConnectionID: connectionID,
		Question:     request.Question,
		History:      request.History,
		Strategy:     strategy,
		Export:       request.Export,
	}

	if wantsEventStream(r) {
		streamAsk(ctx, deps, w, run)
		return
	}

	recorder := &progress.Recorder{}
	run.Sink = progress.Multi(recorder, progress.LogSink{Logger: deps.Logger})
	response, err := deps.Agent.Run(ctx, run)
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Response: response, SessionID: sessionID, Events: recorder.Events()})
}

// streamAsk sends events as they happen. Failures arrive as an error event because the
// status line is already written.
func streamAsk(ctx context.Context, deps Dependencies, w http.ResponseWriter, run agent.RunRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := progress.NewSSE(w)
	run.Sink = progress.Multi(sse, progress.LogSink{Logger: deps.Logger})
	if _, err := deps.Agent.Run(ctx, run); err != nil && deps.Logger != nil {
		deps.Logger.InfoContext(ctx, "ask_stream_failed", slog.String("session_id", run.SessionID), slog.Any("error", err))
	}
	if err := sse.Err(); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(ctx, "ask_stream_write_failed", slog.String("session_id", run.SessionID), slog.Any("error", err))
	}
}

// resolveConnection defaults to the only configured connection when none is named.
func resolveConnection(deps Dependencies, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		return requested, true
	}
	if deps.Connections == nil {
		return "", false
	}
	connections := deps.Connections.List()
	if len(connections) != 1 {
		return "", false
	}
	return connections[0].ID, true
}

func wantsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}
