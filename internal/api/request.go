package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/executor"
)

const maxRequestBytes = 1 << 20

// requireRole passes anonymous requests through; auth is enforced by the middleware when
// configured, so an identity without the role is the only rejection.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

type errorMapping struct {
	status    int
	code      string
	retryable bool
}

// classifyError maps agent and executor failures onto the HTTP error envelope.
func classifyError(err error) errorMapping {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "AGENT_TIMEOUT", true}
	case errors.Is(err, context.Canceled):
		return errorMapping{499, "REQUEST_CANCELED", true}
	case errors.Is(err, executor.ErrUnknownConnection):
		return errorMapping{http.StatusNotFound, "CONNECTION_NOT_FOUND", false}
	}
	switch agenterr.KindOf(err) {
	case agenterr.Security:
		return errorMapping{http.StatusUnprocessableEntity, "SQL_NOT_ALLOWED", false}
	case agenterr.GenerationParse:
		return errorMapping{http.StatusBadGateway, "GENERATION_FAILED", true}
	case agenterr.Execution:
		return errorMapping{http.StatusUnprocessableEntity, "QUERY_EXECUTION_FAILED", false}
	case agenterr.BudgetExhausted:
		return errorMapping{http.StatusUnprocessableEntity, "BUDGET_EXHAUSTED", false}
	case agenterr.Service:
		return errorMapping{http.StatusBadGateway, "AI_SERVICE_ERROR", true}
	default:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", false}
	}
}

func writeClassifiedError(w http.ResponseWriter, r *http.Request, err error) {
	mapping := classifyError(err)
	extra := map[string]any{"kind": string(agenterr.KindOf(err))}
	var typed *agenterr.Error
	if errors.As(err, &typed) {
		if typed.SQL != "" {
			extra["sql"] = typed.SQL
		}
		if typed.Attempts > 0 {
			extra["attempts"] = typed.Attempts
		}
	}
	writeError(r.Context(), w, mapping.status, mapping.code, err.Error(), mapping.retryable, extra)
}
