package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/sanitizer"
	"github.com/duckmesh/querypilot/internal/schema"
)

type sanitizeRequest struct {
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
}

type sanitizeResponse struct {
	Allowed bool   `json:"allowed"`
	SQL     string `json:"sql,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func handleSanitize(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request sanitizeRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sanitize request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Dialect) != "" {
		if _, err := schema.ParseDialect(request.Dialect); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DIALECT", err.Error(), false, nil)
			return
		}
	}

	sanitized, err := sanitizer.Check(request.SQL, request.Dialect)
	if err != nil {
		message := err.Error()
		var typed *agenterr.Error
		if errors.As(err, &typed) {
			message = typed.Message
		}
		writeJSON(w, http.StatusOK, sanitizeResponse{Allowed: false, Reason: message})
		return
	}
	writeJSON(w, http.StatusOK, sanitizeResponse{Allowed: true, SQL: sanitized})
}
