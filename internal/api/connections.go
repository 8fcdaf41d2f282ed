package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/schema"
)

type connectionsResponse struct {
	Connections []executor.ConnectionInfo `json:"connections"`
}

type schemaResponse struct {
	ConnectionID string        `json:"connection_id"`
	Schema       schema.Schema `json:"schema"`
	JoinPaths    []string      `json:"join_paths"`
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connections are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, connectionsResponse{Connections: deps.Connections.List()})
}

func handleConnectionSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema introspection is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	connectionID := strings.TrimSpace(r.PathValue("id"))
	loaded, err := deps.Schemas.Load(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, executor.ErrUnknownConnection) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection was not found", false, map[string]any{"connection_id": connectionID})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_LOAD_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}

	paths := schema.JoinPaths(loaded)
	rendered := make([]string, 0, len(paths))
	for _, path := range paths {
		rendered = append(rendered, path.String())
	}
	writeJSON(w, http.StatusOK, schemaResponse{ConnectionID: connectionID, Schema: loaded, JoinPaths: rendered})
}
