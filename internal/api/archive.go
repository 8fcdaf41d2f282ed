package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/export"
	"github.com/duckmesh/querypilot/internal/storage"
)

func handleGetArchive(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	key := r.PathValue("key")
	if r.URL.Query().Get("format") == "json" {
		previewArchive(deps, w, r, key)
		return
	}

	body, info, err := deps.Archive.Open(r.Context(), key)
	if err != nil {
		writeArchiveError(w, r, key, err)
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if rows := info.Metadata[storage.MetaRows]; rows != "" {
		w.Header().Set("X-Result-Rows", rows)
	}
	if runID := info.Metadata[storage.MetaRunID]; runID != "" {
		w.Header().Set("X-Run-ID", runID)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func previewArchive(deps Dependencies, w http.ResponseWriter, r *http.Request, key string) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > export.MaxPreviewRows {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	preview, err := deps.Archive.Preview(r.Context(), key, limit)
	if err != nil {
		writeArchiveError(w, r, key, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func writeArchiveError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "archived result was not found", false, map[string]any{"key": key})
		return
	}
	if _, parseErr := storage.ParseArchiveKey(key); parseErr != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARCHIVE_KEY", parseErr.Error(), false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_READ_FAILED", "failed to read archived result", true, map[string]any{"details": err.Error()})
}
