package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kjanssen/arbot/internal/domain"
)

// ArchivesHandler lists and serves cold-storage archive objects.
type ArchivesHandler struct {
	blobs  domain.BlobReader // nil when object storage is not configured
	logger *slog.Logger
}

// NewArchivesHandler creates an ArchivesHandler backed by the given reader.
func NewArchivesHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchivesHandler {
	return &ArchivesHandler{blobs: blobs, logger: logHandler(logger, "archives")}
}

// listArchivesResponse wraps the archive listing.
type listArchivesResponse struct {
	Archives []domain.BlobInfo `json:"archives"`
	Count    int               `json:"count"`
}

// ListArchives returns the archive objects under a prefix.
// GET /api/archives?prefix=archive/trades/
func (h *ArchivesHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "object storage not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	if infos == nil {
		infos = []domain.BlobInfo{}
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{
		Archives: infos,
		Count:    len(infos),
	})
}

// Download streams a single archive object as newline-delimited JSON.
// GET /api/archives/{path...}
func (h *ArchivesHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "object storage not configured")
		return
	}

	path := pathParam(r, "path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	rc, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get archive")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already sent; all that is left is to log the break.
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
