package web

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockimport/internal/core"
)

// xlsxContentType is the media type for generated workbooks.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam treats "1", "true" and similar as true.
func parseBoolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// parseRowStatus validates the optional ?status= filter.
func parseRowStatus(r *http.Request) (core.RowStatus, error) {
	status := core.RowStatus(r.URL.Query().Get("status"))
	switch status {
	case "", core.StatusPending, core.StatusValid, core.StatusError,
		core.StatusProcessing, core.StatusCompleted, core.StatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown row status %q", status)
}

func importTypeParam(r *http.Request) string {
	return chi.URLParam(r, "importType")
}

func runIDParam(r *http.Request) string {
	return chi.URLParam(r, "runID")
}

// setDownloadHeaders marks the response as a file attachment.
func setDownloadHeaders(w http.ResponseWriter, fileName string) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
}

// handleHealth reports liveness and run capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.service.Limiter().Status(),
		"time":   time.Now().UTC(),
	})
}
