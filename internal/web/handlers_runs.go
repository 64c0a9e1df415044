package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/web/templates"
)

// respondRunStatus writes the run state as JSON, or as the progress card
// for the UI.
func (s *Server) respondRunStatus(w http.ResponseWriter, r *http.Request, runID string, code int) {
	status, err := s.service.Status(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(code)
		templates.RunStatus(status).Render(r.Context(), w)
		return
	}
	writeJSON(w, code, status)
}

// handleRunStatus returns the current state of a run.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	s.respondRunStatus(w, r, runIDParam(r), http.StatusOK)
}

// handleStartRun begins processing a previewed run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	runID := runIDParam(r)
	if err := s.service.Start(r.Context(), runID); err != nil {
		respondError(w, r, err)
		return
	}
	s.respondRunStatus(w, r, runID, http.StatusAccepted)
}

// runControl applies a pause, resume or cancel request.
func (s *Server) runControl(action string, apply func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := runIDParam(r)
		if err := apply(runID); err != nil {
			respondError(w, r, err)
			return
		}
		core.LoggerFromContext(r.Context()).Info("import "+action+" requested", "run_id", runID)
		s.respondRunStatus(w, r, runID, http.StatusAccepted)
	}
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	s.runControl("pause", s.service.Pause)(w, r)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	s.runControl("resume", s.service.Resume)(w, r)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	s.runControl("cancel", s.service.Cancel)(w, r)
}

// handleRunResult waits for a run to finish and returns its result.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(r.Context(), runIDParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDiscardRun forgets a run that is not processing.
func (s *Server) handleDiscardRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(runIDParam(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunRows returns the run's rows, optionally filtered by ?status=.
func (s *Server) handleRunRows(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRowStatus(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Message: err.Error(), Code: "ERR400"})
		return
	}
	rows, err := s.service.Rows(runIDParam(r), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleRunLogs returns the activity log. ?order=desc lists newest first
// and ?limit= caps the count.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	newestFirst := r.URL.Query().Get("order") == "desc"
	limit := parseIntParam(r, "limit", 0)

	logs, err := s.service.Logs(runIDParam(r), newestFirst, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleExportLogs downloads the activity log as a workbook.
func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	runID := runIDParam(r)
	status, err := s.service.Status(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.service.ExportLog(runID, &buf); err != nil {
		respondError(w, r, err)
		return
	}
	setDownloadHeaders(w, core.LogExportFileName(status.ImportType, time.Now()))
	w.Write(buf.Bytes())
}

// handleRunProgress streams progress via Server-Sent Events. The stream
// ends with a complete event carrying the run result.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := runIDParam(r)
	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorStatus(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				data := []byte("{}")
				if st, err := s.service.Status(runID); err == nil && st.Result != nil {
					data, _ = json.Marshal(st.Result)
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.CurrentIndex, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
