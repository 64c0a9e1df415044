package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/stockimport/internal/core"
)

// multipartOverhead is allowed on top of the file size for form fields and
// boundaries.
const multipartOverhead = 1 << 20

// handleListTypes returns the registered import types.
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListTypes())
}

// handleDownloadTemplate serves the template workbook for a type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	importType := importTypeParam(r)

	var buf bytes.Buffer
	if err := s.service.Template(importType, &buf); err != nil {
		respondError(w, r, err)
		return
	}
	setDownloadHeaders(w, core.TemplateFileName(importType))
	w.Write(buf.Bytes())
}

// handleUpload parses and validates an uploaded file into a preview run.
// Processing starts only on a separate start request, or immediately with
// ?start=true.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	importType := importTypeParam(r)
	maxSize := s.cfg.Import.MaxFileSize

	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrUnreadableFile, err))
		return
	}

	status, err := s.service.Stage(r.Context(), importType, header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.respondStaged(w, r, status)
}

// handleCheckpointInfo reports whether a type has resumable progress.
func (s *Server) handleCheckpointInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.CheckpointInfo(r.Context(), importTypeParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if info == nil {
		respondError(w, r, core.ErrNoCheckpoint)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleDiscardCheckpoint deletes saved progress for a type.
func (s *Server) handleDiscardCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardCheckpoint(r.Context(), importTypeParam(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeFromCheckpoint restores a preview run from saved progress.
func (s *Server) handleResumeFromCheckpoint(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.StageFromCheckpoint(r.Context(), importTypeParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.respondStaged(w, r, status)
}

// respondStaged answers a staging request, starting the run first when
// the client asked for it.
func (s *Server) respondStaged(w http.ResponseWriter, r *http.Request, status core.RunStatus) {
	if !parseBoolParam(r, "start") {
		writeJSON(w, http.StatusCreated, status)
		return
	}
	if err := s.service.Start(r.Context(), status.RunID); err != nil {
		respondError(w, r, err)
		return
	}
	s.respondRunStatus(w, r, status.RunID, http.StatusAccepted)
}
