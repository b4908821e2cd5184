package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/ingest"
)

// handleFileProcess runs the file pipeline and streams its progress
// over SSE. The stream opens before the pipeline starts, so failures
// arrive as error events rather than HTTP statuses.
func (s *Server) handleFileProcess(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	namespace := namespaceFrom(r)

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	started := time.Now()
	err := s.deps.Ingest.ProcessFile(r.Context(), fileID, namespace, func(p ingest.Progress) {
		sendSSEEvent(w, flusher, "progress", p)
	})
	if err != nil {
		status := "failed"
		if errors.Is(err, context.Canceled) || fault.IsKind(err, fault.KindCancelled) {
			status = "cancelled"
		}
		s.obs.Metrics().RecordFilePipeline(r.Context(), status, time.Since(started))
		s.logger.Error("file processing failed", "file_id", fileID, "error", err)

		sendSSEEvent(w, flusher, "error", map[string]any{
			"file_id":   fileID,
			"error":     err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	s.obs.Metrics().RecordFilePipeline(r.Context(), "completed", time.Since(started))
	sendSSEEvent(w, flusher, "completed", ingest.Progress{
		FileID:   fileID,
		Progress: 100,
		Message:  "Done",
	})
}

// handleFileDelete removes a file's vectors, blobs and record.
func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")

	if err := s.deps.Ingest.DeleteFile(r.Context(), fileID, namespaceFrom(r)); err != nil {
		s.writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "file deleted",
		"file_id": fileID,
	})
}

// handleWebIngest fetches a URL and pipes it through the file
// pipeline, returning the derived file id.
func (s *Server) handleWebIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeFault(w, fault.Wrapf(fault.KindValidation, op, err, "invalid request body"))
		return
	}

	fileID, err := s.deps.Ingest.IngestWeb(r.Context(), body.URL, namespaceFrom(r), nil)
	if err != nil {
		s.writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id": fileID,
		"url":     body.URL,
	})
}
