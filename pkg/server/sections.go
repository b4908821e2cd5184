package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/section"
)

// handleSectionProcess initializes a section job and spawns its run.
// The section id in the URL and the namespace header override whatever
// the body carries.
func (s *Server) handleSectionProcess(w http.ResponseWriter, r *http.Request) {
	var req section.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFault(w, fault.Wrapf(fault.KindValidation, op, err, "invalid request body"))
		return
	}
	req.SectionID = chi.URLParam(r, "id")
	req.Namespace = namespaceFrom(r)

	processingID, err := s.deps.Sections.Init(r.Context(), req)
	if err != nil {
		s.writeFault(w, err)
		return
	}

	s.spawnRun(req.SectionID, req.Namespace)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"section_id":    req.SectionID,
		"processing_id": processingID,
		"stream_url":    fmt.Sprintf("/v1/sections/%s/stream", req.SectionID),
	})
}

// handleSectionStream follows a section job over SSE. A job that
// already finished replays its terminal event immediately.
func (s *Server) handleSectionStream(w http.ResponseWriter, r *http.Request) {
	sectionID := chi.URLParam(r, "id")

	events, stop, err := s.deps.Sections.Stream(r.Context(), sectionID, namespaceFrom(r))
	if err != nil {
		s.writeFault(w, err)
		return
	}
	defer stop()

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, eventName(ev), ev)
		}
	}
}

// eventName maps a section stage to its SSE event type. In-flight
// milestones all stream as "progress".
func eventName(ev section.Event) string {
	switch ev.Stage {
	case section.StageComplete:
		return "completed"
	case section.StageError:
		return "error"
	case section.StageCancelled:
		return "cancelled"
	default:
		return "progress"
	}
}

func (s *Server) handleSectionAbort(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProcessingID string `json:"processing_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeFault(w, fault.Wrapf(fault.KindValidation, op, err, "invalid request body"))
		return
	}

	sectionID := chi.URLParam(r, "id")
	if err := s.deps.Sections.Abort(r.Context(), sectionID, body.ProcessingID, namespaceFrom(r)); err != nil {
		s.writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "section processing aborted",
	})
}
