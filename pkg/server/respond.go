package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/magpielabs/magpie/pkg/fault"
)

// namespaceHeader carries the tenant namespace. An upstream gateway is
// trusted to have authenticated it.
const namespaceHeader = "X-Namespace"

type ctxKey int

const namespaceKey ctxKey = 0

// requireNamespace rejects requests without a tenant namespace and
// stashes the namespace in the request context for handlers.
func requireNamespace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ns := r.Header.Get(namespaceHeader)
		if ns == "" {
			kind := fault.KindAuth
			writeJSON(w, httpStatus(kind), map[string]any{
				"error": fmt.Sprintf("%s header is required", namespaceHeader),
				"kind":  string(kind),
			})
			return
		}
		ctx := context.WithValue(r.Context(), namespaceKey, ns)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func namespaceFrom(r *http.Request) string {
	ns, _ := r.Context().Value(namespaceKey).(string)
	return ns
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault renders an error response from the error's fault kind.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

// httpStatus maps fault kinds to HTTP statuses.
func httpStatus(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAuth:
		return http.StatusUnauthorized
	case fault.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case fault.KindParse, fault.KindEmptyDocument, fault.KindNoQueries:
		return http.StatusUnprocessableEntity
	case fault.KindAI, fault.KindRetrieval, fault.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// beginSSE prepares the response for server-sent events and flushes
// the headers so clients see the stream open before the first event.
func beginSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// sendSSEEvent writes one event: type, data: json frame.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
