package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
)

// maxChatBodyBytes bounds the request body size (1 MB).
const maxChatBodyBytes = 1 << 20

// streamError is the NDJSON error line written when a stream fails
// after fragments have already been sent.
type streamError struct {
	Error string `json:"error"`
}

type chatHandler struct {
	logger *slog.Logger
	router Router
}

// send handles POST /api/v1/chat. The reply is streamed as NDJSON: one
// fragment object per line, flushed as produced. Errors before the
// first fragment become JSON error responses with a proper status code;
// errors after that are reported as a terminal error line since the
// headers are already on the wire.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	requestID, _ := requestIDFromContext(r.Context())
	logger := h.logger.With("request_id", requestID)

	flusher, canFlush := w.(http.Flusher)
	started := false
	enc := json.NewEncoder(w)

	for frag, err := range h.router.Route(r.Context(), &req) {
		if err != nil {
			h.writeStreamError(w, err, started, logger)
			return
		}

		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		if encErr := enc.Encode(frag); encErr != nil {
			// Consumer gone; breaking out cancels the generation.
			logger.Debug("client disconnected mid-stream", "error", encErr)
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// writeStreamError reports a stream failure in whichever form is still
// possible: a status-coded JSON body before headers are sent, a
// terminal NDJSON error line after.
func (h *chatHandler) writeStreamError(w http.ResponseWriter, err error, started bool, logger *slog.Logger) {
	logger.Error("chat stream failed", "error", err)

	if started {
		line, _ := json.Marshal(streamError{Error: "stream failed"})
		line = append(line, '\n')
		if _, wErr := w.Write(line); wErr != nil {
			logger.Debug("failed to write stream error line", "error", wErr)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}

	switch {
	case errors.Is(err, chat.ErrNoMessages), errors.Is(err, chat.ErrNoUserInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), logger)
	default:
		writeError(w, http.StatusInternalServerError, "generation_failed", "failed to generate a response", logger)
	}
}
