package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/sse"
)

// maxRequestBody caps inference request bodies (4 MB).
const maxRequestBody = 4 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, gateway.NewError(http.StatusBadRequest, gateway.CodeUnsupportedRequest,
			"invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	actor := gateway.ActorFromContext(r.Context())
	resp, err := s.deps.Engine.ChatCompletion(r.Context(), actor, &req)
	if err != nil {
		writeError(w, gateway.AsGatewayError(err))
		return
	}

	if req.Stream {
		chunks := sse.ChatFrames(resp, s.deps.ChunkRunes)
		frames := make([]any, len(chunks))
		for i := range chunks {
			frames[i] = chunks[i]
		}
		s.streamFrames(w, frames)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req gateway.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	actor := gateway.ActorFromContext(r.Context())
	resp, err := s.deps.Engine.Completion(r.Context(), actor, &req)
	if err != nil {
		writeError(w, gateway.AsGatewayError(err))
		return
	}

	if req.Stream {
		chunks := sse.CompletionFrames(resp, s.deps.ChunkRunes)
		frames := make([]any, len(chunks))
		for i := range chunks {
			frames[i] = chunks[i]
		}
		s.streamFrames(w, frames)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamFrames writes the finished result's frames as SSE data events in
// order, followed by the [DONE] sentinel.
func (s *server) streamFrames(w http.ResponseWriter, frames []any) {
	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	for _, frame := range frames {
		payload, err := json.Marshal(frame)
		if err != nil {
			slog.Error("failed to encode stream frame", "error", err)
			continue
		}
		writeSSEData(w, payload)
		if flusher != nil {
			flusher.Flush()
		}
	}

	writeSSEDone(w)
	if flusher != nil {
		flusher.Flush()
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.StreamFrames.Add(float64(len(frames) + 1))
	}
}
