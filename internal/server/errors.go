package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// wireError is the OpenAI-compatible error envelope.
type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code"`
	} `json:"error"`
}

// writeError renders a GatewayError as the wire envelope, attaching a
// Retry-After header when the error carries a hint.
func writeError(w http.ResponseWriter, ge *gateway.GatewayError) {
	if ge.RetryAfterSec > 0 {
		w.Header()["Retry-After"] = []string{strconv.Itoa(ge.RetryAfterSec)}
	}
	var e wireError
	e.Error.Message = ge.Message
	e.Error.Type = ge.Type()
	e.Error.Param = ge.Param
	e.Error.Code = ge.Code
	writeJSON(w, ge.Status, e)
}

// jsonCT is a pre-allocated header value slice. Direct map assignment avoids
// the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
