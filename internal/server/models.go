package server

import (
	"fmt"
	"net/http"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// handleListModels returns the catalog as an OpenAI-compatible model list,
// with gateway-specific fields tucked under x_vendor.
func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models := s.deps.Engine.Models()

	now := time.Now().Unix()
	data := make([]modelEntry, len(models))
	for i, m := range models {
		data[i] = modelEntry{
			ID:      m.ID,
			Object:  "model",
			Created: now,
			OwnedBy: m.Provider,
			XVendor: modelVendorExt{
				Family:          m.Family,
				ContextLength:   m.ContextLength,
				MaxOutputTokens: m.MaxOutputTokens,
				Capabilities:    m.Caps.Names(),
				PromptPrice:     m.PromptPrice,
				CompletionPrice: m.CompletionPrice,
				RuntimeState:    m.State,
				Heavy:           m.Heavy,
			},
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelVendorExt struct {
	Family          string               `json:"family"`
	ContextLength   int                  `json:"context_length"`
	MaxOutputTokens int                  `json:"max_output_tokens"`
	Capabilities    []string             `json:"capabilities"`
	PromptPrice     float64              `json:"prompt_price_per_1k"`
	CompletionPrice float64              `json:"completion_price_per_1k"`
	RuntimeState    gateway.RuntimeState `json:"runtime_state"`
	Heavy           bool                 `json:"heavy"`
}

type modelEntry struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	OwnedBy string         `json:"owned_by"`
	XVendor modelVendorExt `json:"x_vendor"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleTokenize estimates token counts without consuming quota. The input
// is either a flat text string or a chat message list; the response carries
// the target model's context and output limits alongside the count.
func (s *server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string            `json:"model"`
		Text     string            `json:"text"`
		Messages []gateway.Message `json:"messages"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	model, ok := s.deps.Engine.Model(req.Model)
	if !ok {
		writeError(w, gateway.NewError(http.StatusNotFound, gateway.CodeModelNotFound,
			fmt.Sprintf("model %q does not exist", req.Model)).WithParam("model"))
		return
	}

	tokens := s.deps.Engine.EstimateTokens(req.Text)
	if len(req.Messages) > 0 {
		tokens = s.deps.Engine.EstimateMessageTokens(req.Messages)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":             model.ID,
		"tokens":            tokens,
		"context_length":    model.ContextLength,
		"max_output_tokens": model.MaxOutputTokens,
	})
}
