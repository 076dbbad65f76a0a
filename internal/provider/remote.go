package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
)

// Remote is an adapter for an OpenAI-compatible completions upstream. It is
// the substitution point for real model-serving infrastructure.
type Remote struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewRemote creates a Remote adapter. The transport uses a cached DNS
// resolver; pass nil to use the system resolver.
func NewRemote(name, baseURL, apiKey string, resolver *dnscache.Resolver) *Remote {
	return &Remote{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: NewTransport(resolver),
			Timeout:   120 * time.Second,
		},
	}
}

// Name returns the adapter identifier.
func (r *Remote) Name() string { return r.name }

// Generate posts a text completion request upstream and extracts the first
// choice. Latency covers the full HTTP exchange.
func (r *Remote) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	payload := map[string]any{
		"model":       req.Model,
		"prompt":      req.Prompt,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	start := time.Now()
	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: upstream status %d: %s",
			resp.StatusCode, gjson.GetBytes(raw, "error.message").String())
	}

	choice := gjson.GetBytes(raw, "choices.0")
	finish := choice.Get("finish_reason").String()
	if finish != FinishLength {
		finish = FinishStop
	}
	return &GenerateResult{
		Text:         choice.Get("text").String(),
		FinishReason: finish,
		Latency:      time.Since(start),
	}, nil
}
