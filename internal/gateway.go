// Package gateway defines domain types and interfaces for the Bifrost inference
// gateway. This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// --- Multi-tenant identity ---

// Organization is a top-level tenant. Organizations are created on first
// reference and never deleted.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a console role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Rank returns the ordering of a role: owner > admin > member.
// Unknown roles rank below member.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Membership binds a user to an organization with a role. One membership
// per (org, user) pair; re-resolving an actor never downgrades the role.
type Membership struct {
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyStatus is the lifecycle state of an API key.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// APIKey is a stored API key. The plaintext secret is returned exactly once
// at issuance; only the SHA-256 hash and a short display prefix are retained.
type APIKey struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Label      string     `json:"label"`
	SecretHash string     `json:"-"` // SHA-256 hex, never exposed
	Prefix     string     `json:"prefix"`
	Status     KeyStatus  `json:"status"`
	Scopes     []string   `json:"scopes"`
	CreatedBy  string     `json:"created_by"`
	RateLimit  *int       `json:"rate_limit,omitempty"` // requester-configured RPM, informational
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Actor is the resolved identity behind one authenticated request.
// Constructed fresh per request; never shared across requests.
type Actor struct {
	OrgID  string   `json:"org_id"`
	UserID string   `json:"user_id"`
	Role   Role     `json:"role"`
	KeyID  string   `json:"key_id,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// --- Scopes ---

// Scopes required by gateway endpoints.
const (
	ScopeModelsRead  = "models:read"
	ScopeChat        = "inference:chat"
	ScopeCompletions = "inference:completions"
)

// DefaultKeyScopes are granted when a key is issued without explicit scopes.
var DefaultKeyScopes = []string{ScopeModelsRead, ScopeChat, ScopeCompletions}

// ScopeAllows reports whether any of the granted scopes satisfies required.
// "*" grants everything; "resource:*" grants all actions on a resource.
func ScopeAllows(granted []string, required string) bool {
	for _, g := range granted {
		if g == "*" || g == required {
			return true
		}
		if res, ok := strings.CutSuffix(g, ":*"); ok && strings.HasPrefix(required, res+":") {
			return true
		}
	}
	return false
}

// --- Usage telemetry ---

// UsageEvent is an immutable record of one completed request. Append-only;
// all quota arithmetic and reporting aggregates over these events.
type UsageEvent struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"org_id"`
	UserID           string    `json:"user_id"`
	KeyID            string    `json:"key_id,omitempty"`
	Model            string    `json:"model"`
	Route            string    `json:"route"`
	StatusCode       int       `json:"status_code"`
	LatencyMs        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Heavy            bool      `json:"heavy"`
	Streamed         bool      `json:"streamed"`
	CreatedAt        time.Time `json:"created_at"`
}

// RequestError is an immutable record of a rejected or failed request.
type RequestError struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	UserID     string    `json:"user_id"`
	Model      string    `json:"model"`
	StatusCode int       `json:"status_code"`
	Code       string    `json:"code"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayKey formats t as the UTC date string used for daily quota bucketing.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// --- Model catalog (read-only collaborator boundary) ---

// Capability is a bitmask of model capability flags.
type Capability uint8

const (
	CapTools Capability = 1 << iota
	CapVision
	CapJSONMode
	CapStreaming
	CapCompletion
)

// Has reports whether all flags in want are present.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Tools reports tool-calling support.
func (c Capability) Tools() bool { return c.Has(CapTools) }

// Vision reports image-input support.
func (c Capability) Vision() bool { return c.Has(CapVision) }

// JSONMode reports json_object response-format support.
func (c Capability) JSONMode() bool { return c.Has(CapJSONMode) }

// Streaming reports streaming support.
func (c Capability) Streaming() bool { return c.Has(CapStreaming) }

// Completion reports text/chat completion support.
func (c Capability) Completion() bool { return c.Has(CapCompletion) }

// Names returns the set flags as their configuration names, in flag order.
func (c Capability) Names() []string {
	var out []string
	for _, f := range []struct {
		cap  Capability
		name string
	}{
		{CapTools, "tools"},
		{CapVision, "vision"},
		{CapJSONMode, "json_mode"},
		{CapStreaming, "streaming"},
		{CapCompletion, "completion"},
	} {
		if c.Has(f.cap) {
			out = append(out, f.name)
		}
	}
	return out
}

// RuntimeState is the model's current serving state.
type RuntimeState string

const (
	StateWarm    RuntimeState = "warm"
	StateLoading RuntimeState = "loading"
	StateCold    RuntimeState = "cold"
)

// Model is runtime metadata for a servable model, supplied by the catalog.
type Model struct {
	ID              string       `json:"id"`
	Family          string       `json:"family"`
	Provider        string       `json:"provider"`
	ContextLength   int          `json:"context_length"`
	MaxOutputTokens int          `json:"max_output_tokens"`
	Caps            Capability   `json:"-"`
	PromptPrice     float64      `json:"prompt_price_per_1k"`
	CompletionPrice float64      `json:"completion_price_per_1k"`
	Heavy           bool         `json:"heavy"` // stricter daily-quota tier
	State           RuntimeState `json:"runtime_state"`
}

// --- OpenAI-compatible wire types ---

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	User           string          `json:"user,omitempty"`
}

// Message is a chat message. Content is either a JSON string or a list of
// typed content parts; use the tokencount extraction helpers to flatten it.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// CompletionRequest is an OpenAI-compatible text completion request.
// Prompt is either a JSON string or a list of strings.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
}

// AssistantMessage is the assistant turn in a chat response. Content is a
// pointer so tool-call turns serialize it as null.
type AssistantMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a synthesized function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatChoice is a single choice in a chat response.
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// CompletionChoice is a single choice in a text completion response.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// Usage reports token accounting for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// QuotaRemaining is the org-scope remaining quota after admission, floored
// at zero. Observability courtesy, not a hard guarantee.
type QuotaRemaining struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// VendorExt is the x_vendor extension block on responses.
type VendorExt struct {
	ProviderRoute  string         `json:"provider_route"`
	RuntimeState   RuntimeState   `json:"runtime_state"`
	QuotaRemaining QuotaRemaining `json:"quota_remaining"`
	LatencyMs      int64          `json:"latency_ms"`
}

// ChatResponse is an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
	XVendor VendorExt    `json:"x_vendor"`
}

// CompletionResponse is an OpenAI-compatible text completion response.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
	XVendor VendorExt          `json:"x_vendor"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Actor field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Actor     *Actor
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// ActorFromContext extracts the authenticated actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	if m := metaFromContext(ctx); m != nil {
		return m.Actor
	}
	return nil
}

// ContextWithActor stores the actor in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new
// metadata if none exists (e.g., in tests).
func ContextWithActor(ctx context.Context, a *Actor) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Actor = a
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Actor: a})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeySecretPrefix is the prefix for all Bifrost API key secrets.
const APIKeySecretPrefix = "bf_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key secret.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// NewKeySecret generates a fresh random API key secret.
func NewKeySecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return APIKeySecretPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// KeyDisplayPrefix returns the short prefix retained for UI identification.
func KeyDisplayPrefix(secret string) string {
	if len(secret) > 12 {
		return secret[:12]
	}
	return secret
}
