// Package app implements application-level services for the Bifrost gateway:
// the completion engine orchestrating one inference request end to end, and
// the API key lifecycle manager.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/admission"
	"github.com/bifrost-ai/bifrost/internal/catalog"
	"github.com/bifrost-ai/bifrost/internal/circuitbreaker"
	"github.com/bifrost-ai/bifrost/internal/provider"
	"github.com/bifrost-ai/bifrost/internal/router"
	"github.com/bifrost-ai/bifrost/internal/telemetry"
	"github.com/bifrost-ai/bifrost/internal/tokencount"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Output budget bounds. A caller's max_tokens is clamped into
// [minOutputTokens, model max]; unspecified defaults to min(512, model max).
const (
	minOutputTokens     = 32
	defaultOutputTokens = 512
)

// UsageSink receives telemetry records. The production sink is the async
// usage recorder worker; both calls must be non-blocking.
type UsageSink interface {
	RecordUsage(e gateway.UsageEvent)
	RecordError(e gateway.RequestError)
}

// Engine orchestrates one completion request: validate, estimate, admit,
// route, generate, assemble, record.
type Engine struct {
	catalog  *catalog.Catalog
	counter  *tokencount.Counter
	admitter *admission.Controller
	routes   *router.Table
	adapters *provider.Registry
	breakers *circuitbreaker.Registry
	sink     UsageSink
	metrics  *telemetry.Metrics // optional
	tracer   trace.Tracer
}

// NewEngine wires the engine's collaborators.
func NewEngine(
	cat *catalog.Catalog,
	admitter *admission.Controller,
	routes *router.Table,
	adapters *provider.Registry,
	breakers *circuitbreaker.Registry,
	sink UsageSink,
) *Engine {
	return &Engine{
		catalog:  cat,
		counter:  tokencount.NewCounter(),
		admitter: admitter,
		routes:   routes,
		adapters: adapters,
		breakers: breakers,
		sink:     sink,
		tracer:   telemetry.Tracer("bifrost.engine"),
	}
}

// SetMetrics attaches Prometheus instrumentation to the pipeline.
func (e *Engine) SetMetrics(m *telemetry.Metrics) { e.metrics = m }

// Models returns the catalog contents for the /v1/models listing.
func (e *Engine) Models() []*gateway.Model { return e.catalog.List() }

// Model resolves one catalog entry by ID.
func (e *Engine) Model(id string) (*gateway.Model, bool) { return e.catalog.Get(id) }

// EstimateTokens exposes the tokenizer for the /v1/tokenize endpoint.
func (e *Engine) EstimateTokens(text string) int { return e.counter.EstimateText(text) }

// EstimateMessageTokens scores a chat message list, including the per-image
// surcharge.
func (e *Engine) EstimateMessageTokens(msgs []gateway.Message) int {
	return e.counter.EstimateMessages(msgs)
}

// ChatCompletion runs one chat request through the full pipeline.
func (e *Engine) ChatCompletion(ctx context.Context, actor *gateway.Actor, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "chat_completion",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	model, err := e.lookupModel(req.Model)
	if err != nil {
		return nil, e.reject(actor, req.Model, err)
	}
	if err := validateChat(model, req); err != nil {
		return nil, e.reject(actor, req.Model, err)
	}

	promptTokens := e.counter.EstimateMessages(req.Messages)
	budget := outputBudget(req.MaxTokens, model)
	needsVision := chatNeedsVision(req)

	decision, err := e.admit(ctx, actor, model, req.Model, promptTokens, budget, req.Stream)
	if err != nil {
		return nil, err
	}
	// Exactly one release per admitted request, on every exit path.
	defer decision.Ticket.Release()

	need := neededCaps(req.Stream, len(req.Tools) > 0, needsVision)
	sel, gen, err := e.generate(ctx, actor, model, &provider.GenerateRequest{
		Model:       req.Model,
		Prompt:      flattenMessages(req.Messages),
		MaxTokens:   budget,
		Temperature: deref(req.Temperature),
		TopP:        deref(req.TopP),
	}, need, req.Stream)
	if err != nil {
		return nil, err
	}

	choice := e.assembleChatChoice(actor, req, gen)
	completionTokens := e.counter.EstimateText(gen.Text)
	if choice.FinishReason == "tool_calls" {
		completionTokens = e.counter.EstimateText(choice.Message.ToolCalls[0].Function.Arguments)
	}

	latency := gen.Latency + time.Since(start)
	e.recordUsage(actor, req.Model, sel.Route.Key, model.Heavy, req.Stream, promptTokens, completionTokens, latency)

	return &gateway.ChatResponse{
		ID:      "chatcmpl-" + uuid.Must(uuid.NewV7()).String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []gateway.ChatChoice{choice},
		Usage: gateway.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		XVendor: vendorExt(sel.Route.Key, model, decision, latency),
	}, nil
}

// Completion runs one text completion request through the same pipeline.
func (e *Engine) Completion(ctx context.Context, actor *gateway.Actor, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "completion",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	model, err := e.lookupModel(req.Model)
	if err != nil {
		return nil, e.reject(actor, req.Model, err)
	}
	if !model.Caps.Completion() {
		return nil, e.reject(actor, req.Model,
			unsupported("model does not support completion requests", "model"))
	}

	prompt := tokencount.FlattenPrompt(req.Prompt)
	promptTokens := e.counter.EstimateText(prompt)
	budget := outputBudget(req.MaxTokens, model)

	decision, err := e.admit(ctx, actor, model, req.Model, promptTokens, budget, req.Stream)
	if err != nil {
		return nil, err
	}
	defer decision.Ticket.Release()

	sel, gen, err := e.generate(ctx, actor, model, &provider.GenerateRequest{
		Model:       req.Model,
		Prompt:      prompt,
		MaxTokens:   budget,
		Temperature: deref(req.Temperature),
		TopP:        deref(req.TopP),
		Stop:        parseStop(req.Stop),
	}, neededCaps(req.Stream, false, false), req.Stream)
	if err != nil {
		return nil, err
	}

	completionTokens := e.counter.EstimateText(gen.Text)
	latency := gen.Latency + time.Since(start)
	e.recordUsage(actor, req.Model, sel.Route.Key, model.Heavy, req.Stream, promptTokens, completionTokens, latency)

	return &gateway.CompletionResponse{
		ID:      "cmpl-" + uuid.Must(uuid.NewV7()).String(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []gateway.CompletionChoice{{Text: gen.Text, FinishReason: gen.FinishReason}},
		Usage: gateway.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		XVendor: vendorExt(sel.Route.Key, model, decision, latency),
	}, nil
}

func (e *Engine) lookupModel(id string) (*gateway.Model, error) {
	if id == "" {
		return nil, unsupported("model is required", "model")
	}
	m, ok := e.catalog.Get(id)
	if !ok {
		return nil, gateway.NewError(http.StatusNotFound, gateway.CodeModelNotFound,
			fmt.Sprintf("model %q does not exist", id)).WithParam("model")
	}
	return m, nil
}

// reject mirrors a validation failure into the request error log before
// surfacing it. All denials and failures end up in the log, not only the
// quota and provider ones.
func (e *Engine) reject(actor *gateway.Actor, modelID string, err error) error {
	ge := gateway.AsGatewayError(err)
	e.recordError(actor, modelID, ge)
	return ge
}

// admit consults the admission controller and records a request error on
// denial. Denials never consume a ticket because none was issued.
func (e *Engine) admit(ctx context.Context, actor *gateway.Actor, model *gateway.Model, modelID string, promptTokens, budget int, _ bool) (*admission.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "admit")
	defer span.End()

	decision, err := e.admitter.Admit(ctx, &admission.Request{
		Actor:        actor,
		Model:        modelID,
		PromptTokens: promptTokens,
		OutputBudget: budget,
		Heavy:        model.Heavy,
	})
	if err != nil {
		ge := gateway.AsGatewayError(err)
		span.SetStatus(codes.Error, ge.Code)
		if e.metrics != nil {
			e.metrics.AdmissionRejects.WithLabelValues(ge.Code).Inc()
		}
		e.recordError(actor, modelID, ge)
		return nil, ge
	}
	return decision, nil
}

// generate routes the request and invokes the adapter behind the route's
// circuit breaker. Failures are recorded and surfaced as 503.
func (e *Engine) generate(ctx context.Context, actor *gateway.Actor, model *gateway.Model, greq *provider.GenerateRequest, need gateway.Capability, _ bool) (router.Selection, *provider.GenerateResult, error) {
	ctx, span := e.tracer.Start(ctx, "generate")
	defer span.End()

	sel, err := e.routes.Choose(model, need)
	if err != nil {
		span.SetStatus(codes.Error, gateway.CodeProviderRouteFailed)
		ge := routeFailed("no provider route available for this model")
		e.routeError(actor, greq.Model, "none", ge)
		return router.Selection{}, nil, ge
	}
	greq.Route = sel.Route.Key
	span.SetAttributes(attribute.String("route", sel.Route.Key))

	breaker := e.breakers.ForRoute(sel.Route.Key)
	if !breaker.Allow() {
		span.SetStatus(codes.Error, gateway.CodeProviderRouteFailed)
		ge := routeFailed("provider route is temporarily unavailable")
		e.routeError(actor, greq.Model, sel.Route.Key, ge)
		return router.Selection{}, nil, ge
	}

	adapter, err := e.adapters.Get(string(sel.Route.Class))
	if err != nil {
		span.SetStatus(codes.Error, gateway.CodeProviderRouteFailed)
		ge := routeFailed("provider route has no configured backend")
		e.routeError(actor, greq.Model, sel.Route.Key, ge)
		return router.Selection{}, nil, ge
	}

	gen, err := adapter.Generate(ctx, greq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, gateway.CodeProviderRouteFailed)
		breaker.RecordError(circuitbreaker.Weight(err))
		if e.metrics != nil && breaker.State() == circuitbreaker.StateOpen {
			e.metrics.BreakerOpens.WithLabelValues(sel.Route.Key).Inc()
		}
		ge := routeFailed("provider route failed to generate")
		e.routeError(actor, greq.Model, sel.Route.Key, ge)
		return router.Selection{}, nil, ge
	}
	breaker.RecordSuccess()
	if e.metrics != nil {
		e.metrics.GenerateDuration.WithLabelValues(sel.Route.Key, greq.Model).Observe(gen.Latency.Seconds())
	}
	return sel, gen, nil
}

func (e *Engine) routeError(actor *gateway.Actor, modelID, route string, ge *gateway.GatewayError) {
	if e.metrics != nil {
		e.metrics.RouteErrors.WithLabelValues(route).Inc()
	}
	e.recordError(actor, modelID, ge)
}

func (e *Engine) recordUsage(actor *gateway.Actor, modelID, route string, heavy, streamed bool, promptTokens, completionTokens int, latency time.Duration) {
	if e.metrics != nil {
		e.metrics.TokensProcessed.WithLabelValues(modelID, "prompt").Add(float64(promptTokens))
		e.metrics.TokensProcessed.WithLabelValues(modelID, "completion").Add(float64(completionTokens))
	}
	e.sink.RecordUsage(gateway.UsageEvent{
		ID:               uuid.Must(uuid.NewV7()).String(),
		OrgID:            actor.OrgID,
		UserID:           actor.UserID,
		KeyID:            actor.KeyID,
		Model:            modelID,
		Route:            route,
		StatusCode:       http.StatusOK,
		LatencyMs:        latency.Milliseconds(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Heavy:            heavy,
		Streamed:         streamed,
		CreatedAt:        time.Now().UTC(),
	})
}

func (e *Engine) recordError(actor *gateway.Actor, modelID string, ge *gateway.GatewayError) {
	e.sink.RecordError(gateway.RequestError{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OrgID:      actor.OrgID,
		UserID:     actor.UserID,
		Model:      modelID,
		StatusCode: ge.Status,
		Code:       ge.Code,
		CreatedAt:  time.Now().UTC(),
	})
}

// --- validation and shaping helpers ---

func validateChat(model *gateway.Model, req *gateway.ChatRequest) error {
	if !model.Caps.Completion() {
		return unsupported("model does not support completion requests", "model")
	}
	if len(req.Messages) == 0 {
		return unsupported("at least one message is required", "messages")
	}
	if chatNeedsVision(req) && !model.Caps.Vision() {
		return unsupported("model does not support image content", "messages")
	}
	if len(req.Tools) > 0 && !model.Caps.Tools() {
		return unsupported("model does not support tool calling", "tools")
	}
	return nil
}

func unsupported(msg, param string) *gateway.GatewayError {
	return gateway.NewError(http.StatusBadRequest, gateway.CodeUnsupportedRequest, msg).WithParam(param)
}

func routeFailed(msg string) *gateway.GatewayError {
	return gateway.NewError(http.StatusServiceUnavailable, gateway.CodeProviderRouteFailed, msg)
}

func chatNeedsVision(req *gateway.ChatRequest) bool {
	for _, m := range req.Messages {
		if tokencount.CountImages(m.Content) > 0 {
			return true
		}
	}
	return false
}

func neededCaps(stream, tools, vision bool) gateway.Capability {
	var need gateway.Capability
	if stream {
		need |= gateway.CapStreaming
	}
	if tools {
		need |= gateway.CapTools
	}
	if vision {
		need |= gateway.CapVision
	}
	return need
}

// outputBudget clamps the requested max tokens into the model's bounds.
func outputBudget(requested *int, model *gateway.Model) int {
	if requested == nil {
		return min(defaultOutputTokens, model.MaxOutputTokens)
	}
	return min(max(*requested, minOutputTokens), model.MaxOutputTokens)
}

// flattenMessages renders a chat transcript as the plain prompt text handed
// to the adapter.
func flattenMessages(msgs []gateway.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(tokencount.ExtractText(m.Content))
	}
	return b.String()
}

func parseStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func vendorExt(route string, model *gateway.Model, d *admission.Decision, latency time.Duration) gateway.VendorExt {
	return gateway.VendorExt{
		ProviderRoute:  route,
		RuntimeState:   model.State,
		QuotaRemaining: d.Remaining,
		LatencyMs:      latency.Milliseconds(),
	}
}
