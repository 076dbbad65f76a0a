package app

import (
	"encoding/json"
	"strings"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/provider"
	"github.com/bifrost-ai/bifrost/internal/tokencount"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Words in the latest user turn that make an auto tool choice fire.
var toolTriggerWords = []string{"tool", "search", "function", "api"}

// Longest slice of the user's text echoed into synthetic tool arguments.
const toolArgQueryLimit = 80

// assembleChatChoice shapes the assistant turn: either a synthetic tool call
// (content null, finish_reason tool_calls) or the adapter's text, optionally
// re-wrapped as a JSON envelope when the caller asked for json_object output.
func (e *Engine) assembleChatChoice(actor *gateway.Actor, req *gateway.ChatRequest, gen *provider.GenerateResult) gateway.ChatChoice {
	if fire, fnName := toolCallDecision(req); fire {
		call := synthesizeToolCall(actor, req, fnName)
		if e.metrics != nil {
			e.metrics.ToolCallsSynth.Inc()
		}
		return gateway.ChatChoice{
			Message: gateway.AssistantMessage{
				Role:      "assistant",
				Content:   nil,
				ToolCalls: []gateway.ToolCall{call},
			},
			FinishReason: "tool_calls",
		}
	}

	content := gen.Text
	if wantsJSONObject(req.ResponseFormat) {
		content = jsonEnvelope(content)
	}
	return gateway.ChatChoice{
		Message:      gateway.AssistantMessage{Role: "assistant", Content: &content},
		FinishReason: gen.FinishReason,
	}
}

// toolCallDecision applies the tool-choice directive: "none" suppresses,
// "required" or a named function forces, and "auto" (or absent) fires on
// trigger words in the latest user turn. Never fires without tool schemas.
func toolCallDecision(req *gateway.ChatRequest) (fire bool, fnName string) {
	if len(req.Tools) == 0 {
		return false, ""
	}

	choice := gjson.ParseBytes(req.ToolChoice)
	switch {
	case choice.Type == gjson.String && choice.Str == "none":
		return false, ""
	case choice.Type == gjson.String && choice.Str == "required":
		return true, firstToolName(req.Tools)
	case choice.IsObject():
		if name := choice.Get("function.name").Str; name != "" {
			return true, name
		}
	}

	text := strings.ToLower(latestUserText(req.Messages))
	for _, w := range toolTriggerWords {
		if strings.Contains(text, w) {
			return true, firstToolName(req.Tools)
		}
	}
	return false, ""
}

func synthesizeToolCall(actor *gateway.Actor, req *gateway.ChatRequest, fnName string) gateway.ToolCall {
	query := latestUserText(req.Messages)
	if len(query) > toolArgQueryLimit {
		query = query[:toolArgQueryLimit]
	}
	args, _ := json.Marshal(map[string]string{
		"query":  query,
		"org_id": actor.OrgID,
	})
	return gateway.ToolCall{
		ID:       "call_" + uuid.Must(uuid.NewV7()).String(),
		Type:     "function",
		Function: gateway.FunctionCall{Name: fnName, Arguments: string(args)},
	}
}

func firstToolName(tools json.RawMessage) string {
	if name := gjson.GetBytes(tools, "0.function.name").Str; name != "" {
		return name
	}
	return "tool"
}

func latestUserText(msgs []gateway.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return tokencount.ExtractText(msgs[i].Content)
		}
	}
	return ""
}

func wantsJSONObject(raw json.RawMessage) bool {
	return gjson.GetBytes(raw, "type").Str == "json_object"
}

// jsonEnvelope wraps plain generated text so json_object callers always get
// parseable output.
func jsonEnvelope(text string) string {
	out, _ := json.Marshal(map[string]string{
		"answer":      text,
		"safety_note": "generated text, verify independently before acting on it",
	})
	return string(out)
}
