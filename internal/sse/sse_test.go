package sse

import (
	"strings"
	"testing"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

func strPtr(s string) *string { return &s }

func chatResp(content string) *gateway.ChatResponse {
	return &gateway.ChatResponse{
		ID: "chatcmpl-1", Object: "chat.completion", Created: 1700000000, Model: "m",
		Choices: []gateway.ChatChoice{{
			Message:      gateway.AssistantMessage{Role: "assistant", Content: strPtr(content)},
			FinishReason: "stop",
		}},
	}
}

func TestSplitRunes(t *testing.T) {
	t.Parallel()

	got := SplitRunes("abcdefgh", 3)
	want := []string{"abc", "def", "gh"}
	if len(got) != len(want) {
		t.Fatalf("chunks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := SplitRunes("", 3); got != nil {
		t.Fatalf("empty input chunks = %v, want nil", got)
	}

	// Multi-byte runes must not be split mid-encoding.
	for _, chunk := range SplitRunes(strings.Repeat("é", 100), 7) {
		if !strings.HasPrefix(chunk, "é") {
			t.Fatalf("chunk %q starts mid-rune", chunk)
		}
	}
}

func TestChatFramesChunkingAndOrder(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("x", 150)
	frames := ChatFrames(chatResp(content), 60)
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}

	if frames[0].Choices[0].Delta.Role != "assistant" {
		t.Fatal("first frame must carry the role marker")
	}
	if frames[1].Choices[0].Delta.Role != "" {
		t.Fatal("only the first frame carries the role marker")
	}

	var rebuilt strings.Builder
	for i, f := range frames {
		c := f.Choices[0]
		rebuilt.WriteString(c.Delta.Content)
		last := i == len(frames)-1
		if last {
			if c.FinishReason == nil || *c.FinishReason != "stop" {
				t.Fatal("last frame must carry the true finish reason")
			}
		} else if c.FinishReason != nil {
			t.Fatalf("frame %d carries finish reason %q, want null", i, *c.FinishReason)
		}
		if f.Object != "chat.completion.chunk" || f.ID != "chatcmpl-1" {
			t.Fatalf("frame %d envelope = %s/%s", i, f.Object, f.ID)
		}
	}
	if rebuilt.String() != content {
		t.Fatal("concatenated deltas do not rebuild the content")
	}
}

func TestChatFramesEmptyContent(t *testing.T) {
	t.Parallel()

	frames := ChatFrames(chatResp(""), 60)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want a single empty delta", len(frames))
	}
	c := frames[0].Choices[0]
	if c.Delta.Role != "assistant" || c.FinishReason == nil {
		t.Fatal("single frame must carry both role and finish reason")
	}
}

func TestChatFramesToolCall(t *testing.T) {
	t.Parallel()

	resp := chatResp("")
	resp.Choices[0].Message.Content = nil
	resp.Choices[0].Message.ToolCalls = []gateway.ToolCall{{
		ID: "call_1", Type: "function",
		Function: gateway.FunctionCall{Name: "search", Arguments: `{"q":"x"}`},
	}}
	resp.Choices[0].FinishReason = "tool_calls"

	frames := ChatFrames(resp, 60)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want a single tool-call frame", len(frames))
	}
	c := frames[0].Choices[0]
	if len(c.Delta.ToolCalls) != 1 || c.Delta.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("delta = %+v, want the tool call", c.Delta)
	}
	if c.FinishReason == nil || *c.FinishReason != "tool_calls" {
		t.Fatal("tool-call frame must carry finish_reason tool_calls")
	}
}

func TestCompletionFrames(t *testing.T) {
	t.Parallel()

	resp := &gateway.CompletionResponse{
		ID: "cmpl-1", Object: "text_completion", Created: 1700000000, Model: "m",
		Choices: []gateway.CompletionChoice{{Text: strings.Repeat("y", 61), FinishReason: "length"}},
	}
	frames := CompletionFrames(resp, 60)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Choices[0].FinishReason != nil {
		t.Fatal("non-terminal frame must carry null finish reason")
	}
	last := frames[1].Choices[0]
	if last.Text != "y" || last.FinishReason == nil || *last.FinishReason != "length" {
		t.Fatalf("last frame = %+v, want trailing rune with finish reason", last)
	}
}
