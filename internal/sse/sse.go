// Package sse turns a finished completion into the ordered chunk frames a
// streaming client expects. The transform is pure and one-shot: the full
// result already exists, frames just replay it incrementally.
package sse

import (
	gateway "github.com/bifrost-ai/bifrost/internal"
)

// DefaultChunkRunes is the content segment width used when a caller does not
// configure one.
const DefaultChunkRunes = 60

// Done is the terminal sentinel payload appended after the content frames.
const Done = "[DONE]"

// ChatDelta is the incremental piece of an assistant message.
type ChatDelta struct {
	Role      string             `json:"role,omitempty"`
	Content   string             `json:"content,omitempty"`
	ToolCalls []gateway.ToolCall `json:"tool_calls,omitempty"`
}

// ChatChunkChoice is a single choice in a chat chunk frame.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatChunk is one chat completion stream frame.
type ChatChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
}

// CompletionChunk is one text completion stream frame.
type CompletionChunk struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []CompletionChunkChoice `json:"choices"`
}

// CompletionChunkChoice is a single choice in a completion chunk frame.
type CompletionChunkChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// SplitRunes segments s into width-rune chunks, preserving order. Splitting
// on runes keeps multi-byte characters intact.
func SplitRunes(s string, width int) []string {
	if width <= 0 {
		width = DefaultChunkRunes
	}
	if s == "" {
		return nil
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+width-1)/width)
	for len(runes) > width {
		out = append(out, string(runes[:width]))
		runes = runes[width:]
	}
	return append(out, string(runes))
}

// ChatFrames converts a finished chat response into its stream frames. A
// tool-call turn becomes a single frame carrying the calls and the final
// finish reason; otherwise the content is chunked, the first frame carries
// the role marker and only the last frame carries the finish reason.
func ChatFrames(resp *gateway.ChatResponse, width int) []ChatChunk {
	if len(resp.Choices) == 0 {
		return nil
	}
	choice := resp.Choices[0]

	frame := func(delta ChatDelta, finish *string) ChatChunk {
		return ChatChunk{
			ID:      resp.ID,
			Object:  "chat.completion.chunk",
			Created: resp.Created,
			Model:   resp.Model,
			Choices: []ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	if len(choice.Message.ToolCalls) > 0 {
		return []ChatChunk{frame(
			ChatDelta{Role: "assistant", ToolCalls: choice.Message.ToolCalls},
			&choice.FinishReason,
		)}
	}

	var content string
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	segments := SplitRunes(content, width)
	if len(segments) == 0 {
		segments = []string{""}
	}

	frames := make([]ChatChunk, 0, len(segments))
	for i, seg := range segments {
		delta := ChatDelta{Content: seg}
		if i == 0 {
			delta.Role = "assistant"
		}
		var finish *string
		if i == len(segments)-1 {
			finish = &choice.FinishReason
		}
		frames = append(frames, frame(delta, finish))
	}
	return frames
}

// CompletionFrames converts a finished text completion into stream frames
// using the same chunking and terminal finish-reason placement.
func CompletionFrames(resp *gateway.CompletionResponse, width int) []CompletionChunk {
	if len(resp.Choices) == 0 {
		return nil
	}
	choice := resp.Choices[0]

	segments := SplitRunes(choice.Text, width)
	if len(segments) == 0 {
		segments = []string{""}
	}

	frames := make([]CompletionChunk, 0, len(segments))
	for i, seg := range segments {
		var finish *string
		if i == len(segments)-1 {
			finish = &choice.FinishReason
		}
		frames = append(frames, CompletionChunk{
			ID:      resp.ID,
			Object:  "text_completion",
			Created: resp.Created,
			Model:   resp.Model,
			Choices: []CompletionChunkChoice{{Text: seg, FinishReason: finish}},
		})
	}
	return frames
}
