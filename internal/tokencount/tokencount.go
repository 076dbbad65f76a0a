// Package tokencount provides approximate token estimation for quota admission
// and usage recording. The estimate is deliberately coarse but deterministic:
// exactness against any real model tokenizer is not a goal.
package tokencount

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// ImageTokenSurcharge approximates the vision-input cost of one image part.
const ImageTokenSurcharge = 256

// Counter estimates token counts for text and message lists.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateText scores plain text as the larger of a word-tokenization count
// and ceil(chars/4). Empty or whitespace-only input yields 0.
func (c *Counter) EstimateText(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := wordCount(text)
	chars := (utf8.RuneCountInString(text) + 3) / 4
	return max(words, chars)
}

// EstimateMessages scores a chat message list. Each message contributes
// "role: text" to a combined string scored like plain text; every image part
// adds a fixed surcharge on top.
func (c *Counter) EstimateMessages(msgs []gateway.Message) int {
	var b strings.Builder
	images := 0
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(ExtractText(m.Content))
		images += CountImages(m.Content)
	}
	return c.EstimateText(b.String()) + images*ImageTokenSurcharge
}

// wordCount counts maximal runs of letters and digits; punctuation and
// whitespace are separators.
func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if !inWord {
				n++
				inWord = true
			}
		} else {
			inWord = false
		}
	}
	return n
}

// ExtractText flattens message content to plain text. String content is
// returned as-is; part lists contribute their text parts newline-joined.
// Image parts carry no text.
func ExtractText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	v := gjson.ParseBytes(content)
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.JSON:
		if !v.IsArray() {
			return ""
		}
		var parts []string
		v.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() && part.Get("type").String() != "image_url" {
				parts = append(parts, t.String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// CountImages counts image-bearing parts in message content. An image part is
// recognized whether its image_url is a bare URL string or an object with a
// url field.
func CountImages(content json.RawMessage) int {
	if len(content) == 0 {
		return 0
	}
	v := gjson.ParseBytes(content)
	if !v.IsArray() {
		return 0
	}
	n := 0
	v.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() != "image_url" {
			return true
		}
		img := part.Get("image_url")
		if img.Type == gjson.String || img.Get("url").Exists() {
			n++
		}
		return true
	})
	return n
}

// FlattenPrompt flattens a completion prompt (JSON string or list of strings)
// to a single newline-joined string.
func FlattenPrompt(prompt json.RawMessage) string {
	if len(prompt) == 0 {
		return ""
	}
	v := gjson.ParseBytes(prompt)
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.JSON:
		if !v.IsArray() {
			return ""
		}
		var parts []string
		v.ForEach(func(_, p gjson.Result) bool {
			parts = append(parts, p.String())
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
