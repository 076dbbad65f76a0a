package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"time"
)

// lexicon feeds the synthesizer. Content is meaningless by design; only
// determinism and shape matter.
var lexicon = []string{
	"the", "model", "considers", "each", "request", "in", "turn", "and",
	"produces", "a", "structured", "answer", "based", "on", "available",
	"context", "tokens", "are", "sampled", "from", "learned", "distributions",
	"while", "routing", "decisions", "remain", "outside", "this", "scope",
	"final", "output", "reflects", "prompt", "intent", "within", "budget",
}

// Synth is a deterministic text synthesizer standing in for real
// model-serving infrastructure. Identical requests yield identical results.
type Synth struct{}

// NewSynth creates a Synth adapter.
func NewSynth() *Synth {
	return &Synth{}
}

// Name returns the adapter identifier.
func (s *Synth) Name() string { return "synth" }

// Generate synthesizes text seeded from the model and prompt. The word count
// tracks the output budget; FinishLength is reported when the budget is the
// binding constraint.
func (s *Synth) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := sha256.Sum256([]byte(req.Model + "\x00" + req.Prompt))
	rng := rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:16]),
	))

	natural := 24 + int(rng.Uint64()%48)
	n := natural
	finish := FinishStop
	if req.MaxTokens > 0 && req.MaxTokens < natural {
		n = req.MaxTokens
		finish = FinishLength
	}

	words := make([]string, n)
	for i := range words {
		words[i] = lexicon[rng.IntN(len(lexicon))]
	}
	text := strings.Join(words, " ")
	if idx := stopIndex(text, req.Stop); idx >= 0 {
		text = text[:idx]
		finish = FinishStop
	}

	// Simulated upstream latency, deterministic for the same input.
	latency := time.Duration(5+int(seed[16])%40) * time.Millisecond

	return &GenerateResult{Text: text, FinishReason: finish, Latency: latency}, nil
}

// stopIndex returns the earliest index of any stop sequence, or -1.
func stopIndex(text string, stop []string) int {
	earliest := -1
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (earliest < 0 || i < earliest) {
			earliest = i
		}
	}
	return earliest
}
