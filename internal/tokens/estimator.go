// Package tokens estimates token usage for captured conversation turns.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens with a BPE codec. When the vocabulary cannot be
// loaded it falls back to a bytes/4 heuristic rather than failing capture.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewEstimator creates an estimator. The codec loads lazily on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err == nil {
		e.codec = codec
	}
}

// Count estimates the token count of text.
func (e *Estimator) Count(text string) int64 {
	if text == "" {
		return 0
	}
	e.once.Do(e.load)
	if e.codec != nil {
		if n, err := e.codec.Count(text); err == nil {
			return int64(n)
		}
	}
	return int64(len(text)+3) / 4
}

// CountTurn estimates tokens across both sides of a dialogue turn.
func (e *Estimator) CountTurn(userInput, claudeReply string) int64 {
	return e.Count(userInput) + e.Count(claudeReply)
}
