package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator approximates the prompt size of a message slice. It is used
// for logging and budget warnings only, never for hard enforcement, so a
// rough estimate is acceptable when no encoding is available for the model.
type TokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator builds an estimator for the given model. Unknown models
// fall back to the cl100k_base encoding; if even that cannot be loaded the
// estimator degrades to a characters/4 heuristic.
func NewTokenEstimator(model string) *TokenEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	}
	return &TokenEstimator{enc: enc}
}

// Estimate returns the approximate token count of the messages, including a
// small per-message overhead for role framing.
func (e *TokenEstimator) Estimate(messages []Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		if e != nil && e.enc != nil {
			total += len(e.enc.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
		total += perMessageOverhead
	}
	return total
}
