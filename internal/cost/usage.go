package cost

import (
	"github.com/openai/openai-go/v2"
)

// AddCompletionUsage prices the usage block of an OpenAI-compatible chat
// completion, the shape the agent's LLM plugin reports.
func (a *Aggregator) AddCompletionUsage(u openai.CompletionUsage) float64 {
	return a.AddLanguageModel(u.PromptTokens, u.CompletionTokens, u.PromptTokensDetails.CachedTokens)
}
