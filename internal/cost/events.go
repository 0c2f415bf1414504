package cost

import (
	"github.com/openai/openai-go/v2"

	"github.com/ericvicenti/botical-voice/internal/wire"
)

// Event discriminants accepted on the cost topic.
const (
	TypeCostUpdate = "cost_update"
	TypeSTTMetrics = "stt_metrics"
	TypeLLMMetrics = "llm_metrics"
	TypeTTSMetrics = "tts_metrics"
)

// Message is the union of every event shape carried on the cost topic. A
// cost_update carries an agent-computed snapshot; the *_metrics events carry
// raw usage for the receiving session to price itself.
type Message struct {
	Type    string     `json:"type"`
	Service Service    `json:"service,omitempty"`
	Cost    float64    `json:"cost,omitempty"`
	Session *Breakdown `json:"session,omitempty"`

	AudioDurationMs  float64 `json:"audioDurationMs,omitempty"`
	PromptTokens     int64   `json:"promptTokens,omitempty"`
	CompletionTokens int64   `json:"completionTokens,omitempty"`
	CachedTokens     int64   `json:"cachedTokens,omitempty"`
	CharactersCount  int64   `json:"charactersCount,omitempty"`

	// Usage is an OpenAI-compatible completion usage block. When present on
	// an llm_metrics event it takes precedence over the flat token fields.
	Usage *openai.CompletionUsage `json:"usage,omitempty"`
}

// Decode parses a cost-topic payload. Unknown discriminants and a
// cost_update without a session snapshot are *wire.DecodeError.
func Decode(payload []byte) (Message, error) {
	var m Message
	typ, err := wire.Unmarshal(wire.TopicCostEvents, payload, &m)
	if err != nil {
		return Message{}, err
	}
	switch typ {
	case TypeCostUpdate:
		if m.Session == nil {
			return Message{}, &wire.DecodeError{Topic: wire.TopicCostEvents, Reason: "cost_update without session"}
		}
	case TypeSTTMetrics, TypeLLMMetrics, TypeTTSMetrics:
	default:
		return Message{}, &wire.DecodeError{Topic: wire.TopicCostEvents, Reason: "unknown type " + typ}
	}
	return m, nil
}

// Apply folds a decoded message into the aggregator and returns the
// resulting update. A cost_update snapshot raises each local total to at
// least the reported value, so later metrics add on top of it and the
// displayed breakdown never decreases.
func (a *Aggregator) Apply(m Message) Update {
	switch m.Type {
	case TypeSTTMetrics:
		return a.Update(ServiceSTT, a.AddSpeechToText(m.AudioDurationMs))
	case TypeLLMMetrics:
		if m.Usage != nil {
			return a.Update(ServiceLLM, a.AddCompletionUsage(*m.Usage))
		}
		return a.Update(ServiceLLM, a.AddLanguageModel(m.PromptTokens, m.CompletionTokens, m.CachedTokens))
	case TypeTTSMetrics:
		return a.Update(ServiceTTS, a.AddTextToSpeech(m.CharactersCount))
	}
	if m.Session != nil {
		a.Raise(*m.Session)
	}
	return a.Update(m.Service, nonNegative(m.Cost))
}
