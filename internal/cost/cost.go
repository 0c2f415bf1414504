// Package cost turns streaming usage metrics into running dollar figures.
package cost

import (
	"fmt"
	"math"
)

// Service identifies which stage of the voice pipeline incurred a cost.
type Service string

const (
	ServiceSTT Service = "stt"
	ServiceLLM Service = "llm"
	ServiceTTS Service = "tts"
)

// Pricing holds per-unit rates in dollars.
type Pricing struct {
	STTPerMinute           float64
	LLMInputPerToken       float64
	LLMCachedInputPerToken float64
	LLMOutputPerToken      float64
	TTSPerCharacter        float64
}

// DefaultPricing returns the published rates as of Feb 2026: Deepgram Nova-3
// streaming, Anthropic Claude Sonnet 4, Cartesia Sonic.
func DefaultPricing() Pricing {
	return Pricing{
		STTPerMinute:           0.0077,
		LLMInputPerToken:       3.0 / 1_000_000,
		LLMCachedInputPerToken: 0.3 / 1_000_000,
		LLMOutputPerToken:      15.0 / 1_000_000,
		TTSPerCharacter:        46.7 / 1_000_000,
	}
}

// Breakdown is a snapshot of running per-service totals.
type Breakdown struct {
	STT   float64 `json:"stt"`
	LLM   float64 `json:"llm"`
	TTS   float64 `json:"tts"`
	Total float64 `json:"total"`
}

// Update is the cost_update wire event: the service that just incurred cost,
// the increment, and the full session snapshot after applying it.
type Update struct {
	Type    string    `json:"type"`
	Service Service   `json:"service"`
	Cost    float64   `json:"cost"`
	Session Breakdown `json:"session"`
}

// Aggregator accumulates costs for one session. It is not safe for concurrent
// use; the session layer serializes access.
type Aggregator struct {
	pricing Pricing
	stt     float64
	llm     float64
	tts     float64
}

// NewAggregator creates an aggregator with zeroed totals.
func NewAggregator(p Pricing) *Aggregator {
	return &Aggregator{pricing: p}
}

// AddSpeechToText records durationMs of transcribed audio.
func (a *Aggregator) AddSpeechToText(durationMs float64) float64 {
	c := nonNegative(durationMs) / 60_000 * a.pricing.STTPerMinute
	a.stt += c
	return c
}

// AddLanguageModel records one completion. Cached tokens are billed at the
// cached rate and subtracted from the prompt count, never below zero.
func (a *Aggregator) AddLanguageModel(promptTokens, completionTokens, cachedTokens int64) float64 {
	cached := nonNegative(float64(cachedTokens))
	uncached := math.Max(0, float64(promptTokens)-cached)
	c := uncached*a.pricing.LLMInputPerToken +
		cached*a.pricing.LLMCachedInputPerToken +
		nonNegative(float64(completionTokens))*a.pricing.LLMOutputPerToken
	a.llm += c
	return c
}

// AddTextToSpeech records characterCount synthesized characters.
func (a *Aggregator) AddTextToSpeech(characterCount int64) float64 {
	c := nonNegative(float64(characterCount)) * a.pricing.TTSPerCharacter
	a.tts += c
	return c
}

// Snapshot returns the current totals.
func (a *Aggregator) Snapshot() Breakdown {
	return Breakdown{
		STT:   a.stt,
		LLM:   a.llm,
		TTS:   a.tts,
		Total: a.stt + a.llm + a.tts,
	}
}

// Raise lifts each running total to at least the matching value in b.
func (a *Aggregator) Raise(b Breakdown) {
	a.stt = math.Max(a.stt, nonNegative(b.STT))
	a.llm = math.Max(a.llm, nonNegative(b.LLM))
	a.tts = math.Max(a.tts, nonNegative(b.TTS))
}

// Update wraps an increment already applied to a as a cost_update event.
func (a *Aggregator) Update(svc Service, incremental float64) Update {
	return Update{
		Type:    TypeCostUpdate,
		Service: svc,
		Cost:    incremental,
		Session: a.Snapshot(),
	}
}

// Format renders dollars with precision that scales with magnitude.
func Format(dollars float64) string {
	switch {
	case dollars < 0.01:
		return fmt.Sprintf("$%.4f", dollars)
	case dollars < 1:
		return fmt.Sprintf("$%.3f", dollars)
	default:
		return fmt.Sprintf("$%.2f", dollars)
	}
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
