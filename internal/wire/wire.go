// Package wire holds the shared vocabulary of the out-of-band data channel:
// topic names and the decode error reported for malformed payloads.
package wire

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Data-channel topics.
const (
	TopicToolEvents = "tool-events"
	TopicCostEvents = "cost-events"
	TopicText       = "text"
)

// DecodeError reports a payload that could not be turned into an event.
// The event is dropped; the session is unaffected.
type DecodeError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope carries only the discriminant shared by every structured event.
type envelope struct {
	Type string `json:"type"`
}

// Unmarshal validates payload as UTF-8 JSON and decodes it into v, returning
// the event's "type" discriminant. All failures are *DecodeError.
func Unmarshal(topic string, payload []byte, v any) (string, error) {
	if !utf8.Valid(payload) {
		return "", &DecodeError{Topic: topic, Reason: "invalid utf-8"}
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", &DecodeError{Topic: topic, Reason: "invalid json", Err: err}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return env.Type, &DecodeError{Topic: topic, Reason: "invalid " + env.Type + " event", Err: err}
	}
	return env.Type, nil
}
