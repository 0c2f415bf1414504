// Package toolevents decodes the tool-call events an agent publishes on the
// tool-events data topic.
package toolevents

import (
	"bytes"
	"encoding/json"

	"github.com/ericvicenti/botical-voice/internal/wire"
)

// TypeToolCalls is the only discriminant accepted on the tool topic.
const TypeToolCalls = "tool_calls"

// Record is one executed tool call as reported by the agent.
type Record struct {
	Name    string
	Args    string
	Output  string
	IsError bool
}

// DisplayArgs pretty-prints Args when it is JSON and falls back to the raw
// string otherwise.
func (r Record) DisplayArgs() string {
	if r.Args == "" {
		return "(none)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(r.Args), "", "  "); err != nil {
		return r.Args
	}
	return buf.String()
}

// DisplayOutput returns Output, or a placeholder when the tool returned
// nothing.
func (r Record) DisplayOutput() string {
	if r.Output == "" {
		return "(empty)"
	}
	return r.Output
}

type wireTool struct {
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args"`
	Output  string          `json:"output"`
	IsError bool            `json:"isError"`
}

type wireEvent struct {
	Type  string      `json:"type"`
	Tools *[]wireTool `json:"tools"`
}

// Decode parses a tool-events payload into records in payload order.
// Malformed payloads yield a *wire.DecodeError and no records.
func Decode(payload []byte) ([]Record, error) {
	var ev wireEvent
	typ, err := wire.Unmarshal(wire.TopicToolEvents, payload, &ev)
	if err != nil {
		return nil, err
	}
	if typ != TypeToolCalls {
		return nil, &wire.DecodeError{Topic: wire.TopicToolEvents, Reason: "unknown type " + typ}
	}
	if ev.Tools == nil {
		return nil, &wire.DecodeError{Topic: wire.TopicToolEvents, Reason: "missing tools"}
	}

	records := make([]Record, 0, len(*ev.Tools))
	for _, t := range *ev.Tools {
		records = append(records, Record{
			Name:    t.Name,
			Args:    rawArgs(t.Args),
			Output:  t.Output,
			IsError: t.IsError,
		})
	}
	return records, nil
}

// rawArgs keeps args opaque: a JSON string is unquoted, anything else (an
// object sent without stringifying) is kept verbatim.
func rawArgs(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// Encode produces the tool-events payload for records, with args carried as
// strings the way the agent framework reports them.
func Encode(records []Record) ([]byte, error) {
	type outTool struct {
		Name    string `json:"name"`
		Args    string `json:"args"`
		Output  string `json:"output"`
		IsError bool   `json:"isError"`
	}
	tools := make([]outTool, 0, len(records))
	for _, r := range records {
		tools = append(tools, outTool{Name: r.Name, Args: r.Args, Output: r.Output, IsError: r.IsError})
	}
	return json.Marshal(struct {
		Type  string    `json:"type"`
		Tools []outTool `json:"tools"`
	}{Type: TypeToolCalls, Tools: tools})
}
