package trace

import (
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTextLen = 2000
	queueSize  = 64
)

type traceMsg struct {
	kind     string // "session_start", "session_end", "message", "tool_call", "cost"
	room     string
	identity string
	message  Message
	toolCall ToolCall
	cost     CostUpdate
}

// Tracer writes one session's trace asynchronously via a buffered channel.
// All methods are nil-safe (no-op on nil receiver). Records are dropped
// with a warning when the queue is full so callers never block on the
// database.
type Tracer struct {
	w         Writer
	sessionID string
	ch        chan traceMsg
	done      chan struct{}
}

// NewTracer creates a tracer bound to a session. Returns nil when w is nil.
// Must call Close when done.
func NewTracer(w Writer, sessionID string) *Tracer {
	if w == nil {
		return nil
	}
	t := &Tracer{
		w:         w,
		sessionID: sessionID,
		ch:        make(chan traceMsg, queueSize),
		done:      make(chan struct{}),
	}
	go t.drain()
	return t
}

// SessionID returns the ID every record is written under.
func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"session_start": func() error { return t.w.CreateSession(t.sessionID, m.room, m.identity) },
		"session_end":   func() error { return t.w.EndSession(t.sessionID) },
		"message":       func() error { return t.w.CreateMessage(m.message) },
		"tool_call":     func() error { return t.w.CreateToolCall(m.toolCall) },
		"cost":          func() error { return t.w.CreateCostUpdate(m.cost) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "session", t.sessionID, "error", err)
	}
}

func (t *Tracer) enqueue(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Warn("trace queue full, dropping record", "kind", m.kind, "session", t.sessionID)
	}
}

// StartSession records the session row.
func (t *Tracer) StartSession(room, identity string) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_start", room: room, identity: identity})
}

// EndSession stamps the session's end time.
func (t *Tracer) EndSession() {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_end"})
}

// RecordMessage records a completed message.
func (t *Tracer) RecordMessage(role, text string) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "message", message: Message{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Role:      role,
		Text:      truncate(text, maxTextLen),
		CreatedAt: time.Now(),
	}})
}

// RecordToolCall records one relayed tool call.
func (t *Tracer) RecordToolCall(name, args, output string, isError bool) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "tool_call", toolCall: ToolCall{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Name:      name,
		Args:      truncate(args, maxTextLen),
		Output:    truncate(output, maxTextLen),
		IsError:   isError,
		CreatedAt: time.Now(),
	}})
}

// RecordCost records a priced usage event and the running total after it.
func (t *Tracer) RecordCost(service string, cost, total float64) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "cost", cost: CostUpdate{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Service:   service,
		Cost:      cost,
		Total:     total,
		CreatedAt: time.Now(),
	}})
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
