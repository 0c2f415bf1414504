package trace

import "time"

// Session represents one connection to a room.
type Session struct {
	ID           string     `json:"id"`
	Room         string     `json:"room"`
	Identity     string     `json:"identity"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count,omitempty"`
	TotalCost    float64    `json:"total_cost,omitempty"`
}

// Message is one completed chat or transcript message.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is one tool invocation relayed by the agent.
type ToolCall struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Args      string    `json:"args,omitempty"`
	Output    string    `json:"output,omitempty"`
	IsError   bool      `json:"is_error"`
	CreatedAt time.Time `json:"created_at"`
}

// CostUpdate is one priced usage event with the session total after it.
type CostUpdate struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Service   string    `json:"service"`
	Cost      float64   `json:"cost"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}
