// Package voicestate derives the voice indicator label from the agent's
// published state, the local speaking flag and the voice toggle.
package voicestate

// Agent states published in the lk.agent.state participant attribute.
const (
	AgentInitializing = "initializing"
	AgentListening    = "listening"
	AgentThinking     = "thinking"
	AgentSpeaking     = "speaking"
)

// AttributeAgentState is the participant attribute carrying the agent state.
const AttributeAgentState = "lk.agent.state"

// Label is what the voice indicator shows.
type Label string

const (
	LabelWaiting   Label = "Waiting"
	LabelListening Label = "Listening"
	LabelThinking  Label = "Thinking"
	LabelSpeaking  Label = "Speaking"
)

// Indicator is the full display state.
type Indicator struct {
	Label   Label
	Visible bool
}

// Tracker holds the inputs of the indicator. Not safe for concurrent use.
type Tracker struct {
	agentState   string
	userSpeaking bool
	voiceEnabled bool
}

// NewTracker starts in the initializing state with voice off.
func NewTracker() *Tracker {
	return &Tracker{agentState: AgentInitializing}
}

// SetAgentState records the agent's latest state.
func (t *Tracker) SetAgentState(state string) Indicator {
	t.agentState = state
	return t.Indicator()
}

// SetUserSpeaking records whether the local participant is an active speaker.
func (t *Tracker) SetUserSpeaking(speaking bool) Indicator {
	t.userSpeaking = speaking
	return t.Indicator()
}

// SetVoiceEnabled records the voice toggle; the indicator is hidden while off.
func (t *Tracker) SetVoiceEnabled(enabled bool) Indicator {
	t.voiceEnabled = enabled
	return t.Indicator()
}

// Reset returns to initializing with the user silent. The voice flag is
// owned by the caller and left alone.
func (t *Tracker) Reset() Indicator {
	t.agentState = AgentInitializing
	t.userSpeaking = false
	return t.Indicator()
}

// Indicator computes the current display state.
func (t *Tracker) Indicator() Indicator {
	return Indicator{Label: t.label(), Visible: t.voiceEnabled}
}

func (t *Tracker) label() Label {
	switch t.agentState {
	case AgentListening:
		if t.userSpeaking {
			return LabelListening
		}
		return LabelWaiting
	case AgentThinking:
		return LabelThinking
	case AgentSpeaking:
		return LabelSpeaking
	}
	return LabelWaiting
}
