package session

import (
	"time"

	"github.com/ericvicenti/botical-voice/internal/cost"
	"github.com/ericvicenti/botical-voice/internal/toolevents"
	"github.com/ericvicenti/botical-voice/internal/transcript"
	"github.com/ericvicenti/botical-voice/internal/voicestate"
)

// View receives render instructions. Calls arrive serialized, in event
// order, and must not call back into the Manager.
type View interface {
	RenderCompletedMessage(role transcript.Role, text string)
	RenderPendingMessage(id string, role transcript.Role, text string)
	FinalizePendingMessage(id, text string)
	RenderToolCard(rec toolevents.Record)
	PlayToolCue()
	UpdateCostDisplay(b cost.Breakdown)
	SetConnectionIndicator(s State)
	SetVoiceIndicatorState(ind voicestate.Indicator)
	SetInputsEnabled(enabled bool)
	ClearInput()
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler arms retry timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
