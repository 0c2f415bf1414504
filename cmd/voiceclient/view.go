package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ericvicenti/botical-voice/internal/cost"
	"github.com/ericvicenti/botical-voice/internal/session"
	"github.com/ericvicenti/botical-voice/internal/toolevents"
	"github.com/ericvicenti/botical-voice/internal/transcript"
	"github.com/ericvicenti/botical-voice/internal/voicestate"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	toolStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	toolErrorStyle = toolStyle.BorderForeground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

// terminalView renders session instructions as lines on a terminal.
// Pending messages cannot be edited in place, so each interim update is
// printed once and the final text is printed in the speaker's style.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	pending map[string]pendingLine
	voice   voicestate.Indicator
	inputs  bool
}

type pendingLine struct {
	role transcript.Role
	text string
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, pending: make(map[string]pendingLine)}
}

var _ session.View = (*terminalView)(nil)

func (v *terminalView) println(s string) {
	fmt.Fprintln(v.out, s)
}

func speaker(role transcript.Role) string {
	if role == transcript.RoleUser {
		return userStyle.Render("you")
	}
	return agentStyle.Render("agent")
}

func (v *terminalView) RenderCompletedMessage(role transcript.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(speaker(role) + "  " + text)
}

func (v *terminalView) RenderPendingMessage(id string, role transcript.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, ok := v.pending[id]; ok && prev.text == text {
		return
	}
	v.pending[id] = pendingLine{role: role, text: text}
	v.println(pendingStyle.Render(string(role) + " … " + text))
}

func (v *terminalView) FinalizePendingMessage(id, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[id]
	if !ok {
		p.role = transcript.RoleAgent
	}
	delete(v.pending, id)
	v.println(speaker(p.role) + "  " + text)
}

func (v *terminalView) RenderToolCard(rec toolevents.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	style := toolStyle
	title := "tool " + rec.Name
	if rec.IsError {
		style = toolErrorStyle
		title += " (error)"
	}
	body := strings.Join([]string{
		title,
		"args:   " + rec.DisplayArgs(),
		"output: " + rec.DisplayOutput(),
	}, "\n")
	v.println(style.Render(body))
}

func (v *terminalView) PlayToolCue() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.out, "\a")
}

func (v *terminalView) UpdateCostDisplay(b cost.Breakdown) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(statusStyle.Render(fmt.Sprintf("cost  stt %s  llm %s  tts %s  total %s",
		cost.Format(b.STT), cost.Format(b.LLM), cost.Format(b.TTS), cost.Format(b.Total))))
}

func (v *terminalView) SetConnectionIndicator(s session.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch s {
	case session.StateConnected:
		v.println(connectedStyle.Render("● connected"))
	case session.StateConnecting:
		v.println(statusStyle.Render("○ connecting..."))
	case session.StateReconnecting:
		v.println(statusStyle.Render("○ reconnecting..."))
	}
}

func (v *terminalView) SetVoiceIndicatorState(ind voicestate.Indicator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.voice
	v.voice = ind
	if ind == prev {
		return
	}
	if !ind.Visible {
		if prev.Visible {
			v.println(statusStyle.Render("voice off"))
		}
		return
	}
	v.println(statusStyle.Render("voice: " + string(ind.Label)))
}

func (v *terminalView) SetInputsEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if enabled && !v.inputs {
		v.println(statusStyle.Render("type a message, /voice to toggle voice, /quit to exit"))
	}
	v.inputs = enabled
	if !enabled {
		clear(v.pending)
	}
}

// ClearInput is a no-op: the terminal has already consumed the line.
func (v *terminalView) ClearInput() {}
