package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericvicenti/botical-voice/internal/cost"
	"github.com/ericvicenti/botical-voice/internal/credentials"
	"github.com/ericvicenti/botical-voice/internal/toolevents"
	"github.com/ericvicenti/botical-voice/internal/transcript"
	"github.com/ericvicenti/botical-voice/internal/voicestate"
)

type sentText struct {
	topic string
	text  string
}

type fakeTransport struct {
	mu           sync.Mutex
	handler      func(Event)
	lastHandler  func(Event)
	connectErr   error
	sendErr      error
	micErr       error
	local        string
	remotes      []Participant
	connects     int
	disconnects  int
	sent         []sentText
	mic          []bool
	connectedURL string
	onConnect    func()
}

func (f *fakeTransport) Subscribe(h func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.lastHandler = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
	}
}

func (f *fakeTransport) Connect(_ context.Context, url, _ string) error {
	if f.onConnect != nil {
		f.onConnect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connectedURL = url
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) LocalIdentity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) RemoteParticipants() []Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotes
}

func (f *fakeTransport) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mic = append(f.mic, enabled)
	return f.micErr
}

func (f *fakeTransport) SendText(_ context.Context, topic, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{topic: topic, text: text})
	return f.sendErr
}

// emit delivers ev to the current subscriber, if any.
func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// emitStale delivers ev even after unsubscribe, the way a late callback
// from a torn-down connection would.
func (f *fakeTransport) emitStale(ev Event) {
	f.mu.Lock()
	h := f.lastHandler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeTransport) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type fakeSink struct {
	muted    bool
	detached bool
}

func (s *fakeSink) SetMuted(muted bool) { s.muted = muted }
func (s *fakeSink) Detach()             { s.detached = true }

type fakeTrack struct {
	sid  string
	kind TrackKind
	sink *fakeSink
}

func (t *fakeTrack) SID() string     { return t.sid }
func (t *fakeTrack) Kind() TrackKind { return t.kind }
func (t *fakeTrack) Attach() (AudioSink, error) {
	t.sink = &fakeSink{}
	return t.sink, nil
}

type fakeCredentials struct {
	mu    sync.Mutex
	err   error
	calls int
	cred  credentials.Credential
}

func (c *fakeCredentials) Fetch(context.Context, string) (*credentials.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	cred := c.cred
	return &cred, nil
}

func (c *fakeCredentials) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireActive runs every timer that is still pending and returns how many ran.
func (s *fakeScheduler) fireActive() int {
	n := 0
	for _, t := range s.active() {
		t.fired = true
		t.f()
		n++
	}
	return n
}

type recordingView struct {
	mu        sync.Mutex
	calls     []string
	breakdown cost.Breakdown
	indicator voicestate.Indicator
	conn      State
	inputs    bool
	cards     []toolevents.Record
}

func (v *recordingView) add(format string, args ...any) {
	v.calls = append(v.calls, fmt.Sprintf(format, args...))
}

func (v *recordingView) RenderCompletedMessage(role transcript.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("completed:%s:%s", role, text)
}

func (v *recordingView) RenderPendingMessage(id string, role transcript.Role, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("pending:%s:%s:%s", id, role, text)
}

func (v *recordingView) FinalizePendingMessage(id, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("finalize:%s:%s", id, text)
}

func (v *recordingView) RenderToolCard(rec toolevents.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = append(v.cards, rec)
	v.add("tool:%s", rec.Name)
}

func (v *recordingView) PlayToolCue() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("cue")
}

func (v *recordingView) UpdateCostDisplay(b cost.Breakdown) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakdown = b
	v.add("cost")
}

func (v *recordingView) SetConnectionIndicator(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conn = s
	v.add("conn:%s", s)
}

func (v *recordingView) SetVoiceIndicatorState(ind voicestate.Indicator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.indicator = ind
	v.add("voice:%s:%v", ind.Label, ind.Visible)
}

func (v *recordingView) SetInputsEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputs = enabled
	v.add("inputs:%v", enabled)
}

func (v *recordingView) ClearInput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("clear")
}

// since returns calls recorded after the first n.
func (v *recordingView) since(n int) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls[n:]...)
}

func (v *recordingView) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}
