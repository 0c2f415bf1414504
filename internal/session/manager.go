// Package session owns the lifecycle of the single live room connection and
// fans transport events out to the transcript, tool-event and cost
// components.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericvicenti/botical-voice/internal/cost"
	"github.com/ericvicenti/botical-voice/internal/credentials"
	"github.com/ericvicenti/botical-voice/internal/metrics"
	"github.com/ericvicenti/botical-voice/internal/toolevents"
	"github.com/ericvicenti/botical-voice/internal/trace"
	"github.com/ericvicenti/botical-voice/internal/transcript"
	"github.com/ericvicenti/botical-voice/internal/voicestate"
	"github.com/ericvicenti/botical-voice/internal/wire"
)

const (
	defaultConnectRetryDelay = 3 * time.Second
	defaultDropRetryDelay    = 2 * time.Second
	defaultGreeting          = "hi"
)

// State is the manager's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// CredentialSource fetches a join credential for a room ("" for the
// server's default).
type CredentialSource interface {
	Fetch(ctx context.Context, room string) (*credentials.Credential, error)
}

// Config holds the manager's collaborators and tunables.
type Config struct {
	Credentials  CredentialSource
	NewTransport func() Transport
	View         View

	Room              string
	ConnectRetryDelay time.Duration
	DropRetryDelay    time.Duration
	GreetingText      string
	Pricing           cost.Pricing

	// Optional.
	Scheduler Scheduler
	Trace     trace.Writer
	Logger    *slog.Logger
}

// Session is one live transport connection and everything scoped to it.
type Session struct {
	id          string
	transport   Transport
	unsubscribe func()
	identity    string
	room        string

	sinks        map[string]AudioSink
	voiceEnabled bool
	greetingSent bool

	transcript *transcript.Reconciler
	costs      *cost.Aggregator
	tracer     *trace.Tracer
}

// Manager is the connection state machine. At most one Session exists at a
// time; all view calls are made while holding mu so they arrive in event
// order. Network I/O always happens outside mu.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	session  *Session
	retry    Timer
	retryGen uint64
	voice    *voicestate.Tracker
	lastErr  error
	closed   bool
}

// NewManager creates an idle manager. Call Connect to start.
func NewManager(cfg Config) *Manager {
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = defaultConnectRetryDelay
	}
	if cfg.DropRetryDelay <= 0 {
		cfg.DropRetryDelay = defaultDropRetryDelay
	}
	if cfg.GreetingText == "" {
		cfg.GreetingText = defaultGreeting
	}
	if cfg.Pricing == (cost.Pricing{}) {
		cfg.Pricing = cost.DefaultPricing()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = wallClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		log:    log.With("component", "session"),
		ctx:    ctx,
		cancel: cancel,
		voice:  voicestate.NewTracker(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connect or drop failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect starts a connection attempt. It is a no-op while a Session exists
// or another attempt is in flight. A failure is returned after the retry
// timer has been armed; callers may ignore it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session != nil || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.log.Debug("fetching credential", "room", m.cfg.Room)
	cred, err := m.cfg.Credentials.Fetch(ctx, m.cfg.Room)
	if err != nil {
		m.mu.Lock()
		m.failAttemptLocked(err)
		m.mu.Unlock()
		return err
	}
	m.log.Info("credential received", "identity", cred.Identity, "room", cred.Room)

	tr := m.cfg.NewTransport()
	s := &Session{
		id:         uuid.NewString(),
		transport:  tr,
		identity:   cred.Identity,
		room:       cred.Room,
		sinks:      make(map[string]AudioSink),
		transcript: transcript.NewReconciler(),
		costs:      cost.NewAggregator(m.cfg.Pricing),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s.tracer = trace.NewTracer(m.cfg.Trace, s.id)
	s.unsubscribe = tr.Subscribe(func(ev Event) { m.handle(s, ev) })
	m.session = s
	metrics.SessionsActive.Inc()
	m.mu.Unlock()

	m.log.Info("connecting", "url", cred.URL, "session", s.id)
	if err = tr.Connect(ctx, cred.URL, cred.Token); err != nil {
		cerr := &TransportConnectError{URL: cred.URL, Err: err}
		m.mu.Lock()
		if m.session == s {
			m.teardownLocked(s)
			m.failAttemptLocked(cerr)
		}
		m.mu.Unlock()
		tr.Disconnect()
		return cerr
	}

	remotes := tr.RemoteParticipants()
	local := tr.LocalIdentity()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		// Dropped while the handshake was completing; the drop path owns
		// the retry.
		return nil
	}
	if local != "" {
		s.identity = local
	}
	m.lastErr = nil
	metrics.ConnectAttempts.WithLabelValues("success").Inc()
	s.tracer.StartSession(s.room, s.identity)
	m.setStateLocked(StateConnected)
	m.cfg.View.SetInputsEnabled(true)
	m.log.Info("connected", "room", s.room, "identity", s.identity, "session", s.id)
	if len(remotes) > 0 {
		ids := make([]string, 0, len(remotes))
		for _, p := range remotes {
			ids = append(ids, p.Identity)
		}
		m.log.Info("participants in room", "count", len(ids), "identities", strings.Join(ids, ", "))
	}
	return nil
}

// ToggleVoice flips voice input for the current session. The first enable
// in a session sends the greeting trigger; a greeting failure is logged
// and swallowed. A microphone failure is returned but the flag stands.
func (m *Manager) ToggleVoice(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	if s == nil || m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	enabled := !s.voiceEnabled
	s.voiceEnabled = enabled
	for _, sink := range s.sinks {
		sink.SetMuted(!enabled)
	}
	m.cfg.View.SetVoiceIndicatorState(m.voice.SetVoiceEnabled(enabled))
	greet := enabled && !s.greetingSent
	if greet {
		s.greetingSent = true
	}
	tr := s.transport
	m.mu.Unlock()

	m.log.Info("voice toggled", "enabled", enabled)
	var micErr error
	if err := tr.SetMicrophoneEnabled(ctx, enabled); err != nil {
		micErr = fmt.Errorf("set microphone enabled=%v: %w", enabled, err)
		m.log.Warn("microphone toggle failed", "error", micErr)
	}

	if greet {
		if err := tr.SendText(ctx, wire.TopicText, m.cfg.GreetingText); err != nil {
			metrics.SendErrors.WithLabelValues("greeting").Inc()
			m.log.Warn("greeting send failed", "error", &SendError{Kind: "greeting", Err: err})
		}
	}
	return micErr
}

// SendText renders text as a user message and sends it on the text topic.
// Blank input is a no-op, as is any call made before the session is
// connected. The render is not rolled
// back when the send fails.
func (m *Manager) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	s := m.session
	if s == nil || m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.cfg.View.ClearInput()
	m.cfg.View.RenderCompletedMessage(transcript.RoleUser, text)
	s.tracer.RecordMessage(string(transcript.RoleUser), text)
	tr := s.transport
	m.mu.Unlock()

	if err := tr.SendText(ctx, wire.TopicText, text); err != nil {
		serr := &SendError{Kind: "text", Err: err}
		metrics.SendErrors.WithLabelValues("text").Inc()
		m.log.Warn("text send failed", "error", serr)
		return serr
	}
	m.log.Debug("sent text", "chars", len(text))
	return nil
}

// Close tears down the session, cancels any pending retry and disconnects
// the transport. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopRetryLocked()
	s := m.session
	if s != nil {
		m.teardownLocked(s)
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.cancel()
	if s != nil {
		return s.transport.Disconnect()
	}
	return nil
}

// failAttemptLocked records a failed connect attempt and arms the retry.
func (m *Manager) failAttemptLocked(err error) {
	m.lastErr = err
	metrics.ConnectAttempts.WithLabelValues("failure").Inc()
	m.log.Error("connection error", "error", err)
	if m.closed {
		return
	}
	m.setStateLocked(StateReconnecting)
	m.armRetryLocked(m.cfg.ConnectRetryDelay, "connect_failure")
}

// teardownLocked releases everything scoped to s and clears the session
// slot. The transport itself is left for the caller.
func (m *Manager) teardownLocked(s *Session) {
	s.unsubscribe()
	for sid, sink := range s.sinks {
		sink.Detach()
		delete(s.sinks, sid)
	}
	s.voiceEnabled = false
	s.transcript.Reset()
	m.session = nil
	metrics.SessionsActive.Dec()

	m.cfg.View.SetInputsEnabled(false)
	m.voice.SetVoiceEnabled(false)
	m.cfg.View.SetVoiceIndicatorState(m.voice.Reset())

	if tracer := s.tracer; tracer != nil {
		go func() {
			tracer.EndSession()
			tracer.Close()
		}()
	}
}

// armRetryLocked replaces any pending retry timer with a new one.
func (m *Manager) armRetryLocked(delay time.Duration, reason string) {
	m.stopRetryLocked()
	m.retryGen++
	gen := m.retryGen
	metrics.Reconnects.WithLabelValues(reason).Inc()
	m.log.Info("reconnect scheduled", "delay", delay, "reason", reason)
	m.retry = m.cfg.Scheduler.AfterFunc(delay, func() { m.fireRetry(gen) })
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	// Invalidates a timer that already fired but has not yet taken mu.
	m.retryGen++
}

func (m *Manager) fireRetry(gen uint64) {
	m.mu.Lock()
	if gen != m.retryGen || m.closed {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()
	_ = m.Connect(m.ctx)
}

func (m *Manager) setStateLocked(st State) {
	if m.state != st {
		m.log.Debug("state change", "from", m.state, "to", st)
	}
	m.state = st
	m.cfg.View.SetConnectionIndicator(st)
}

// handle dispatches one transport event. Events from a Session that is no
// longer current are dropped.
func (m *Manager) handle(s *Session, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		return
	}

	switch e := ev.(type) {
	case ConnectionStateChanged:
		m.log.Info("connection state", "state", e.State)
	case TrackSubscribed:
		m.onTrackSubscribed(s, e)
	case TrackUnsubscribed:
		if sink, ok := s.sinks[e.Track.SID()]; ok {
			sink.Detach()
			delete(s.sinks, e.Track.SID())
		}
	case LocalTrackPublished:
		m.log.Debug("local track published", "kind", e.Kind)
	case ParticipantConnected:
		m.log.Info("participant joined", "identity", e.Participant.Identity)
	case ParticipantDisconnected:
		m.log.Info("participant left", "identity", e.Participant.Identity)
	case AttributesChanged:
		if e.Participant.Identity == s.identity {
			return
		}
		if st := e.Participant.Attributes[voicestate.AttributeAgentState]; st != "" {
			m.log.Debug("agent state", "state", st)
			m.cfg.View.SetVoiceIndicatorState(m.voice.SetAgentState(st))
		}
	case Disconnected:
		m.onDisconnected(s, e)
	case DataReceived:
		m.onData(s, e)
	case TranscriptionReceived:
		m.onTranscription(s, e)
	case Reconnecting:
		m.log.Info("transport reconnecting")
		m.cfg.View.SetConnectionIndicator(StateReconnecting)
	case Reconnected:
		m.log.Info("transport reconnected")
		m.cfg.View.SetConnectionIndicator(m.state)
	case ActiveSpeakersChanged:
		speaking := slices.Contains(e.Identities, s.identity)
		m.cfg.View.SetVoiceIndicatorState(m.voice.SetUserSpeaking(speaking))
		if len(e.Identities) > 0 {
			m.log.Debug("active speakers", "identities", strings.Join(e.Identities, ", "))
		}
	}
}

func (m *Manager) onTrackSubscribed(s *Session, e TrackSubscribed) {
	m.log.Debug("track subscribed", "kind", e.Track.Kind(), "from", e.Participant.Identity)
	if e.Track.Kind() != TrackAudio {
		return
	}
	sink, err := e.Track.Attach()
	if err != nil {
		m.log.Warn("audio attach failed", "track", e.Track.SID(), "error", err)
		return
	}
	sink.SetMuted(!s.voiceEnabled)
	if old, ok := s.sinks[e.Track.SID()]; ok {
		old.Detach()
	}
	s.sinks[e.Track.SID()] = sink
	m.log.Info("audio attached", "from", e.Participant.Identity)
}

func (m *Manager) onDisconnected(s *Session, e Disconnected) {
	reason := e.Reason
	if reason == "" {
		reason = "unknown"
	}
	m.lastErr = fmt.Errorf("%w: %s", ErrUnsolicitedDisconnect, reason)
	m.log.Info("disconnected", "reason", reason, "session", s.id)
	m.teardownLocked(s)
	m.setStateLocked(StateReconnecting)
	m.armRetryLocked(m.cfg.DropRetryDelay, "drop")
}

func (m *Manager) onData(s *Session, e DataReceived) {
	from := e.Participant
	if from == "" {
		from = "server"
	}
	m.log.Debug("data received", "topic", e.Topic, "from", from, "bytes", len(e.Payload))

	switch e.Topic {
	case wire.TopicToolEvents:
		records, err := toolevents.Decode(e.Payload)
		if err != nil {
			m.dropMalformed(e.Topic, err)
			return
		}
		m.cfg.View.PlayToolCue()
		for _, rec := range records {
			m.cfg.View.RenderToolCard(rec)
			s.tracer.RecordToolCall(rec.Name, rec.Args, rec.Output, rec.IsError)
			status := "ok"
			if rec.IsError {
				status = "error"
			}
			metrics.ToolCalls.WithLabelValues(status).Inc()
		}
	case wire.TopicCostEvents:
		msg, err := cost.Decode(e.Payload)
		if err != nil {
			m.dropMalformed(e.Topic, err)
			return
		}
		u := s.costs.Apply(msg)
		m.cfg.View.UpdateCostDisplay(u.Session)
		s.tracer.RecordCost(string(u.Service), u.Cost, u.Session.Total)
		if u.Cost > 0 {
			metrics.CostDollars.WithLabelValues(string(u.Service)).Add(u.Cost)
		}
	case wire.TopicText:
		if e.Participant == s.identity {
			return
		}
		text := strings.TrimSpace(string(e.Payload))
		if text == "" {
			return
		}
		m.cfg.View.RenderCompletedMessage(transcript.RoleAgent, text)
		s.tracer.RecordMessage(string(transcript.RoleAgent), text)
	}
}

func (m *Manager) dropMalformed(topic string, err error) {
	metrics.DecodeErrors.WithLabelValues(topic).Inc()
	var de *wire.DecodeError
	if errors.As(err, &de) {
		m.log.Warn("dropping malformed event", "topic", topic, "reason", de.Reason, "error", err)
		return
	}
	m.log.Warn("dropping malformed event", "topic", topic, "error", err)
}

func (m *Manager) onTranscription(s *Session, e TranscriptionReceived) {
	isUser := e.Participant == s.identity
	for _, seg := range e.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		ins := s.transcript.Observe(seg.ID, seg.Text, seg.Final, isUser)
		metrics.TranscriptSegments.WithLabelValues(string(ins.Role), fmt.Sprint(seg.Final)).Inc()
		m.log.Debug("transcription", "role", ins.Role, "final", seg.Final, "kind", ins.Kind)

		switch ins.Kind {
		case transcript.KindCompleted:
			m.cfg.View.RenderCompletedMessage(ins.Role, ins.Text)
		case transcript.KindPending:
			m.cfg.View.RenderPendingMessage(ins.ID, ins.Role, ins.Text)
		case transcript.KindFinalize:
			m.cfg.View.FinalizePendingMessage(ins.ID, ins.Text)
		}
		if seg.Final {
			s.tracer.RecordMessage(string(ins.Role), ins.Text)
		}
	}
}
