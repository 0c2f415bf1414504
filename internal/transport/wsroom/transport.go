package wsroom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericvicenti/botical-voice/internal/session"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultJoinTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultPingInterval     = 15 * time.Second
	DefaultMaxMessageSize   = 4 * 1024 * 1024
	DefaultCloseGracePeriod = 2 * time.Second
)

// Config tunes a Transport. Zero values take the defaults above.
type Config struct {
	DialTimeout      time.Duration
	JoinTimeout      time.Duration
	WriteWait        time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	CloseGracePeriod time.Duration

	// AudioOut receives PCM from attached, unmuted remote audio tracks.
	// Nil discards audio.
	AudioOut io.Writer
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.AudioOut == nil {
		c.AudioOut = io.Discard
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var _ session.Transport = (*Transport)(nil)

// Transport is a one-shot room connection.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handler  func(session.Event)
	identity string
	remotes  map[string]session.Participant
	sinks    map[string]*sink
	used     bool
	closed   bool
	closeCh  chan struct{}

	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
}

// New creates an unconnected Transport.
func New(cfg Config) *Transport {
	cfg.defaults()
	return &Transport{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "wsroom"),
		remotes: make(map[string]session.Participant),
		sinks:   make(map[string]*sink),
		closeCh: make(chan struct{}),
	}
}

// Subscribe implements session.Transport.
func (t *Transport) Subscribe(handler func(session.Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.handler = nil
	}
}

func (t *Transport) emit(ev session.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Connect dials url with the bearer token and waits for the joined frame.
// On success the read loop and heartbeat run until Disconnect or a drop.
func (t *Transport) Connect(ctx context.Context, url, token string) error {
	t.mu.Lock()
	if t.used {
		t.mu.Unlock()
		return errors.New("wsroom: transport already used")
	}
	t.used = true
	t.mu.Unlock()

	t.emit(session.ConnectionStateChanged{State: "connecting"})

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(t.cfg.MaxMessageSize)

	joined, err := t.awaitJoin(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return errors.New("wsroom: disconnected during join")
	}
	t.conn = conn
	t.identity = joined.Identity
	for _, p := range joined.Participants {
		t.remotes[p.Identity] = toParticipant(p)
	}
	t.mu.Unlock()

	t.log.Info("joined room", "room", joined.Room, "identity", joined.Identity, "participants", len(joined.Participants))
	t.emit(session.ConnectionStateChanged{State: "connected"})

	go t.readLoop(conn)
	go t.heartbeatLoop(conn)
	return nil
}

func (t *Transport) awaitJoin(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	deadline := time.Now().Add(t.cfg.JoinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("await join: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f Frame
		if err = json.Unmarshal(data, &f); err != nil {
			return Frame{}, fmt.Errorf("await join: decode frame: %w", err)
		}
		switch f.Type {
		case FrameJoined:
			return f, nil
		case FrameLeave:
			return Frame{}, fmt.Errorf("await join: rejected: %s", f.Reason)
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.dropped(conn, err.Error())
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			t.routeAudio(data)
		case websocket.TextMessage:
			var f Frame
			if err = json.Unmarshal(data, &f); err != nil {
				t.log.Warn("bad frame", "error", err)
				continue
			}
			if f.Type == FrameLeave {
				t.dropped(conn, f.Reason)
				return
			}
			t.dispatch(f)
		}
	}
}

// dropped handles an unsolicited end of the connection. Nothing is emitted
// when Disconnect was called first.
func (t *Transport) dropped(conn *websocket.Conn, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	conn.Close()
	t.log.Info("connection dropped", "reason", reason)
	t.emit(session.ConnectionStateChanged{State: "disconnected"})
	t.emit(session.Disconnected{Reason: reason})
}

func (t *Transport) dispatch(f Frame) {
	switch f.Type {
	case FrameState:
		t.emit(session.ConnectionStateChanged{State: f.State})
	case FrameSignal:
		switch f.State {
		case SignalReconnecting:
			t.emit(session.Reconnecting{})
		case SignalReconnected:
			t.emit(session.Reconnected{})
		}
	case FrameParticipantConnected:
		if f.Participant == nil {
			return
		}
		p := toParticipant(*f.Participant)
		t.mu.Lock()
		t.remotes[p.Identity] = p
		t.mu.Unlock()
		t.emit(session.ParticipantConnected{Participant: p})
	case FrameParticipantDisconnected:
		if f.Participant == nil {
			return
		}
		p := toParticipant(*f.Participant)
		t.mu.Lock()
		delete(t.remotes, p.Identity)
		t.mu.Unlock()
		t.emit(session.ParticipantDisconnected{Participant: p})
	case FrameAttributesChanged:
		if f.Participant == nil {
			return
		}
		p := toParticipant(*f.Participant)
		t.mu.Lock()
		if _, ok := t.remotes[p.Identity]; ok {
			t.remotes[p.Identity] = p
		}
		t.mu.Unlock()
		t.emit(session.AttributesChanged{Participant: p})
	case FrameTrackSubscribed, FrameTrackUnsubscribed:
		if f.Track == nil {
			return
		}
		tr := &remoteTrack{t: t, sid: f.Track.SID, kind: session.TrackKind(f.Track.Kind)}
		var p session.Participant
		if f.Participant != nil {
			p = toParticipant(*f.Participant)
		}
		if f.Type == FrameTrackSubscribed {
			t.emit(session.TrackSubscribed{Track: tr, Participant: p})
			return
		}
		t.emit(session.TrackUnsubscribed{Track: tr, Participant: p})
	case FrameLocalTrackPublished:
		kind := session.TrackAudio
		if f.Track != nil {
			kind = session.TrackKind(f.Track.Kind)
		}
		t.emit(session.LocalTrackPublished{Kind: kind})
	case FrameData:
		from := ""
		if f.Participant != nil {
			from = f.Participant.Identity
		}
		t.emit(session.DataReceived{Topic: f.Topic, Participant: from, Payload: f.Payload})
	case FrameTranscription:
		from := ""
		if f.Participant != nil {
			from = f.Participant.Identity
		}
		segs := make([]session.Segment, 0, len(f.Segments))
		for _, s := range f.Segments {
			segs = append(segs, session.Segment{ID: s.ID, Text: s.Text, Final: s.Final})
		}
		t.emit(session.TranscriptionReceived{Participant: from, Segments: segs})
	case FrameActiveSpeakers:
		t.emit(session.ActiveSpeakersChanged{Identities: f.Speakers})
	default:
		t.log.Debug("ignoring frame", "type", f.Type)
	}
}

func (t *Transport) routeAudio(frame []byte) {
	sid, pcm, err := DecodeAudio(frame)
	if err != nil {
		t.log.Debug("bad audio frame", "error", err)
		return
	}
	t.mu.Lock()
	s := t.sinks[sid]
	t.mu.Unlock()
	if s == nil || s.muted.Load() {
		return
	}
	if _, err = t.cfg.AudioOut.Write(pcm); err != nil {
		t.log.Debug("audio write failed", "track", sid, "error", err)
	}
}

func (t *Transport) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				t.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (t *Transport) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}

	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if conn == nil || closed {
		return errors.New("wsroom: not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Disconnect closes the connection without emitting Disconnected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.CloseGracePeriod))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return conn.Close()
}

// LocalIdentity implements session.Transport.
func (t *Transport) LocalIdentity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// RemoteParticipants implements session.Transport.
func (t *Transport) RemoteParticipants() []session.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]session.Participant, 0, len(t.remotes))
	for _, p := range t.remotes {
		out = append(out, p)
	}
	return out
}

// SetMicrophoneEnabled implements session.Transport.
func (t *Transport) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	return t.send(Frame{Type: FrameSetMicrophone, Enabled: &enabled})
}

// SendText implements session.Transport.
func (t *Transport) SendText(_ context.Context, topic, text string) error {
	return t.send(Frame{Type: FrameData, Topic: topic, Payload: []byte(text)})
}

func toParticipant(p ParticipantInfo) session.Participant {
	return session.Participant{Identity: p.Identity, Attributes: p.Attributes}
}

type remoteTrack struct {
	t    *Transport
	sid  string
	kind session.TrackKind
}

func (r *remoteTrack) SID() string             { return r.sid }
func (r *remoteTrack) Kind() session.TrackKind { return r.kind }

func (r *remoteTrack) Attach() (session.AudioSink, error) {
	if r.kind != session.TrackAudio {
		return nil, fmt.Errorf("wsroom: cannot attach %s track", r.kind)
	}
	s := &sink{t: r.t, sid: r.sid}
	r.t.mu.Lock()
	r.t.sinks[r.sid] = s
	r.t.mu.Unlock()
	return s, nil
}

type sink struct {
	t     *Transport
	sid   string
	muted atomic.Bool
}

func (s *sink) SetMuted(muted bool) { s.muted.Store(muted) }

func (s *sink) Detach() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.sinks[s.sid] == s {
		delete(s.t.sinks, s.sid)
	}
}
