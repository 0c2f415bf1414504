package wsroom

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericvicenti/botical-voice/internal/session"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// roomServer runs script against each accepted connection after sending
// the joined frame. Frames the client sends are pushed to received.
type roomServer struct {
	*httptest.Server
	received chan Frame
}

func newRoomServer(t *testing.T, script func(conn *websocket.Conn)) *roomServer {
	t.Helper()
	rs := &roomServer{received: make(chan Frame, 16)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(Frame{
			Type:         FrameJoined,
			Room:         "botical-room",
			Identity:     "user-abc123",
			Participants: []ParticipantInfo{{Identity: "agent-1"}},
		})

		go func() {
			for {
				var f Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				rs.received <- f
			}
		}()
		script(conn)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *roomServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

type eventLog struct {
	ch chan session.Event
}

func subscribe(tr *Transport) *eventLog {
	l := &eventLog{ch: make(chan session.Event, 32)}
	tr.Subscribe(func(ev session.Event) { l.ch <- ev })
	return l
}

// next returns the next event that is not a connection-state change.
func (l *eventLog) next(t *testing.T) session.Event {
	t.Helper()
	for {
		select {
		case ev := <-l.ch:
			if _, ok := ev.(session.ConnectionStateChanged); ok {
				continue
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestConnectJoinsRoom(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := newRoomServer(t, func(*websocket.Conn) { <-hold })

	tr := New(Config{})
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))
	defer tr.Disconnect()

	assert.Equal(t, "user-abc123", tr.LocalIdentity())
	assert.Equal(t, []session.Participant{{Identity: "agent-1"}}, tr.RemoteParticipants())
}

func TestConnectRejected(t *testing.T) {
	srv := newRoomServer(t, func(*websocket.Conn) {})

	err := New(Config{}).Connect(context.Background(), srv.wsURL(), "bad-token")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTransportIsOneShot(t *testing.T) {
	srv := newRoomServer(t, func(*websocket.Conn) {})
	tr := New(Config{})
	tr.Connect(context.Background(), srv.wsURL(), "bad-token")

	err := tr.Connect(context.Background(), srv.wsURL(), "good-token")

	assert.ErrorContains(t, err, "already used")
}

func TestEventsArriveInOrder(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := newRoomServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: FrameParticipantConnected, Participant: &ParticipantInfo{Identity: "agent-2"}})
		conn.WriteJSON(Frame{Type: FrameAttributesChanged, Participant: &ParticipantInfo{
			Identity: "agent-2", Attributes: map[string]string{"lk.agent.state": "thinking"},
		}})
		conn.WriteJSON(Frame{Type: FrameData, Topic: "tool-events", Participant: &ParticipantInfo{Identity: "agent-2"}, Payload: []byte(`{"type":"tool_calls","tools":[]}`)})
		conn.WriteJSON(Frame{Type: FrameTranscription, Participant: &ParticipantInfo{Identity: "agent-2"}, Segments: []SegmentInfo{{ID: "s1", Text: "hi", Final: true}}})
		conn.WriteJSON(Frame{Type: FrameSignal, State: SignalReconnecting})
		conn.WriteJSON(Frame{Type: FrameSignal, State: SignalReconnected})
		conn.WriteJSON(Frame{Type: FrameActiveSpeakers, Speakers: []string{"user-abc123"}})
		<-hold
	})

	tr := New(Config{})
	log := subscribe(tr)
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))
	defer tr.Disconnect()

	assert.Equal(t, session.ParticipantConnected{Participant: session.Participant{Identity: "agent-2"}}, log.next(t))
	attrs := log.next(t).(session.AttributesChanged)
	assert.Equal(t, "thinking", attrs.Participant.Attributes["lk.agent.state"])
	assert.Equal(t, session.DataReceived{Topic: "tool-events", Participant: "agent-2", Payload: []byte(`{"type":"tool_calls","tools":[]}`)}, log.next(t))
	assert.Equal(t, session.TranscriptionReceived{Participant: "agent-2", Segments: []session.Segment{{ID: "s1", Text: "hi", Final: true}}}, log.next(t))
	assert.Equal(t, session.Reconnecting{}, log.next(t))
	assert.Equal(t, session.Reconnected{}, log.next(t))
	assert.Equal(t, session.ActiveSpeakersChanged{Identities: []string{"user-abc123"}}, log.next(t))
	assert.Len(t, tr.RemoteParticipants(), 2)
}

func TestServerCloseEmitsDisconnected(t *testing.T) {
	srv := newRoomServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: FrameLeave, Reason: "room deleted"})
	})

	tr := New(Config{})
	log := subscribe(tr)
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))

	assert.Equal(t, session.Disconnected{Reason: "room deleted"}, log.next(t))
	assert.Error(t, tr.SendText(context.Background(), "text", "anyone?"))
}

func TestDisconnectIsSilent(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := newRoomServer(t, func(*websocket.Conn) { <-hold })

	tr := New(Config{})
	log := subscribe(tr)
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())

	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-log.ch:
			if _, ok := ev.(session.Disconnected); ok {
				t.Fatalf("unexpected %T after Disconnect", ev)
			}
		case <-timeout:
			return
		}
	}
}

func TestOutboundFrames(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := newRoomServer(t, func(*websocket.Conn) { <-hold })

	tr := New(Config{})
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))
	defer tr.Disconnect()

	require.NoError(t, tr.SetMicrophoneEnabled(context.Background(), true))
	require.NoError(t, tr.SendText(context.Background(), "text", "hello"))

	mic := <-srv.received
	assert.Equal(t, FrameSetMicrophone, mic.Type)
	require.NotNil(t, mic.Enabled)
	assert.True(t, *mic.Enabled)

	text := <-srv.received
	assert.Equal(t, FrameData, text.Type)
	assert.Equal(t, "text", text.Topic)
	assert.Equal(t, []byte("hello"), text.Payload)
}

func TestAudioRoutedToUnmutedSinks(t *testing.T) {
	proceed := make(chan struct{})
	hold := make(chan struct{})
	defer close(hold)
	srv := newRoomServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: FrameTrackSubscribed, Track: &TrackInfo{SID: "TR_a", Kind: "audio"}, Participant: &ParticipantInfo{Identity: "agent-1"}})
		<-proceed
		muted, _ := EncodeAudio("TR_a", []byte{1, 2})
		conn.WriteMessage(websocket.BinaryMessage, muted)
		conn.WriteJSON(Frame{Type: FrameState, State: "marker"})
		<-proceed
		live, _ := EncodeAudio("TR_a", []byte{3, 4})
		conn.WriteMessage(websocket.BinaryMessage, live)
		conn.WriteJSON(Frame{Type: FrameState, State: "marker"})
		<-hold
	})

	out := &syncBuffer{}
	tr := New(Config{AudioOut: out})
	events := make(chan session.Event, 8)
	tr.Subscribe(func(ev session.Event) { events <- ev })
	require.NoError(t, tr.Connect(context.Background(), srv.wsURL(), "good-token"))
	defer tr.Disconnect()

	var sink session.AudioSink
	for sink == nil {
		if sub, ok := (<-events).(session.TrackSubscribed); ok {
			var err error
			sink, err = sub.Track.Attach()
			require.NoError(t, err)
		}
	}
	sink.SetMuted(true)
	proceed <- struct{}{}
	awaitMarker(t, events)
	assert.Empty(t, out.Bytes())

	sink.SetMuted(false)
	proceed <- struct{}{}
	awaitMarker(t, events)
	assert.Equal(t, []byte{3, 4}, out.Bytes())
}

func awaitMarker(t *testing.T, events chan session.Event) {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if st, ok := ev.(session.ConnectionStateChanged); ok && st.State == "marker" {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for marker")
		}
	}
}

func TestAudioFrameCodec(t *testing.T) {
	frame, err := EncodeAudio("TR_x", []byte{9, 8, 7})
	require.NoError(t, err)

	sid, pcm, err := DecodeAudio(frame)
	require.NoError(t, err)
	assert.Equal(t, "TR_x", sid)
	assert.Equal(t, []byte{9, 8, 7}, pcm)

	_, _, err = DecodeAudio([]byte{5, 'a'})
	assert.Error(t, err)
	_, err = EncodeAudio("", nil)
	assert.Error(t, err)
}

func TestFrameJSONShape(t *testing.T) {
	data, err := json.Marshal(Frame{Type: FrameData, Topic: "text", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"data","topic":"text","payload":"aGk="}`, string(data))
}
