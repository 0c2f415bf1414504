package session

import (
	"context"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Participant is a room member as reported by the transport.
type Participant struct {
	Identity   string
	Attributes map[string]string
}

// AudioSink plays one attached remote audio track.
type AudioSink interface {
	SetMuted(muted bool)
	Detach()
}

// RemoteTrack is a subscribed remote media track.
type RemoteTrack interface {
	SID() string
	Kind() TrackKind
	// Attach starts playback of the track and returns its sink.
	Attach() (AudioSink, error)
}

// Segment is one transcription update from the transport.
type Segment struct {
	ID    string
	Text  string
	Final bool
}

// Event is anything a Transport delivers to its subscriber.
type Event interface {
	isEvent()
}

type (
	// ConnectionStateChanged reports the transport's own connection state.
	ConnectionStateChanged struct{ State string }
	// TrackSubscribed reports a remote track now being received.
	TrackSubscribed struct {
		Track       RemoteTrack
		Participant Participant
	}
	// TrackUnsubscribed reports a remote track no longer being received.
	TrackUnsubscribed struct {
		Track       RemoteTrack
		Participant Participant
	}
	// LocalTrackPublished reports a local track going live.
	LocalTrackPublished struct{ Kind TrackKind }
	ParticipantConnected    struct{ Participant Participant }
	ParticipantDisconnected struct{ Participant Participant }
	// AttributesChanged carries the participant's full attribute set after
	// the change.
	AttributesChanged struct{ Participant Participant }
	// Disconnected reports that the transport is gone and will not recover
	// on its own.
	Disconnected struct{ Reason string }
	// DataReceived is one out-of-band payload. Participant is empty for
	// server-originated data.
	DataReceived struct {
		Topic       string
		Participant string
		Payload     []byte
	}
	TranscriptionReceived struct {
		Participant string
		Segments    []Segment
	}
	// Reconnecting and Reconnected bracket a brief signal loss the
	// transport recovers from by itself.
	Reconnecting          struct{}
	Reconnected           struct{}
	ActiveSpeakersChanged struct{ Identities []string }
)

func (ConnectionStateChanged) isEvent()  {}
func (TrackSubscribed) isEvent()         {}
func (TrackUnsubscribed) isEvent()       {}
func (LocalTrackPublished) isEvent()     {}
func (ParticipantConnected) isEvent()    {}
func (ParticipantDisconnected) isEvent() {}
func (AttributesChanged) isEvent()       {}
func (Disconnected) isEvent()            {}
func (DataReceived) isEvent()            {}
func (TranscriptionReceived) isEvent()   {}
func (Reconnecting) isEvent()            {}
func (Reconnected) isEvent()             {}
func (ActiveSpeakersChanged) isEvent()   {}

// Transport is the real-time media-routing client. A Transport is used for
// exactly one connection and then discarded.
type Transport interface {
	// Subscribe registers the single event handler and returns a function
	// that removes it. Events are delivered in emission order.
	Subscribe(handler func(Event)) (unsubscribe func())
	Connect(ctx context.Context, url, token string) error
	// Disconnect closes the connection without emitting Disconnected.
	Disconnect() error
	LocalIdentity() string
	RemoteParticipants() []Participant
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SendText(ctx context.Context, topic, text string) error
}
