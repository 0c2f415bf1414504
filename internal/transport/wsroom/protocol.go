// Package wsroom implements session.Transport over a single WebSocket to a
// room bridge. Control and data travel as JSON text frames; remote audio
// arrives as binary frames tagged with the track SID.
package wsroom

import (
	"errors"
	"fmt"
)

// Frame types.
const (
	// server → client
	FrameJoined                  = "joined"
	FrameState                   = "state"
	FrameSignal                  = "signal"
	FrameParticipantConnected    = "participant_connected"
	FrameParticipantDisconnected = "participant_disconnected"
	FrameAttributesChanged       = "attributes_changed"
	FrameTrackSubscribed         = "track_subscribed"
	FrameTrackUnsubscribed       = "track_unsubscribed"
	FrameLocalTrackPublished     = "local_track_published"
	FrameTranscription           = "transcription"
	FrameActiveSpeakers          = "active_speakers"
	FrameLeave                   = "leave"

	// both directions
	FrameData = "data"

	// client → server
	FrameSetMicrophone = "set_microphone"
)

// Signal states carried by FrameSignal.
const (
	SignalReconnecting = "reconnecting"
	SignalReconnected  = "reconnected"
)

// ParticipantInfo describes a room member.
type ParticipantInfo struct {
	Identity   string            `json:"identity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TrackInfo describes a published track.
type TrackInfo struct {
	SID  string `json:"sid"`
	Kind string `json:"kind"`
}

// SegmentInfo is one transcription segment.
type SegmentInfo struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Frame is the JSON envelope for every text frame. Payload is base64 on
// the wire.
type Frame struct {
	Type string `json:"type"`

	Room         string            `json:"room,omitempty"`
	Identity     string            `json:"identity,omitempty"`
	Participants []ParticipantInfo `json:"participants,omitempty"`
	Participant  *ParticipantInfo  `json:"participant,omitempty"`
	Track        *TrackInfo        `json:"track,omitempty"`
	Segments     []SegmentInfo     `json:"segments,omitempty"`
	Speakers     []string          `json:"speakers,omitempty"`

	State   string `json:"state,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

var errShortAudioFrame = errors.New("wsroom: short audio frame")

// EncodeAudio builds a binary audio frame: one length byte, the track SID,
// then raw PCM.
func EncodeAudio(sid string, pcm []byte) ([]byte, error) {
	if len(sid) == 0 || len(sid) > 255 {
		return nil, fmt.Errorf("wsroom: track sid length %d out of range", len(sid))
	}
	out := make([]byte, 0, 1+len(sid)+len(pcm))
	out = append(out, byte(len(sid)))
	out = append(out, sid...)
	return append(out, pcm...), nil
}

// DecodeAudio splits a binary audio frame into SID and PCM.
func DecodeAudio(frame []byte) (string, []byte, error) {
	if len(frame) < 1 {
		return "", nil, errShortAudioFrame
	}
	n := int(frame[0])
	if n == 0 || len(frame) < 1+n {
		return "", nil, errShortAudioFrame
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}
