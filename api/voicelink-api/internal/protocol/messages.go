// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Event names
// =============================================================================

const (
	EventMedia                = "media"
	EventStart                = "start"
	EventStop                 = "stop"
	EventMark                 = "mark"
	EventPing                 = "ping"
	EventPong                 = "pong"
	EventHandleCommunications = "handle_communications"
)

// Mark names placed on the outbound audio timeline.
const (
	MarkRecordingStarted = "recording_started"
	MarkRecordingStopped = "recording_stopped"
)

// SourceVendor marks media produced by the remote vendor system.
const SourceVendor = "vendor"

// Kind classifies an inbound envelope for dispatch.
type Kind int

const (
	KindUnknown Kind = iota
	KindMedia
	KindStart
	KindStop
	KindControl
	KindMark
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindControl:
		return "control"
	case KindMark:
		return "mark"
	default:
		return "unknown"
	}
}

// Track tags which participant an audio chunk belongs to.
type Track string

const (
	TrackClient Track = "client"
	TrackVendor Track = "vendor"
)

var (
	// ErrMalformedFrame is returned for frames that are not valid JSON or
	// lack fields their event requires.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMissingEvent is returned for JSON objects without an event name.
	ErrMissingEvent = errors.New("protocol: missing event")
)

// =============================================================================
// Envelope
// =============================================================================

// Envelope is the single JSON shape every control-plane message uses. Only the
// fields relevant to Event are populated.
type Envelope struct {
	Event          string        `json:"event"`
	SequenceNumber Number        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	CallID         string        `json:"callId,omitempty"`
	ContactID      string        `json:"contactId,omitempty"`
	ContactName    string        `json:"contactName,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// MediaPayload carries one base64 mu-law chunk.
type MediaPayload struct {
	Payload   string `json:"payload"`
	Track     string `json:"track,omitempty"`
	Chunk     Number `json:"chunk,omitempty"`
	Timestamp Number `json:"timestamp,omitempty"`
	Source    string `json:"source,omitempty"`
}

// MarkPayload names a point on the audio timeline.
type MarkPayload struct {
	Name string `json:"name"`
}

// ResolveTrack maps the media source onto a Track. Anything not explicitly
// tagged as vendor audio is client audio.
func (m *MediaPayload) ResolveTrack() Track {
	if m == nil {
		return TrackClient
	}
	if strings.EqualFold(m.Source, SourceVendor) || strings.EqualFold(m.Track, SourceVendor) {
		return TrackVendor
	}
	return TrackClient
}

// Kind classifies the envelope by its event name.
func (e *Envelope) Kind() Kind {
	switch e.Event {
	case EventMedia:
		return KindMedia
	case EventStart:
		return KindStart
	case EventStop:
		return KindStop
	case EventPing, EventPong, EventHandleCommunications:
		return KindControl
	case EventMark:
		return KindMark
	default:
		return KindUnknown
	}
}

// Parse decodes one inbound frame. Unknown event names are not an error.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(env.Event) == "" {
		return nil, ErrMissingEvent
	}
	if env.Kind() == KindMedia && (env.Media == nil || env.Media.Payload == "") {
		return nil, fmt.Errorf("%w: media event without payload", ErrMalformedFrame)
	}
	return &env, nil
}

// Marshal encodes an envelope for the wire.
func Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// =============================================================================
// Builders
// =============================================================================

// NewMedia builds an outbound media frame.
func NewMedia(streamSid string, seq int64, payload string, track Track, chunk int64, timestamp int64) *Envelope {
	return &Envelope{
		Event:          EventMedia,
		SequenceNumber: Number(seq),
		StreamSid:      streamSid,
		Media: &MediaPayload{
			Payload:   payload,
			Track:     string(track),
			Chunk:     Number(chunk),
			Timestamp: Number(timestamp),
		},
	}
}

// NewMark builds an outbound mark frame.
func NewMark(streamSid string, seq int64, name string) *Envelope {
	return &Envelope{
		Event:          EventMark,
		SequenceNumber: Number(seq),
		StreamSid:      streamSid,
		Mark:           &MarkPayload{Name: name},
	}
}

// NewControl builds a control frame such as handle_communications.
func NewControl(event, message string) *Envelope {
	return &Envelope{Event: event, Message: message}
}

// NewPing builds the heartbeat keep-alive.
func NewPing() *Envelope {
	return NewControl(EventPing, "keepalive")
}

// =============================================================================
// Number
// =============================================================================

// Number is an integer that vendors send either as a JSON number or as a
// quoted decimal string. It is always written back as a number.
type Number int64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*n = Number(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) Int64() int64 {
	return int64(n)
}
