// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	internal_capture "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/capture"
	internal_callcontext "github.com/rapidaai/voicelink/api/voicelink-api/internal/callcontext"
	internal_playback "github.com/rapidaai/voicelink/api/voicelink-api/internal/playback"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	internal_transport "github.com/rapidaai/voicelink/api/voicelink-api/internal/transport"
	"github.com/rapidaai/voicelink/pkg/commons"
)

// ErrCaptureRunning is returned by StartCapture while a capture is active.
var ErrCaptureRunning = errors.New("bridge: capture already running")

// Status aggregates every component for the control API.
type Status struct {
	Connection   internal_transport.Status  `json:"connection"`
	CallState    internal_callcontext.State `json:"call_state"`
	Call         internal_callcontext.Call  `json:"call"`
	Playback     internal_playback.Stats    `json:"playback"`
	Capture      *internal_capture.Stats    `json:"capture,omitempty"`
	DroppedMedia int64                      `json:"dropped_media"`
	QueuedMedia  int64                      `json:"queued_media"`
}

// Bridge wires inbound frames from the transport session through the call
// machine into the playback queue, and outbound capture into the session.
//
// The bridge holds no lock while calling into a component, so the queue,
// session and machine locks are never held together.
type Bridge struct {
	logger     commons.Logger
	session    *internal_transport.Session
	queue      *internal_playback.Queue
	calls      *internal_callcontext.Machine
	captureCfg internal_capture.Config

	droppedMedia atomic.Int64
	queuedMedia  atomic.Int64

	mu            sync.Mutex
	pump          *internal_capture.Pump
	starting      bool
	stopRequested bool
}

// New builds the bridge and the transport session that feeds it. The queue
// and machine are owned by the caller until Close.
func New(
	logger commons.Logger,
	queue *internal_playback.Queue,
	calls *internal_callcontext.Machine,
	transportCfg internal_transport.Config,
	captureCfg internal_capture.Config,
	opts ...internal_transport.Option,
) *Bridge {
	b := &Bridge{
		logger:     logger,
		queue:      queue,
		calls:      calls,
		captureCfg: captureCfg,
	}
	opts = append(opts, internal_transport.WithHandler(b))
	b.session = internal_transport.NewSession(logger, transportCfg, opts...)
	return b
}

// Session exposes the underlying transport session.
func (b *Bridge) Session() *internal_transport.Session {
	return b.session
}

// HandleEnvelope routes one inbound frame.
func (b *Bridge) HandleEnvelope(ctx context.Context, env *internal_protocol.Envelope) {
	switch env.Kind() {
	case internal_protocol.KindMedia:
		b.handleMedia(ctx, env)
	case internal_protocol.KindStart:
		b.calls.Start(ctx, internal_callcontext.StartEvent{
			CallID:      env.CallID,
			ContactID:   env.ContactID,
			ContactName: env.ContactName,
		})
	case internal_protocol.KindStop:
		b.calls.Stop(ctx, internal_callcontext.StopEvent{
			CallID: env.CallID,
			Reason: env.Reason,
		})
	case internal_protocol.KindControl:
		b.logger.Debugw("control event", "event", env.Event, "message", env.Message)
	case internal_protocol.KindMark:
		if env.Mark != nil {
			b.logger.Debugw("mark received", "stream_sid", env.StreamSid, "name", env.Mark.Name)
		}
	}
}

func (b *Bridge) handleMedia(ctx context.Context, env *internal_protocol.Envelope) {
	if !b.calls.PlaybackAllowed() {
		n := b.droppedMedia.Add(1)
		b.logger.Debugf("media dropped, no active call (%d dropped)", n)
		return
	}
	track := env.Media.ResolveTrack()
	if err := b.queue.AddChunk(ctx, env.StreamSid, env.Media.Payload, track); err != nil {
		b.logger.Warnw("media not queued", "stream_sid", env.StreamSid, "track", track, "error", err.Error())
		return
	}
	b.queuedMedia.Add(1)
}

// =============================================================================
// Control surface
// =============================================================================

func (b *Bridge) Connect(ctx context.Context) error {
	return b.session.Connect(ctx)
}

// Disconnect stops capture and closes the connection normally.
func (b *Bridge) Disconnect() {
	b.StopCapture()
	b.session.Disconnect()
}

// NotifyUserGesture unlocks the output device.
func (b *Bridge) NotifyUserGesture(ctx context.Context) bool {
	return b.queue.NotifyUserGesture(ctx)
}

// StartCapture streams source to the vendor until StopCapture or until the
// source is exhausted. The returned channel closes when the capture ends.
// Only one capture runs at a time, including while one is still starting.
func (b *Bridge) StartCapture(ctx context.Context, source internal_capture.Source) (<-chan struct{}, error) {
	b.mu.Lock()
	if b.starting || (b.pump != nil && b.pump.Stats().Running) {
		b.mu.Unlock()
		return nil, ErrCaptureRunning
	}
	pump := internal_capture.NewPump(b.logger, b.session, source, b.captureCfg)
	b.pump = pump
	b.starting = true
	b.stopRequested = false
	b.mu.Unlock()

	err := pump.Start(ctx)

	b.mu.Lock()
	b.starting = false
	stop := b.stopRequested
	b.stopRequested = false
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	done := pump.Done()
	if stop {
		pump.Stop()
	}
	return done, nil
}

// StopCapture ends the running capture, if any. A capture that is still
// starting is stopped as soon as it is up.
func (b *Bridge) StopCapture() {
	b.mu.Lock()
	pump := b.pump
	if b.starting {
		b.stopRequested = true
		pump = nil
	}
	b.mu.Unlock()
	if pump != nil {
		pump.Stop()
	}
}

func (b *Bridge) Status() Status {
	s := Status{
		Connection:   b.session.Status(),
		CallState:    b.calls.State(),
		Call:         b.calls.Current(),
		Playback:     b.queue.Stats(),
		DroppedMedia: b.droppedMedia.Load(),
		QueuedMedia:  b.queuedMedia.Load(),
	}
	b.mu.Lock()
	pump := b.pump
	b.mu.Unlock()
	if pump != nil {
		stats := pump.Stats()
		s.Capture = &stats
	}
	return s
}

// Close stops capture and the connection, then releases the call machine
// and the playback queue.
func (b *Bridge) Close() error {
	b.Disconnect()
	b.calls.Close()
	return b.queue.Close()
}
