// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_playback

import (
	"context"
	"errors"
	"sync"
	"time"

	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
)

// Config controls device gating and lane limits.
type Config struct {
	// RequireGesture keeps the device suspended until NotifyUserGesture.
	RequireGesture bool `mapstructure:"require_gesture"`

	// LaneBuffer caps the chunks buffered per track. Zero means unbounded.
	LaneBuffer int `mapstructure:"lane_buffer" validate:"gte=0"`
}

// DefaultConfig gates playback on a user gesture with unbounded lanes.
func DefaultConfig() Config {
	return Config{RequireGesture: true}
}

// Chunk is one inbound audio payload waiting to be played.
type Chunk struct {
	StreamID  string
	Payload   string
	Track     internal_protocol.Track
	ArrivedAt time.Time
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Running    bool                            `json:"running"`
	Gestured   bool                            `json:"gestured"`
	Pending    int                             `json:"pending"`
	Buffered   map[internal_protocol.Track]int `json:"buffered"`
	Played     map[internal_protocol.Track]int `json:"played"`
	Skipped    int                             `json:"skipped"`
	Overflowed int                             `json:"overflowed"`
	Cleared    int                             `json:"cleared"`
}

// lane is the per-track buffer. Chunks are grouped by stream, and order
// records which stream each arrival belongs to so that the dispatcher replays
// arrivals exactly as they came in.
type lane struct {
	track   internal_protocol.Track
	streams map[string][]Chunk
	order   []string
	wake    chan struct{}
	played  int
}

func newLane(track internal_protocol.Track) *lane {
	return &lane{
		track:   track,
		streams: make(map[string][]Chunk),
		wake:    make(chan struct{}, 1),
	}
}

func (l *lane) size() int {
	return len(l.order)
}

func (l *lane) push(c Chunk) {
	l.streams[c.StreamID] = append(l.streams[c.StreamID], c)
	l.order = append(l.order, c.StreamID)
}

func (l *lane) pop() (Chunk, bool) {
	if len(l.order) == 0 {
		return Chunk{}, false
	}
	id := l.order[0]
	l.order = l.order[1:]
	buf := l.streams[id]
	c := buf[0]
	if len(buf) == 1 {
		delete(l.streams, id)
	} else {
		l.streams[id] = buf[1:]
	}
	return c, true
}

func (l *lane) reset() int {
	n := len(l.order)
	l.streams = make(map[string][]Chunk)
	l.order = nil
	return n
}

func (l *lane) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Queue schedules inbound audio onto the output device. Each track has its
// own lane and dispatcher, so a burst on one track never delays the other.
// Chunks that arrive before the device runs wait in a single FIFO that is
// drained exactly once when the device comes up.
type Queue struct {
	logger commons.Logger
	device OutputDevice
	cfg    Config
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	gestured     bool
	running      bool
	initializing bool
	closed       bool
	pending      []Chunk
	lanes        map[internal_protocol.Track]*lane
	skipped      int
	overflowed   int
	cleared      int
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock overrides the arrival clock.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue starts one dispatcher per track. Close releases them and the device.
func NewQueue(logger commons.Logger, device OutputDevice, cfg Config, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: logger,
		device: device,
		cfg:    cfg,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		lanes: map[internal_protocol.Track]*lane{
			internal_protocol.TrackClient: newLane(internal_protocol.TrackClient),
			internal_protocol.TrackVendor: newLane(internal_protocol.TrackVendor),
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	for _, l := range q.lanes {
		q.wg.Add(1)
		go q.dispatch(l)
	}
	return q
}

// AddChunk queues payload for playback on track. While the device is not
// running the chunk is parked in the pending FIFO and device initialization
// is retried.
func (q *Queue) AddChunk(ctx context.Context, streamID, payload string, track internal_protocol.Track) error {
	c := Chunk{StreamID: streamID, Payload: payload, Track: normalizeTrack(track), ArrivedAt: q.now()}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.running {
		q.enqueueLocked(c)
		q.mu.Unlock()
		return nil
	}
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	q.logger.Debugf("playback device not running, parked chunk for %s/%s", c.Track, streamID)
	q.InitializeDevice(ctx)
	return nil
}

// InitializeDevice resumes the output device if allowed. It reports whether
// the device is running. Calling it again once running is a no-op.
func (q *Queue) InitializeDevice(ctx context.Context) bool {
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return false
	case q.running:
		q.mu.Unlock()
		return true
	case q.cfg.RequireGesture && !q.gestured:
		q.mu.Unlock()
		return false
	case q.initializing:
		q.mu.Unlock()
		return false
	}
	q.initializing = true
	q.mu.Unlock()

	err := q.device.Resume(ctx)
	running := err == nil && q.device.Running()

	q.mu.Lock()
	q.initializing = false
	if !running || q.closed {
		pending := len(q.pending)
		q.mu.Unlock()
		if err == nil {
			err = ErrDeviceUnavailable
		}
		q.logger.Warnw("playback device not ready",
			"error", (&DeviceError{Op: "resume", Err: err}).Error(),
			"pending", pending,
		)
		return false
	}
	q.running = true
	drained := q.pending
	q.pending = nil
	for _, c := range drained {
		q.enqueueLocked(c)
	}
	q.mu.Unlock()

	q.logger.Infow("playback device running", "drained", len(drained))
	return true
}

// NotifyUserGesture records that the user interacted and tries to bring the
// device up.
func (q *Queue) NotifyUserGesture(ctx context.Context) bool {
	q.mu.Lock()
	q.gestured = true
	q.mu.Unlock()
	return q.InitializeDevice(ctx)
}

// Clear drops everything pending or buffered on every track. A unit already
// handed to the device plays to completion.
func (q *Queue) Clear() {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	for _, l := range q.lanes {
		n += l.reset()
	}
	q.cleared += n
	q.mu.Unlock()

	if n > 0 {
		q.logger.Debugf("playback cleared %d queued chunks", n)
	}
}

// Running reports whether the device has been confirmed running.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Running:    q.running,
		Gestured:   q.gestured,
		Pending:    len(q.pending),
		Buffered:   make(map[internal_protocol.Track]int, len(q.lanes)),
		Played:     make(map[internal_protocol.Track]int, len(q.lanes)),
		Skipped:    q.skipped,
		Overflowed: q.overflowed,
		Cleared:    q.cleared,
	}
	for track, l := range q.lanes {
		s.Buffered[track] = l.size()
		s.Played[track] = l.played
	}
	return s
}

// Close stops the dispatchers, waits for in-flight units and closes the
// device. Queued chunks are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.running = false
	q.pending = nil
	for _, l := range q.lanes {
		l.reset()
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return q.device.Close()
}

// enqueueLocked must be called with q.mu held.
func (q *Queue) enqueueLocked(c Chunk) {
	l := q.lanes[c.Track]
	if q.cfg.LaneBuffer > 0 && l.size() >= q.cfg.LaneBuffer {
		q.overflowed++
		q.logger.Warnw("playback lane full, dropping chunk", "track", c.Track, "stream_id", c.StreamID)
		return
	}
	l.push(c)
	l.notify()
}

func (q *Queue) next(l *lane) (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return l.pop()
}

func (q *Queue) dispatch(l *lane) {
	defer q.wg.Done()
	for {
		c, ok := q.next(l)
		if !ok {
			select {
			case <-q.ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		q.play(l, c)
	}
}

// play decodes and hands one chunk to the device. Failures skip the chunk.
func (q *Queue) play(l *lane, c Chunk) {
	samples, err := internal_mulaw.DecodePayload(c.Payload)
	if err != nil {
		q.skip(&CodecError{StreamID: c.StreamID, Track: c.Track, Err: err})
		return
	}
	unit := Unit{
		Track:      c.Track,
		StreamID:   c.StreamID,
		Samples:    samples,
		SampleRate: internal_mulaw.SampleRate,
	}
	// started units are not interrupted by Close
	if err := q.device.Play(context.WithoutCancel(q.ctx), unit); err != nil {
		q.skip(&DeviceError{Op: "play", Err: err})
		return
	}
	q.mu.Lock()
	l.played++
	q.mu.Unlock()
}

func (q *Queue) skip(err error) {
	q.mu.Lock()
	q.skipped++
	q.mu.Unlock()

	var codecErr *CodecError
	if errors.As(err, &codecErr) {
		q.logger.Warnw("skipping undecodable chunk", "track", codecErr.Track, "stream_id", codecErr.StreamID, "error", err.Error())
		return
	}
	q.logger.Warnw("skipping chunk after device error", "error", err.Error())
}

func normalizeTrack(t internal_protocol.Track) internal_protocol.Track {
	if t == internal_protocol.TrackVendor {
		return internal_protocol.TrackVendor
	}
	return internal_protocol.TrackClient
}
