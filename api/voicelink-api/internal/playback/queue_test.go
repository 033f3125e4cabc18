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
	"sync/atomic"
	"testing"
	"time"

	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-playback"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	return logger
}

// recordingDevice remembers the first decoded sample of every unit it plays.
type recordingDevice struct {
	FuncDevice

	mu      sync.Mutex
	played  []playedUnit
	resumes atomic.Int32
}

type playedUnit struct {
	track  internal_protocol.Track
	stream string
	first  float32
}

func newRecordingDevice() *recordingDevice {
	d := &recordingDevice{}
	d.ResumeFunc = func(ctx context.Context) error {
		d.resumes.Add(1)
		return nil
	}
	d.PlayFunc = func(ctx context.Context, unit Unit) error {
		d.record(unit)
		return nil
	}
	return d
}

func (d *recordingDevice) record(unit Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first float32
	if len(unit.Samples) > 0 {
		first = unit.Samples[0]
	}
	d.played = append(d.played, playedUnit{track: unit.Track, stream: unit.StreamID, first: first})
}

func (d *recordingDevice) snapshot() []playedUnit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]playedUnit(nil), d.played...)
}

func (d *recordingDevice) count() int {
	return len(d.snapshot())
}

// payload builds a one-sample chunk whose decoded value identifies it.
func payload(level float32) string {
	return internal_mulaw.EncodePayload([]float32{level})
}

func level(v float32) float32 {
	return internal_mulaw.Decode(internal_mulaw.Encode(v))
}

func newQueue(t *testing.T, device OutputDevice, cfg Config) *Queue {
	t.Helper()
	q := NewQueue(newTestLogger(t), device, cfg)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_PendingUntilGesture(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	q := newQueue(t, device, Config{RequireGesture: true})

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackVendor))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.2), internal_protocol.TrackVendor))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.3), internal_protocol.TrackVendor))

	assert.False(t, q.InitializeDevice(ctx), "device must wait for a gesture")
	assert.Equal(t, int32(0), device.resumes.Load())
	assert.Equal(t, 3, q.Stats().Pending)
	assert.Equal(t, 0, device.count())

	assert.True(t, q.NotifyUserGesture(ctx))
	require.Eventually(t, func() bool { return device.count() == 3 }, waitFor, tick)

	played := device.snapshot()
	assert.Equal(t, level(0.1), played[0].first)
	assert.Equal(t, level(0.2), played[1].first)
	assert.Equal(t, level(0.3), played[2].first)
	assert.Equal(t, 0, q.Stats().Pending)
}

func TestQueue_OrderAcrossFailedResumes(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	var ready atomic.Bool
	device.ResumeFunc = func(ctx context.Context) error {
		device.resumes.Add(1)
		if !ready.Load() {
			return errors.New("suspended")
		}
		return nil
	}
	q := newQueue(t, device, Config{})

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackClient))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.2), internal_protocol.TrackClient))
	assert.False(t, q.Running())
	assert.Equal(t, 2, q.Stats().Pending)

	ready.Store(true)
	// the next arrival retries initialization and drains in arrival order
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.3), internal_protocol.TrackClient))
	assert.True(t, q.Running())
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.4), internal_protocol.TrackClient))

	require.Eventually(t, func() bool { return device.count() == 4 }, waitFor, tick)
	played := device.snapshot()
	for i, v := range []float32{0.1, 0.2, 0.3, 0.4} {
		assert.Equal(t, level(v), played[i].first, "position %d", i)
	}
	assert.Equal(t, int32(3), device.resumes.Load())
}

func TestQueue_InitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	q := newQueue(t, device, Config{RequireGesture: true})

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.5), internal_protocol.TrackClient))
	require.NoError(t, q.AddChunk(ctx, "s2", payload(0.6), internal_protocol.TrackVendor))

	assert.True(t, q.NotifyUserGesture(ctx))
	for i := 0; i < 5; i++ {
		assert.True(t, q.InitializeDevice(ctx))
		assert.True(t, q.NotifyUserGesture(ctx))
	}

	require.Eventually(t, func() bool { return device.count() == 2 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, device.count(), "pending chunks must be drained exactly once")
	assert.Equal(t, int32(1), device.resumes.Load())
}

func TestQueue_TracksPlayIndependently(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	release := make(chan struct{})
	vendorStarted := make(chan struct{}, 1)
	device.PlayFunc = func(ctx context.Context, unit Unit) error {
		if unit.Track == internal_protocol.TrackVendor {
			select {
			case vendorStarted <- struct{}{}:
			default:
			}
			<-release
		}
		device.record(unit)
		return nil
	}
	q := newQueue(t, device, Config{})
	require.True(t, q.InitializeDevice(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, q.AddChunk(ctx, "v", payload(0.7), internal_protocol.TrackVendor))
	}
	<-vendorStarted
	require.NoError(t, q.AddChunk(ctx, "c", payload(-0.2), internal_protocol.TrackClient))

	require.Eventually(t, func() bool {
		for _, p := range device.snapshot() {
			if p.track == internal_protocol.TrackClient {
				return true
			}
		}
		return false
	}, waitFor, tick, "client audio must not wait behind the vendor burst")

	close(release)
	require.Eventually(t, func() bool { return device.count() == 6 }, waitFor, tick)
	stats := q.Stats()
	assert.Equal(t, 5, stats.Played[internal_protocol.TrackVendor])
	assert.Equal(t, 1, stats.Played[internal_protocol.TrackClient])
}

func TestQueue_ClearLetsInFlightUnitFinish(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var first atomic.Bool
	device.PlayFunc = func(ctx context.Context, unit Unit) error {
		if first.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-release
		}
		device.record(unit)
		return nil
	}
	q := newQueue(t, device, Config{})
	require.True(t, q.InitializeDevice(ctx))

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackVendor))
	<-started
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.2), internal_protocol.TrackVendor))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.3), internal_protocol.TrackVendor))
	assert.Equal(t, 2, q.Stats().Buffered[internal_protocol.TrackVendor])

	q.Clear()
	assert.Equal(t, 0, q.Stats().Buffered[internal_protocol.TrackVendor])
	close(release)

	require.Eventually(t, func() bool { return device.count() == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	played := device.snapshot()
	require.Len(t, played, 1)
	assert.Equal(t, level(0.1), played[0].first)
	assert.Equal(t, 2, q.Stats().Cleared)
}

func TestQueue_ClearDropsPending(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	q := newQueue(t, device, Config{RequireGesture: true})

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackClient))
	q.Clear()
	assert.True(t, q.NotifyUserGesture(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, device.count())
}

func TestQueue_SkipsBadChunks(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	var calls atomic.Int32
	device.PlayFunc = func(ctx context.Context, unit Unit) error {
		if calls.Add(1) == 1 {
			return errors.New("underrun")
		}
		device.record(unit)
		return nil
	}
	q := newQueue(t, device, Config{})
	require.True(t, q.InitializeDevice(ctx))

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackClient))
	require.NoError(t, q.AddChunk(ctx, "s1", "%%% not base64", internal_protocol.TrackClient))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.3), internal_protocol.TrackClient))

	require.Eventually(t, func() bool { return device.count() == 1 }, waitFor, tick)
	assert.Equal(t, level(0.3), device.snapshot()[0].first)
	require.Eventually(t, func() bool { return q.Stats().Skipped == 2 }, waitFor, tick)
}

func TestQueue_LaneBufferOverflow(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var first atomic.Bool
	device.PlayFunc = func(ctx context.Context, unit Unit) error {
		if first.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-release
		}
		device.record(unit)
		return nil
	}
	q := newQueue(t, device, Config{LaneBuffer: 1})
	require.True(t, q.InitializeDevice(ctx))

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackClient))
	<-started
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.2), internal_protocol.TrackClient))
	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.3), internal_protocol.TrackClient))
	assert.Equal(t, 1, q.Stats().Overflowed)

	close(release)
	require.Eventually(t, func() bool { return device.count() == 2 }, waitFor, tick)
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	var closed atomic.Bool
	device.CloseFunc = func() error {
		closed.Store(true)
		return nil
	}
	q := NewQueue(newTestLogger(t), device, Config{})

	require.NoError(t, q.Close())
	assert.True(t, closed.Load())
	assert.ErrorIs(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.TrackClient), ErrQueueClosed)
	assert.False(t, q.InitializeDevice(ctx))
	require.NoError(t, q.Close())
}

func TestQueue_UnknownTrackIsClient(t *testing.T) {
	ctx := context.Background()
	device := newRecordingDevice()
	q := newQueue(t, device, Config{})
	require.True(t, q.InitializeDevice(ctx))

	require.NoError(t, q.AddChunk(ctx, "s1", payload(0.1), internal_protocol.Track("inbound")))
	require.Eventually(t, func() bool { return device.count() == 1 }, waitFor, tick)
	assert.Equal(t, internal_protocol.TrackClient, device.snapshot()[0].track)
}

func TestMeterDevice(t *testing.T) {
	ctx := context.Background()
	device := NewMeterDevice(newTestLogger(t), false)

	unit := Unit{Track: internal_protocol.TrackVendor, StreamID: "s", Samples: []float32{0.5, -0.5}, SampleRate: 8000}
	assert.ErrorIs(t, device.Play(ctx, unit), ErrDeviceUnavailable)

	require.NoError(t, device.Resume(ctx))
	assert.True(t, device.Running())
	require.NoError(t, device.Play(ctx, unit))

	snap := device.Snapshot()
	assert.Equal(t, 1, snap[internal_protocol.TrackVendor].Units)
	assert.Equal(t, 2, snap[internal_protocol.TrackVendor].Samples)
	assert.InDelta(t, 0.5, snap[internal_protocol.TrackVendor].Level, 1e-6)

	require.NoError(t, device.Close())
	assert.ErrorIs(t, device.Resume(ctx), ErrDeviceUnavailable)
}

func TestUnitDuration(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, Unit{Samples: make([]float32, 160), SampleRate: 8000}.Duration())
	assert.Equal(t, time.Duration(0), Unit{Samples: make([]float32, 160)}.Duration())
}
