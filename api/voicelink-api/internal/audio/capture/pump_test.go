// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-capture"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	return logger
}

type sentFrame struct {
	streamSid string
	payload   string
	chunk     int64
	timestamp int64
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
	marks  []string
	fail   bool
}

func (s *fakeSender) SendAudio(streamSid, payload string, chunk, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("not connected")
	}
	s.frames = append(s.frames, sentFrame{streamSid, payload, chunk, timestamp})
	return nil
}

func (s *fakeSender) SendMark(streamSid, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, name)
	return nil
}

func (s *fakeSender) snapshot() ([]sentFrame, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.frames...), append([]string(nil), s.marks...)
}

// sliceSource hands out one buffer per Read, then io.EOF.
type sliceSource struct {
	mu      sync.Mutex
	buffers [][]float32
}

func (s *sliceSource) Read(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffers) == 0 {
		return nil, io.EOF
	}
	b := s.buffers[0]
	s.buffers = s.buffers[1:]
	return b, nil
}

// endlessSource never runs dry.
type endlessSource struct{}

func (endlessSource) Read(ctx context.Context) ([]float32, error) {
	return make([]float32, 80), nil
}

func testConfig() Config {
	return Config{Interval: 10 * time.Millisecond, SampleRate: 8000}
}

func TestPump_SendsEncodedFramesUntilSourceEnds(t *testing.T) {
	sender := &fakeSender{}
	source := &sliceSource{buffers: [][]float32{
		{0.5, -0.5},
		{},
		{0.25, 0.25, 0.25, 0.25},
	}}
	pump := NewPump(newTestLogger(t), sender, source, testConfig())

	require.NoError(t, pump.Start(context.Background()))
	select {
	case <-pump.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not finish")
	}

	frames, marks := sender.snapshot()
	require.Len(t, frames, 2, "empty reads are not sent")
	assert.Equal(t, internal_mulaw.EncodePayload([]float32{0.5, -0.5}), frames[0].payload)
	assert.Equal(t, int64(1), frames[0].chunk)
	assert.Equal(t, int64(0), frames[0].timestamp)
	assert.Equal(t, int64(2), frames[1].chunk)
	assert.Equal(t, frames[0].streamSid, frames[1].streamSid)
	assert.Equal(t, []string{internal_protocol.MarkRecordingStarted, internal_protocol.MarkRecordingStopped}, marks)

	stats := pump.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, frames[0].streamSid, stats.StreamSid)
}

func TestPump_DropsFramesWhenSenderFails(t *testing.T) {
	sender := &fakeSender{fail: true}
	pump := NewPump(newTestLogger(t), sender, endlessSource{}, testConfig())

	require.NoError(t, pump.Start(context.Background()))
	require.Eventually(t, func() bool { return pump.Stats().Dropped >= 3 }, 2*time.Second, 5*time.Millisecond)
	pump.Stop()

	frames, _ := sender.snapshot()
	assert.Empty(t, frames)
	assert.Equal(t, int64(0), pump.Stats().Sent)
}

func TestPump_StartTwice(t *testing.T) {
	pump := NewPump(newTestLogger(t), &fakeSender{}, endlessSource{}, testConfig())
	require.NoError(t, pump.Start(context.Background()))
	assert.ErrorIs(t, pump.Start(context.Background()), ErrAlreadyRunning)
	pump.Stop()

	// a stopped pump can open a new stream
	first := pump.Stats().StreamSid
	require.NoError(t, pump.Start(context.Background()))
	assert.NotEqual(t, first, pump.Stats().StreamSid)
	pump.Stop()
}

func TestPump_StopWithoutStart(t *testing.T) {
	pump := NewPump(newTestLogger(t), &fakeSender{}, endlessSource{}, testConfig())
	pump.Stop()
	select {
	case <-pump.Done():
	default:
		t.Fatal("done channel of an idle pump must be closed")
	}
}

func TestPump_TimestampsFollowSamples(t *testing.T) {
	sender := &fakeSender{}
	source := &sliceSource{buffers: [][]float32{make([]float32, 4000), make([]float32, 4000), make([]float32, 4000)}}
	pump := NewPump(newTestLogger(t), sender, source, testConfig())

	require.NoError(t, pump.Start(context.Background()))
	<-pump.Done()

	frames, _ := sender.snapshot()
	require.Len(t, frames, 3)
	assert.Equal(t, []int64{0, 500, 1000}, []int64{frames[0].timestamp, frames[1].timestamp, frames[2].timestamp})
}

func TestConfig_SamplesPerTick(t *testing.T) {
	assert.Equal(t, 4000, DefaultConfig().SamplesPerTick())
	assert.Equal(t, 160, Config{Interval: 20 * time.Millisecond, SampleRate: 8000}.SamplesPerTick())
}

func TestPCMReaderSource(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []int16{0, 16384, -16384, 32767, -32768} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	source := NewPCMReaderSource(&buf, 2)
	ctx := context.Background()

	got, err := source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5}, got)

	got, err = source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 32767.0 / 32768}, got)

	// trailing partial read
	got, err = source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1}, got)

	_, err = source.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPCMReaderSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPCMReaderSource(bytes.NewReader(make([]byte, 8)), 2).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
