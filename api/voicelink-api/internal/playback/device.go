// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/rapidaai/voicelink/pkg/utils"
)

var (
	// ErrDeviceUnavailable is returned when the output device cannot be
	// acquired or has been closed.
	ErrDeviceUnavailable = errors.New("playback: output device unavailable")

	// ErrGestureRequired is returned while the device waits for the first
	// user gesture.
	ErrGestureRequired = errors.New("playback: user gesture required")

	// ErrQueueClosed is returned by AddChunk after Close.
	ErrQueueClosed = errors.New("playback: queue closed")
)

// DeviceError wraps a failure reported by the output device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("playback: device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// CodecError wraps a chunk that could not be decoded.
type CodecError struct {
	StreamID string
	Track    internal_protocol.Track
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("playback: decode %s/%s: %v", e.Track, e.StreamID, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Unit is one decoded chunk handed to the device as a single-shot playback.
type Unit struct {
	Track      internal_protocol.Track
	StreamID   string
	Samples    []float32
	SampleRate int
}

// Duration is the wall-clock length of the unit.
func (u Unit) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// OutputDevice is the audio sink owned by the Queue.
//
// Resume may fail until the platform allows output; Play schedules one unit
// and returns once the unit has been handed off or finished. A unit that was
// started is never interrupted.
type OutputDevice interface {
	Resume(ctx context.Context) error
	Running() bool
	Play(ctx context.Context, unit Unit) error
	Close() error
}

// =============================================================================
// MeterDevice
// =============================================================================

// MeterDevice is a headless sink. It records per-track levels instead of
// producing sound, and can pace itself to real time so callers observe the
// same back-pressure a hardware clock gives.
type MeterDevice struct {
	logger commons.Logger
	paced  bool

	mu      sync.Mutex
	running bool
	closed  bool
	units   map[internal_protocol.Track]int
	samples map[internal_protocol.Track]int
	level   map[internal_protocol.Track]float32
}

// NewMeterDevice builds a MeterDevice. When paced is set, Play blocks for the
// duration of the unit.
func NewMeterDevice(logger commons.Logger, paced bool) *MeterDevice {
	return &MeterDevice{
		logger:  logger,
		paced:   paced,
		units:   make(map[internal_protocol.Track]int),
		samples: make(map[internal_protocol.Track]int),
		level:   make(map[internal_protocol.Track]float32),
	}
}

func (d *MeterDevice) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceUnavailable
	}
	d.running = true
	return nil
}

func (d *MeterDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *MeterDevice) Play(ctx context.Context, unit Unit) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDeviceUnavailable
	}
	rms := utils.RMSFloat32(unit.Samples)
	d.units[unit.Track]++
	d.samples[unit.Track] += len(unit.Samples)
	d.level[unit.Track] = rms
	d.mu.Unlock()

	d.logger.Debugw("playback unit",
		"track", unit.Track,
		"stream_id", unit.StreamID,
		"samples", len(unit.Samples),
		"rms", rms,
		"dc", utils.AverageFloat32(unit.Samples),
	)

	if d.paced {
		timer := time.NewTimer(unit.Duration())
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return nil
}

func (d *MeterDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.closed = true
	return nil
}

// MeterSnapshot is the per-track tally kept by a MeterDevice.
type MeterSnapshot struct {
	Units   int     `json:"units"`
	Samples int     `json:"samples"`
	Level   float32 `json:"level"`
}

// Snapshot returns the tally for every track that has played audio.
func (d *MeterDevice) Snapshot() map[internal_protocol.Track]MeterSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[internal_protocol.Track]MeterSnapshot, len(d.units))
	for track, n := range d.units {
		out[track] = MeterSnapshot{Units: n, Samples: d.samples[track], Level: d.level[track]}
	}
	return out
}

// =============================================================================
// FuncDevice
// =============================================================================

// FuncDevice adapts plain functions to OutputDevice. Nil functions succeed.
type FuncDevice struct {
	ResumeFunc func(ctx context.Context) error
	PlayFunc   func(ctx context.Context, unit Unit) error
	CloseFunc  func() error

	mu      sync.Mutex
	running bool
}

func (d *FuncDevice) Resume(ctx context.Context) error {
	if d.ResumeFunc != nil {
		if err := d.ResumeFunc(ctx); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return nil
}

func (d *FuncDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *FuncDevice) Play(ctx context.Context, unit Unit) error {
	if d.PlayFunc == nil {
		return nil
	}
	return d.PlayFunc(ctx, unit)
}

func (d *FuncDevice) Close() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	if d.CloseFunc != nil {
		return d.CloseFunc()
	}
	return nil
}
