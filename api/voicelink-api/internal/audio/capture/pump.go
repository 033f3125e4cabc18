// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
)

// ErrAlreadyRunning is returned by Start on a running pump.
var ErrAlreadyRunning = errors.New("capture: pump already running")

// Sender is the outbound half of the transport session.
type Sender interface {
	SendAudio(streamSid, payload string, chunk, timestamp int64) error
	SendMark(streamSid, name string) error
}

// Config sets the capture tick.
type Config struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	SampleRate int           `mapstructure:"sample_rate" validate:"eq=8000"`
}

func DefaultConfig() Config {
	return Config{Interval: 500 * time.Millisecond, SampleRate: internal_mulaw.SampleRate}
}

// SamplesPerTick is the number of samples one tick carries.
func (c Config) SamplesPerTick() int {
	return int(int64(c.SampleRate) * int64(c.Interval) / int64(time.Second))
}

// Stats counts what the pump has done for its current stream.
type Stats struct {
	StreamSid string `json:"stream_sid,omitempty"`
	Running   bool   `json:"running"`
	Chunks    int64  `json:"chunks"`
	Sent      int64  `json:"sent"`
	Dropped   int64  `json:"dropped"`
}

// Pump reads the source on every tick, encodes to mu-law and sends one media
// frame per tick. A frame the sender rejects is dropped, never retried.
type Pump struct {
	logger commons.Logger
	sender Sender
	source Source
	cfg    Config

	mu      sync.Mutex
	stats   Stats
	samples int64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPump(logger commons.Logger, sender Sender, source Source, cfg Config) *Pump {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = internal_mulaw.SampleRate
	}
	return &Pump{logger: logger, sender: sender, source: source, cfg: cfg}
}

// Start opens a new outbound stream and marks its beginning.
func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stats.Running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	streamSid := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	p.stats = Stats{StreamSid: streamSid, Running: true}
	p.samples = 0
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	if err := p.sender.SendMark(streamSid, internal_protocol.MarkRecordingStarted); err != nil {
		p.logger.Warnw("recording start mark not sent", "stream_sid", streamSid, "error", err.Error())
	}
	p.logger.Infow("capture started", "stream_sid", streamSid, "interval", p.cfg.Interval.String())

	go p.run(runCtx, streamSid, done)
	return nil
}

// Stop ends the stream and waits for the pump to finish.
func (p *Pump) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current stream ends, either through Stop or
// because the source is exhausted.
func (p *Pump) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

func (p *Pump) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pump) run(ctx context.Context, streamSid string, done chan struct{}) {
	defer close(done)
	defer p.finish(streamSid)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := p.source.Read(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					p.logger.Infof("capture source exhausted, stream %s", streamSid)
				} else if ctx.Err() == nil {
					p.logger.Errorf("capture source failed: %v", err)
				}
				return
			}
			if len(samples) == 0 {
				continue
			}
			p.send(streamSid, samples)
		}
	}
}

func (p *Pump) send(streamSid string, samples []float32) {
	payload := internal_mulaw.EncodePayload(samples)

	p.mu.Lock()
	p.stats.Chunks++
	chunk := p.stats.Chunks
	timestamp := p.samples * 1000 / int64(p.cfg.SampleRate)
	p.samples += int64(len(samples))
	p.mu.Unlock()

	err := p.sender.SendAudio(streamSid, payload, chunk, timestamp)

	p.mu.Lock()
	if err != nil {
		p.stats.Dropped++
	} else {
		p.stats.Sent++
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Debugf("capture frame %d dropped: %v", chunk, err)
	}
}

func (p *Pump) finish(streamSid string) {
	p.mu.Lock()
	p.stats.Running = false
	cancel := p.cancel
	p.cancel = nil
	stats := p.stats
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := p.sender.SendMark(streamSid, internal_protocol.MarkRecordingStopped); err != nil {
		p.logger.Warnw("recording stop mark not sent", "stream_sid", streamSid, "error", err.Error())
	}
	p.logger.Infow("capture stopped", "stream_sid", streamSid, "sent", stats.Sent, "dropped", stats.Dropped)
}
