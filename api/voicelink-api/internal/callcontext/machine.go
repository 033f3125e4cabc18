// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicelink/pkg/commons"
)

// Player is the part of the playback queue the call machine drives.
type Player interface {
	InitializeDevice(ctx context.Context) bool
	Clear()
}

const persistBuffer = 32

// Machine tracks the call currently bridged and owns the playback gate: audio
// may be queued only while a call is active.
//
// Transitions are persisted to the Store by a single background worker so
// writes land in transition order without blocking inbound dispatch. Store
// failures are logged and never change the in-memory state.
type Machine struct {
	logger commons.Logger
	player Player
	store  Store
	now    func() time.Time

	mu    sync.Mutex
	state State
	call  Call

	persistCh chan func(context.Context)
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithStore persists call transitions.
func WithStore(store Store) MachineOption {
	return func(m *Machine) { m.store = store }
}

// WithClock overrides the clock used for call timestamps.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine builds an idle machine. player may be nil.
func NewMachine(logger commons.Logger, player Player, opts ...MachineOption) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		logger:    logger,
		player:    player,
		now:       time.Now,
		state:     StateIdle,
		persistCh: make(chan func(context.Context), persistBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.persistLoop()
	return m
}

// Start records a new active call and opens the playback gate. A start while
// another call is active replaces it without clearing buffered audio.
func (m *Machine) Start(ctx context.Context, ev StartEvent) Call {
	now := m.now()
	call := Call{
		CallID:      ev.CallID,
		ContactID:   ev.ContactID,
		ContactName: ev.ContactName,
		IsActive:    true,
		Status:      StatusActive,
		StartedAt:   now,
	}

	m.mu.Lock()
	prev := m.call
	wasActive := m.state == StateActive
	m.state = StateActive
	m.call = call
	m.mu.Unlock()

	if wasActive {
		m.logger.Warnw("call replaced while active", "previous_call_id", prev.CallID, "call_id", call.CallID)
		if prev.CallID != "" && prev.CallID != call.CallID {
			m.persist(func(ctx context.Context) error {
				return m.store.Complete(ctx, prev.CallID, ReasonReplaced, now)
			})
		}
	}
	m.logger.Infow("call started", "call_id", call.CallID, "contact_id", call.ContactID, "contact_name", call.ContactName)

	saved := call
	m.persist(func(ctx context.Context) error {
		return m.store.Save(ctx, &saved)
	})

	if m.player != nil && !m.player.InitializeDevice(ctx) {
		m.logger.Debugf("playback device not ready at call start, waiting for user gesture")
	}
	return call
}

// Stop ends the active call, closes the gate and clears queued audio. The
// stop is honoured whatever call id it carries. A stop while idle only logs.
func (m *Machine) Stop(ctx context.Context, ev StopEvent) (Call, bool) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		m.logger.Debugf("stop received while idle: callId=%s", ev.CallID)
		return Call{}, false
	}
	ended := m.call
	m.state = StateIdle
	m.call = Call{}
	m.mu.Unlock()

	if ev.CallID != "" && ev.CallID != ended.CallID {
		m.logger.Warnw("stop call id does not match active call", "call_id", ev.CallID, "active_call_id", ended.CallID)
	}
	if m.player != nil {
		m.player.Clear()
	}

	reason := ev.Reason
	if reason == "" {
		reason = ReasonStopped
	}
	now := m.now()
	ended.IsActive = false
	ended.Status = StatusCompleted
	ended.Reason = reason
	ended.EndedAt = now
	m.logger.Infow("call stopped", "call_id", ended.CallID, "reason", reason)

	m.persist(func(ctx context.Context) error {
		return m.store.Complete(ctx, ended.CallID, reason, now)
	})
	return ended, true
}

// Current returns the active call, or the zero Call when idle.
func (m *Machine) Current() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PlaybackAllowed is the playback gate.
func (m *Machine) PlaybackAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActive
}

// Close stops the persistence worker. Writes still queued are dropped.
func (m *Machine) Close() {
	m.cancel()
	<-m.done
}

func (m *Machine) persist(op func(ctx context.Context) error) {
	if m.store == nil {
		return
	}
	select {
	case <-m.ctx.Done():
	case m.persistCh <- func(ctx context.Context) {
		if err := op(ctx); err != nil {
			m.logger.Errorf("failed to persist call transition: %v", err)
		}
	}:
	default:
		m.logger.Warnw("call persistence backlog full, dropping write")
	}
}

func (m *Machine) persistLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case op := <-m.persistCh:
			ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
			op(ctx)
			cancel()
		}
	}
}
