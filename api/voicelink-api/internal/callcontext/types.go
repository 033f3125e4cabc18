// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"errors"
	"time"
)

// Call status constants.
const (
	StatusActive    = "active"    // start received, audio may play
	StatusCompleted = "completed" // stop received or replaced by a newer start
)

// Reasons recorded when a call completes without an explicit one.
const (
	ReasonStopped  = "stopped"
	ReasonReplaced = "replaced"
)

// State is the logical call state.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCallNotFound is returned by Store.Get for unknown call ids.
var ErrCallNotFound = errors.New("callcontext: call not found")

// Call is the identity of the call currently bridged. The zero value is the
// idle call.
type Call struct {
	CallID      string    `json:"callId"`
	ContactID   string    `json:"contactId"`
	ContactName string    `json:"contactName,omitempty"`
	IsActive    bool      `json:"isActive"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// IsCompleted returns true once the call has ended.
func (c *Call) IsCompleted() bool {
	return c.Status == StatusCompleted
}

// StartEvent carries the fields of an inbound start frame.
type StartEvent struct {
	CallID      string
	ContactID   string
	ContactName string
}

// StopEvent carries the fields of an inbound stop frame.
type StopEvent struct {
	CallID string
	Reason string
}
