// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionState is the single authoritative state of a Session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the externally visible view of a Session.
type Status struct {
	State        ConnectionState `json:"state"`
	LastError    string          `json:"last_error,omitempty"`
	Attempts     int             `json:"attempts"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Since        time.Time       `json:"since"`
}

var (
	// ErrNotConnected is returned by every send while the session is not
	// connected. Callers treat it as a dropped frame.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrDial wraps failures to establish the connection.
	ErrDial = errors.New("transport: dial failed")
)

// CloseError reports how the remote end closed the connection.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("transport: closed with code %d", e.Code)
	}
	return fmt.Sprintf("transport: closed with code %d: %s", e.Code, e.Text)
}

// Normal reports whether the closure was a deliberate 1000 close.
func (e *CloseError) Normal() bool {
	return e.Code == websocket.CloseNormalClosure
}

// closeErrorFrom maps a read error onto a CloseError. Anything that is not a
// close frame counts as an abnormal closure.
func closeErrorFrom(err error) *CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	text := ""
	if err != nil {
		text = err.Error()
	}
	return &CloseError{Code: websocket.CloseAbnormalClosure, Text: text}
}
