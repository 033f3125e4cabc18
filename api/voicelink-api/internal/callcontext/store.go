// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicelink/pkg/commons"
)

// Store persists call identity and status. Audio is never stored.
//
// A completed call stays readable until its TTL expires, so status lookups
// that arrive after the stop event still resolve.
type Store interface {
	// Save writes the call, replacing any previous record with the same id.
	Save(ctx context.Context, call *Call) error

	// Get returns the call regardless of status, or ErrCallNotFound.
	Get(ctx context.Context, callID string) (*Call, error)

	// Complete marks the call completed with the given reason.
	Complete(ctx context.Context, callID, reason string, endedAt time.Time) error

	// Delete removes the record.
	Delete(ctx context.Context, callID string) error
}

// =============================================================================
// Memory store
// =============================================================================

type memoryStore struct {
	mu    sync.RWMutex
	calls map[string]Call
}

// NewMemoryStore keeps calls in process memory.
func NewMemoryStore() Store {
	return &memoryStore{calls: make(map[string]Call)}
}

func (s *memoryStore) Save(ctx context.Context, call *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = *call
	return nil
}

func (s *memoryStore) Get(ctx context.Context, callID string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return &c, nil
}

func (s *memoryStore) Complete(ctx context.Context, callID, reason string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	c.Status = StatusCompleted
	c.IsActive = false
	c.Reason = reason
	c.EndedAt = endedAt
	s.calls[callID] = c
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
	return nil
}

// =============================================================================
// Redis store
// =============================================================================

const (
	// callKeyPrefix uses the {voicelink:call} hash tag so every call key lands
	// in the same Redis Cluster slot.
	callKeyPrefix = "{voicelink:call}:"

	// DefaultCallTTL bounds how long a call record outlives its last write.
	DefaultCallTTL = 24 * time.Hour
)

type redisStore struct {
	client redis.Cmdable
	logger commons.Logger
	ttl    time.Duration
}

// NewRedisStore keeps one hash per call, refreshed to ttl on every write.
func NewRedisStore(client redis.Cmdable, logger commons.Logger, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultCallTTL
	}
	return &redisStore{client: client, logger: logger, ttl: ttl}
}

func callKey(callID string) string {
	return callKeyPrefix + callID
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *redisStore) Save(ctx context.Context, call *Call) error {
	if call.CallID == "" {
		return errors.New("callcontext: call id is required")
	}
	key := callKey(call.CallID)
	if err := s.client.HSet(ctx, key,
		"call_id", call.CallID,
		"contact_id", call.ContactID,
		"contact_name", call.ContactName,
		"status", call.Status,
		"reason", call.Reason,
		"started_at", formatTime(call.StartedAt),
		"ended_at", formatTime(call.EndedAt),
	).Err(); err != nil {
		return fmt.Errorf("failed to save call %s: %w", call.CallID, err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ttl on call %s: %w", call.CallID, err)
	}

	s.logger.Debugf("saved call: callId=%s, contactId=%s, status=%s", call.CallID, call.ContactID, call.Status)
	return nil
}

func (s *redisStore) Get(ctx context.Context, callID string) (*Call, error) {
	fields, err := s.client.HGetAll(ctx, callKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read call %s: %w", callID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return &Call{
		CallID:      fields["call_id"],
		ContactID:   fields["contact_id"],
		ContactName: fields["contact_name"],
		Status:      fields["status"],
		IsActive:    fields["status"] == StatusActive,
		Reason:      fields["reason"],
		StartedAt:   parseTime(fields["started_at"]),
		EndedAt:     parseTime(fields["ended_at"]),
	}, nil
}

func (s *redisStore) Complete(ctx context.Context, callID, reason string, endedAt time.Time) error {
	key := callKey(callID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to complete call %s: %w", callID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if err := s.client.HSet(ctx, key,
		"status", StatusCompleted,
		"reason", reason,
		"ended_at", formatTime(endedAt),
	).Err(); err != nil {
		return fmt.Errorf("failed to complete call %s: %w", callID, err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ttl on call %s: %w", callID, err)
	}

	s.logger.Debugf("completed call: callId=%s, reason=%s", callID, reason)
	return nil
}

func (s *redisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, callKey(callID)).Err(); err != nil {
		return fmt.Errorf("failed to delete call %s: %w", callID, err)
	}
	return nil
}
