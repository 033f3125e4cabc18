// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/rapidaai/voicelink/pkg/utils"
)

// Config holds the connection endpoint and the reconnect policy.
type Config struct {
	URL                  string        `mapstructure:"url" validate:"required,url"`
	Cooldown             time.Duration `mapstructure:"connect_cooldown"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" validate:"gtefield=ReconnectBaseDelay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"gte=0"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// DefaultConfig returns the reconnect policy used when nothing is configured.
func DefaultConfig(endpoint string) Config {
	return Config{
		URL:                  endpoint,
		Cooldown:             time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// TokenSource supplies the bearer token placed on the connection URL.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Handler receives every well-formed inbound envelope.
type Handler interface {
	HandleEnvelope(ctx context.Context, env *internal_protocol.Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *internal_protocol.Envelope)

func (f HandlerFunc) HandleEnvelope(ctx context.Context, env *internal_protocol.Envelope) {
	f(ctx, env)
}

// StateListener is told about every state change.
type StateListener func(Status)

// Timer is the subset of *time.Timer the reconnect scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Session.
type Option func(*Session)

func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func WithTokenSource(ts TokenSource) Option {
	return func(s *Session) { s.tokens = ts }
}

func WithHandler(h Handler) Option {
	return func(s *Session) { s.handler = h }
}

func WithStateListener(l StateListener) Option {
	return func(s *Session) { s.listener = l }
}

// WithAfterFunc replaces the reconnect timer factory.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) { s.afterFunc = f }
}

// WithClock replaces the clock used for the connect cooldown.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns the connection to the vendor endpoint. It runs the
// disconnected -> connecting -> connected state machine, sends a heartbeat
// while connected and reconnects with exponential backoff after abnormal
// closures.
//
// mu guards state; writeMu serialises writes on the socket. writeMu is
// always taken before mu, never the other way round.
type Session struct {
	logger    commons.Logger
	cfg       Config
	dialer    Dialer
	tokens    TokenSource
	handler   Handler
	listener  StateListener
	afterFunc AfterFunc
	now       func() time.Time

	mu            sync.Mutex
	state         ConnectionState
	lastErr       string
	attempts      int
	generation    uint64
	conn          *websocket.Conn
	connID        string
	since         time.Time
	lastConnectAt time.Time
	seq           int64
	retry         Timer
	cancelDial    context.CancelFunc
	stopConn      context.CancelFunc

	writeMu sync.Mutex
}

// NewSession builds a disconnected session.
func NewSession(logger commons.Logger, cfg Config, opts ...Option) *Session {
	s := &Session{
		logger:    logger,
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		afterFunc: defaultAfterFunc,
		now:       time.Now,
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.since = s.now()
	return s
}

// =============================================================================
// Lifecycle
// =============================================================================

// Connect opens the connection and blocks until the handshake finishes. It
// is a no-op while a connection is open or being opened, and while the
// connect cooldown since the previous attempt has not elapsed. A pending
// reconnect is cancelled and the attempt counter starts over.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		s.logger.Debugf("connect ignored, session is %s", s.state)
		return nil
	}
	now := s.now()
	if !s.lastConnectAt.IsZero() && now.Sub(s.lastConnectAt) < s.cfg.Cooldown {
		s.mu.Unlock()
		s.logger.Debugf("connect ignored, within cooldown of previous attempt")
		return nil
	}
	s.stopRetryLocked()
	s.attempts = 0
	gen := s.beginDialLocked(now)
	s.mu.Unlock()

	s.notify()
	return s.dial(ctx, gen)
}

// Disconnect closes the connection normally and cancels any pending
// reconnect or in-flight dial. No reconnect follows.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.generation++
	s.stopRetryLocked()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	conn := s.detachLocked()
	changed := s.state != StateDisconnected
	s.setStateLocked(StateDisconnected, "")
	s.attempts = 0
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.cfg.WriteTimeout))
		s.writeMu.Unlock()
		_ = conn.Close()
		s.logger.Infof("transport disconnected")
	}
	if changed {
		s.notify()
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) statusLocked() Status {
	return Status{
		State:        s.state,
		LastError:    s.lastErr,
		Attempts:     s.attempts,
		ConnectionID: s.connID,
		Since:        s.since,
	}
}

func (s *Session) setStateLocked(state ConnectionState, lastErr string) {
	if s.state != state {
		s.since = s.now()
	}
	s.state = state
	s.lastErr = lastErr
}

func (s *Session) beginDialLocked(now time.Time) uint64 {
	s.generation++
	s.lastConnectAt = now
	s.setStateLocked(StateConnecting, s.lastErr)
	return s.generation
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// detachLocked forgets the current socket and stops its heartbeat. The
// caller closes the returned conn outside the lock.
func (s *Session) detachLocked() *websocket.Conn {
	if s.stopConn != nil {
		s.stopConn()
		s.stopConn = nil
	}
	conn := s.conn
	s.conn = nil
	s.connID = ""
	return conn
}

func (s *Session) notify() {
	if s.listener == nil {
		return
	}
	s.listener(s.Status())
}

// =============================================================================
// Dial and reconnect
// =============================================================================

func (s *Session) endpoint(ctx context.Context) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if s.tokens != nil {
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("token: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Session) dial(ctx context.Context, gen uint64) error {
	var (
		dctx   context.Context
		cancel context.CancelFunc
	)
	if s.cfg.HandshakeTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	} else {
		dctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.cancelDial = cancel
	s.mu.Unlock()

	target, err := s.endpoint(dctx)
	if err != nil {
		return s.dialFailed(gen, err)
	}
	conn, resp, err := s.dialer.DialContext(dctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return s.dialFailed(gen, err)
	}

	connCtx, stop := context.WithCancel(context.Background())
	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting {
		s.mu.Unlock()
		stop()
		_ = conn.Close()
		return nil
	}
	s.cancelDial = nil
	s.conn = conn
	s.connID = uuid.NewString()
	s.seq = 0
	s.attempts = 0
	s.stopConn = stop
	s.setStateLocked(StateConnected, "")
	connID := s.connID
	s.mu.Unlock()

	s.logger.Infow("transport connected", "connection_id", connID)
	s.notify()

	go s.readLoop(connCtx, conn, gen)
	utils.Go(connCtx, func() { s.heartbeat(connCtx, gen) })
	return nil
}

// dialFailed moves to error and, while attempts remain, schedules the next
// reconnect. The error state does not cancel the schedule. Once the ceiling
// is reached the session settles in disconnected.
func (s *Session) dialFailed(gen uint64, cause error) error {
	err := fmt.Errorf("%w: %v", ErrDial, cause)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return err
	}
	s.cancelDial = nil
	s.setStateLocked(StateError, err.Error())
	delay, scheduled := s.scheduleRetryLocked(gen)
	if !scheduled {
		s.setStateLocked(StateDisconnected, "reconnect attempts exhausted: "+err.Error())
	}
	attempts := s.attempts
	s.mu.Unlock()

	s.logger.Errorf("transport dial failed: %v", cause)
	if scheduled {
		s.logger.Infow("transport reconnect scheduled", "attempt", attempts, "delay", delay.String())
	} else {
		s.logger.Warnw("transport reconnect attempts exhausted", "attempts", attempts)
	}
	s.notify()
	return err
}

// scheduleRetryLocked arms the reconnect timer for the next attempt. It
// reports false once the attempt ceiling is reached.
func (s *Session) scheduleRetryLocked(gen uint64) (time.Duration, bool) {
	s.stopRetryLocked()
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		return 0, false
	}
	s.attempts++
	delay := Backoff(s.attempts, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
	s.retry = s.afterFunc(delay, func() { s.reconnect(gen) })
	return delay, true
}

// reconnect runs from the backoff timer. It skips the cooldown and does
// nothing if the session moved on since the timer was armed.
func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	next := s.beginDialLocked(s.now())
	attempt := s.attempts
	s.mu.Unlock()

	s.logger.Infow("transport reconnecting", "attempt", attempt)
	s.notify()
	_ = s.dial(context.Background(), next)
}

// handleClose runs when the read loop of connection gen ends.
func (s *Session) handleClose(gen uint64, closeErr *CloseError) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	conn := s.detachLocked()

	var (
		delay     time.Duration
		scheduled bool
	)
	if closeErr.Normal() {
		s.setStateLocked(StateDisconnected, "")
	} else {
		s.setStateLocked(StateDisconnected, closeErr.Error())
		delay, scheduled = s.scheduleRetryLocked(gen)
		if !scheduled {
			s.lastErr = "reconnect attempts exhausted: " + closeErr.Error()
		}
	}
	attempts := s.attempts
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	switch {
	case closeErr.Normal():
		s.logger.Infof("transport closed normally")
	case scheduled:
		s.logger.Warnw("transport closed abnormally, reconnect scheduled",
			"code", closeErr.Code, "attempt", attempts, "delay", delay.String())
	default:
		s.logger.Errorf("transport closed with code %d, reconnect attempts exhausted", closeErr.Code)
	}
	s.notify()
}

// =============================================================================
// Read loop and heartbeat
// =============================================================================

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, closeErrorFrom(err))
			return
		}
		if !s.current(gen) {
			return
		}

		env, err := internal_protocol.Parse(data)
		if err != nil {
			s.logger.Warnw("dropping malformed frame", "error", err.Error())
			continue
		}
		switch env.Event {
		case internal_protocol.EventPing:
			if err := s.SendControl(internal_protocol.EventPong, env.Message); err != nil {
				s.logger.Debugf("pong not sent: %v", err)
			}
		case internal_protocol.EventPong:
			s.logger.Debugf("heartbeat acknowledged")
		}
		if env.Kind() == internal_protocol.KindUnknown {
			s.logger.Debugf("ignoring unknown event %q", env.Event)
			continue
		}
		s.dispatch(ctx, env)
	}
}

// dispatch hands env to the handler. A panicking handler loses the frame,
// not the connection.
func (s *Session) dispatch(ctx context.Context, env *internal_protocol.Envelope) {
	if s.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("inbound handler panicked, frame dropped",
				"event", env.Event,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.handler.HandleEnvelope(ctx, env)
}

func (s *Session) heartbeat(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.current(gen) {
				return
			}
			if err := s.send(internal_protocol.NewPing(), false); err != nil {
				s.logger.Debugf("heartbeat not sent: %v", err)
			}
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// =============================================================================
// Outbound
// =============================================================================

// SendAudio sends one client-track media frame. It fails with
// ErrNotConnected unless the session is connected; the frame is not retried.
func (s *Session) SendAudio(streamSid, payload string, chunk, timestamp int64) error {
	return s.send(internal_protocol.NewMedia(streamSid, 0, payload, internal_protocol.TrackClient, chunk, timestamp), true)
}

// SendMark places a named mark on the outbound timeline.
func (s *Session) SendMark(streamSid, name string) error {
	return s.send(internal_protocol.NewMark(streamSid, 0, name), true)
}

// SendControl sends a control event such as handle_communications.
func (s *Session) SendControl(event, message string) error {
	if event == "" {
		return errors.New("transport: empty control event")
	}
	return s.send(internal_protocol.NewControl(event, message), false)
}

// send writes env on the socket. Sequenced envelopes get the next outbound
// sequence number of the current connection.
func (s *Session) send(env *internal_protocol.Envelope, sequenced bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	if sequenced {
		s.seq++
		env.SequenceNumber = internal_protocol.Number(s.seq)
	}
	s.mu.Unlock()

	data, err := internal_protocol.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", env.Event, err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("transport: write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", env.Event, err)
	}
	return nil
}
