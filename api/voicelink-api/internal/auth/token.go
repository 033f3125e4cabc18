// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rapidaai/voicelink/pkg/commons"
)

// ErrEmptyToken is returned when no token is configured or issued.
var ErrEmptyToken = errors.New("auth: empty token")

// TokenSource supplies the bearer token carried on the stream URL.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed, pre-issued token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrEmptyToken
	}
	return string(t), nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RemoteTokenSource fetches a token from an HTTP endpoint. JWTs are cached
// until shortly before their exp claim; opaque tokens are fetched on every
// call.
type RemoteTokenSource struct {
	logger     commons.Logger
	client     *resty.Client
	url        string
	credential string
	skew       time.Duration
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// RemoteOption configures a RemoteTokenSource.
type RemoteOption func(*RemoteTokenSource)

// WithCredential sends credential as a bearer Authorization header.
func WithCredential(credential string) RemoteOption {
	return func(s *RemoteTokenSource) { s.credential = credential }
}

// WithSkew refreshes a cached JWT this long before it expires.
func WithSkew(skew time.Duration) RemoteOption {
	return func(s *RemoteTokenSource) { s.skew = skew }
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) RemoteOption {
	return func(s *RemoteTokenSource) { s.now = now }
}

// WithTimeout bounds each token request.
func WithTimeout(timeout time.Duration) RemoteOption {
	return func(s *RemoteTokenSource) { s.client.SetTimeout(timeout) }
}

func NewRemoteTokenSource(logger commons.Logger, url string, opts ...RemoteOption) *RemoteTokenSource {
	s := &RemoteTokenSource{
		logger: logger,
		client: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Accept", "application/json"),
		url:  url,
		skew: 30 * time.Second,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && !s.expiry.IsZero() && s.now().Add(s.skew).Before(s.expiry) {
		return s.token, nil
	}

	var out tokenResponse
	req := s.client.R().SetContext(ctx).SetResult(&out)
	if s.credential != "" {
		req.SetAuthToken(s.credential)
	}
	resp, err := req.Get(s.url)
	if err != nil {
		return "", fmt.Errorf("auth: token request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("auth: token endpoint returned %d", resp.StatusCode())
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", ErrEmptyToken
	}

	s.token = out.Token
	s.expiry = Expiry(out.Token)
	if s.expiry.IsZero() {
		s.logger.Debugf("issued token carries no expiry, it will not be cached")
	} else {
		s.logger.Debugf("issued token expires at %s", s.expiry.Format(time.RFC3339))
	}
	return s.token, nil
}

// Expiry returns the exp claim of a JWT without verifying its signature, or
// the zero time for opaque tokens and tokens without exp.
func Expiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
