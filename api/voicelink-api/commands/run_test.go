// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicelink/api/voicelink-api/config"
	internal_auth "github.com/rapidaai/voicelink/api/voicelink-api/internal/auth"
	"github.com/rapidaai/voicelink/pkg/commons"
)

func TestTokenSource(t *testing.T) {
	logger := commons.NewNopLogger()

	cfg := &config.AppConfig{}
	assert.Nil(t, tokenSource(cfg, logger))

	cfg.Transport.Token = "static-token"
	assert.Equal(t, internal_auth.StaticToken("static-token"), tokenSource(cfg, logger))

	cfg.Transport.TokenURL = "https://auth.example.com/token"
	_, ok := tokenSource(cfg, logger).(*internal_auth.RemoteTokenSource)
	assert.True(t, ok, "token url takes precedence over a static token")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version, strings.TrimSpace(out.String()))
}
