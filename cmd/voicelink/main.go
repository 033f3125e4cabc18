// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicelink bridges a call vendor's media stream to local playback
// and streams captured audio back.
//
// Usage:
//
//	voicelink run [--env-path .env] [--capture-file audio.s16] [--auto-gesture]
//	voicelink version
package main

import (
	"fmt"
	"os"

	"github.com/rapidaai/voicelink/api/voicelink-api/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
