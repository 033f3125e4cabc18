// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_mulaw converts between linear float PCM and 8-bit G.711
// mu-law. Every function is pure and safe for concurrent use.
package internal_mulaw

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the only rate the bridge carries.
	SampleRate = 8000

	// SilenceThreshold is the magnitude below which a sample is emitted as
	// the zero-level codeword without running the quantizer.
	SilenceThreshold = 1.0 / 8192

	// positiveSilence and negativeSilence carry the sign flag only,
	// complemented as on the wire.
	positiveSilence byte = 0xFF
	negativeSilence byte = 0x7F

	fullScale = 32768
	maxLinear = 32767
)

// ErrInvalidPayload is returned when a media payload is not valid base64.
var ErrInvalidPayload = errors.New("mulaw: invalid payload")

// expansion is the canonical 256-entry G.711 mu-law expansion table.
var expansion [256]int16

// normalized holds expansion scaled into [-1, 1].
var normalized [256]float32

func init() {
	for i := 0; i < 256; i++ {
		v := g711.DecodeUlawFrame(uint8(i))
		expansion[i] = v
		normalized[i] = float32(v) / fullScale
	}
}

// Table returns a copy of the G.711 expansion table in 16-bit linear units.
func Table() [256]int16 {
	return expansion
}

// Encode compresses one linear sample into a mu-law byte. The sample is
// clamped to [-1, 1]; the sign flag lives in bit 7 and the 7-bit magnitude is
// stored complemented, so full-scale positive is 0x80 and full-scale negative
// is 0x00.
func Encode(sample float32) byte {
	s := float64(sample)
	if math.IsNaN(s) {
		return positiveSilence
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if math.Abs(s) < SilenceThreshold {
		if math.Signbit(s) {
			return negativeSilence
		}
		return positiveSilence
	}
	linear := math.Round(s * fullScale)
	if linear > maxLinear {
		linear = maxLinear
	} else if linear < -maxLinear {
		linear = -maxLinear
	}
	return g711.EncodeUlawFrame(int16(linear))
}

// Decode expands a mu-law byte into a sample in [-1, 1].
func Decode(b byte) float32 {
	return normalized[b]
}

// EncodeSamples encodes a buffer of linear samples.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = Encode(s)
	}
	return out
}

// DecodeBytes expands a buffer of mu-law bytes.
func DecodeBytes(data []byte) []float32 {
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = normalized[b]
	}
	return out
}

// EncodePayload encodes samples and wraps them in standard base64, the form
// used inside media frames.
func EncodePayload(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodeSamples(samples))
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return DecodeBytes(raw), nil
}

// PCM16ToFloat converts signed 16-bit samples into [-1, 1].
func PCM16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / fullScale
	}
	return out
}
