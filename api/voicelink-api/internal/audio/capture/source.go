// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
)

// Source yields linear PCM captured since the previous call. It returns
// io.EOF once no more audio will arrive.
type Source interface {
	Read(ctx context.Context) ([]float32, error)
}

// PCMReaderSource reads signed 16-bit little-endian mono PCM from an
// io.Reader, a fixed number of samples per Read.
type PCMReaderSource struct {
	r       io.Reader
	buf     []byte
	pcm     []int16
	drained bool
}

// NewPCMReaderSource reads samplesPerRead samples per call.
func NewPCMReaderSource(r io.Reader, samplesPerRead int) *PCMReaderSource {
	if samplesPerRead <= 0 {
		samplesPerRead = internal_mulaw.SampleRate / 50
	}
	return &PCMReaderSource{
		r:   r,
		buf: make([]byte, samplesPerRead*2),
		pcm: make([]int16, samplesPerRead),
	}
}

func (s *PCMReaderSource) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.drained {
		return nil, io.EOF
	}
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		s.drained = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.drained = true
	case err != nil:
		return nil, err
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		s.pcm[i] = int16(binary.LittleEndian.Uint16(s.buf[i*2:]))
	}
	return internal_mulaw.PCM16ToFloat(s.pcm[:samples]), nil
}
