// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commands

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	internal_mulaw "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/mulaw"
	internal_protocol "github.com/rapidaai/voicelink/api/voicelink-api/internal/protocol"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/rapidaai/voicelink/pkg/utils"
)

// simulate-vendor stands in for the call vendor so the bridge can be tried
// locally before pointing it at a real provider.
var simulateCmd = &cobra.Command{
	Use:   "simulate-vendor",
	Short: "Serve a local vendor stream that plays one call with a test tone",
	RunE:  runSimulator,
}

func init() {
	simulateCmd.Flags().String("listen", "127.0.0.1:9000", "listen address")
	simulateCmd.Flags().Int("frames", 50, "media frames sent per call")
	simulateCmd.Flags().Duration("interval", 20*time.Millisecond, "gap between media frames")
	simulateCmd.Flags().Float64("tone", 440, "tone frequency in Hz")
	simulateCmd.Flags().String("contact", "Test Contact", "contact name on the start event")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulator(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	frames, _ := cmd.Flags().GetInt("frames")
	interval, _ := cmd.Flags().GetDuration("interval")
	tone, _ := cmd.Flags().GetFloat64("tone")
	contact, _ := cmd.Flags().GetString("contact")

	logger, err := commons.NewApplicationLogger(commons.Name("voicelink-simulator"), commons.Level("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              listen,
		Handler:           newVendorSimulator(logger, frames, interval, tone, contact),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("vendor simulator listening on ws://%s", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type vendorSimulator struct {
	logger   commons.Logger
	frames   int
	interval time.Duration
	tone     float64
	contact  string
	upgrader websocket.Upgrader
}

// inboundTally counts what one bridge connection sent.
type inboundTally struct {
	Media int
	Marks int
}

func newVendorSimulator(logger commons.Logger, frames int, interval time.Duration, tone float64, contact string) *vendorSimulator {
	return &vendorSimulator{
		logger:   logger,
		frames:   frames,
		interval: interval,
		tone:     tone,
		contact:  contact,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (v *vendorSimulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Errorf("simulator upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	tally := v.serveConn(r.Context(), conn)
	v.logger.Infof("bridge left: %d media frames and %d marks received", tally.Media, tally.Marks)
}

// serveConn plays one call on conn and reads until the bridge goes away.
func (v *vendorSimulator) serveConn(ctx context.Context, conn *websocket.Conn) inboundTally {
	var writeMu sync.Mutex
	write := func(env *internal_protocol.Envelope) error {
		data, err := internal_protocol.Marshal(env)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	utils.Go(ctx, func() { v.play(ctx, write) })

	var tally inboundTally
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return tally
		}
		env, err := internal_protocol.Parse(data)
		if err != nil {
			v.logger.Warnf("simulator dropped malformed frame: %v", err)
			continue
		}
		switch env.Kind() {
		case internal_protocol.KindMedia:
			tally.Media++
		case internal_protocol.KindMark:
			tally.Marks++
		case internal_protocol.KindControl:
			if env.Event == internal_protocol.EventPing {
				_ = write(&internal_protocol.Envelope{Event: internal_protocol.EventPong})
			}
		}
	}
}

// play runs one scripted call: start, a tone on the vendor track, stop.
func (v *vendorSimulator) play(ctx context.Context, write func(*internal_protocol.Envelope) error) {
	callID := "CA" + uuid.NewString()
	streamSid := "MZ" + uuid.NewString()
	if err := write(&internal_protocol.Envelope{
		Event:       internal_protocol.EventStart,
		CallID:      callID,
		ContactID:   uuid.NewString(),
		ContactName: v.contact,
	}); err != nil {
		return
	}

	samplesPerFrame := int(int64(internal_mulaw.SampleRate) * int64(v.interval) / int64(time.Second))
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for i := 0; i < v.frames; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		payload := internal_mulaw.EncodePayload(toneFrame(v.tone, i*samplesPerFrame, samplesPerFrame))
		env := internal_protocol.NewMedia(streamSid, int64(i+1), payload, internal_protocol.TrackVendor, int64(i+1), int64(i)*v.interval.Milliseconds())
		env.Media.Source = string(internal_protocol.TrackVendor)
		if err := write(env); err != nil {
			return
		}
	}
	_ = write(&internal_protocol.Envelope{Event: internal_protocol.EventStop, CallID: callID, Reason: "completed"})
}

// toneFrame returns n samples of a half-scale sine starting at sample offset.
func toneFrame(freq float64, offset, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(offset+i) / float64(internal_mulaw.SampleRate)
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}
