// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	healthCheckApi "github.com/rapidaai/voicelink/api/voicelink-api/api/health"
	"github.com/rapidaai/voicelink/api/voicelink-api/config"
	internal_capture "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/capture"
	internal_auth "github.com/rapidaai/voicelink/api/voicelink-api/internal/auth"
	internal_bridge "github.com/rapidaai/voicelink/api/voicelink-api/internal/bridge"
	internal_callcontext "github.com/rapidaai/voicelink/api/voicelink-api/internal/callcontext"
	internal_playback "github.com/rapidaai/voicelink/api/voicelink-api/internal/playback"
	internal_transport "github.com/rapidaai/voicelink/api/voicelink-api/internal/transport"
	voicelink_routers "github.com/rapidaai/voicelink/api/voicelink-api/router"
	"github.com/rapidaai/voicelink/pkg/commons"
	"github.com/rapidaai/voicelink/pkg/utils"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the vendor stream and serve the control API",
	RunE:  runBridge,
}

func init() {
	runCmd.Flags().String("env-path", "", "path of the .env file (overrides ENV_PATH)")
	runCmd.Flags().String("capture-file", "", "raw s16le mono 8 kHz file streamed to the vendor once connected")
	runCmd.Flags().Bool("auto-gesture", false, "unlock playback at startup instead of waiting for POST /v1/gesture")
}

func runBridge(cmd *cobra.Command, args []string) error {
	envPath, _ := cmd.Flags().GetString("env-path")
	captureFile, _ := cmd.Flags().GetString("capture-file")
	autoGesture, _ := cmd.Flags().GetBool("auto-gesture")

	if envPath != "" {
		if err := os.Setenv("ENV_PATH", envPath); err != nil {
			return err
		}
	}
	v, err := config.InitConfig()
	if err != nil {
		return err
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
		commons.Environment(cfg.Env),
	)
	if err != nil {
		return fmt.Errorf("unable to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		machineOpts []internal_callcontext.MachineOption
		checks      []healthCheckApi.Check
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		machineOpts = append(machineOpts, internal_callcontext.WithStore(
			internal_callcontext.NewRedisStore(client, logger, cfg.Redis.TTL)))
		checks = append(checks, healthCheckApi.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		logger.Infof("call context persisted to redis at %s", cfg.Redis.Addr())
	}

	device := internal_playback.NewMeterDevice(logger, true)
	queue := internal_playback.NewQueue(logger, device, cfg.PlaybackConfig())
	calls := internal_callcontext.NewMachine(logger, queue, machineOpts...)
	b := internal_bridge.New(logger, queue, calls, cfg.TransportConfig(), cfg.CaptureConfig(),
		internal_transport.WithTokenSource(tokenSource(cfg, logger)),
	)
	defer b.Close()

	if autoGesture {
		if !b.NotifyUserGesture(ctx) {
			logger.Warnf("auto gesture could not resume the output device")
		}
	}

	engine := voicelink_routers.NewEngine(cfg, logger)
	voicelink_routers.HealthCheckRoutes(cfg, engine, logger, checks...)
	voicelink_routers.BridgeRoutes(engine, logger, b)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("control api listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Infof("shutting down %s", cfg.Name)
		b.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := b.Connect(gCtx); err != nil {
		logger.Errorf("initial connect failed, reconnect is scheduled: %v", err)
	}

	if captureFile != "" {
		g.Go(func() error {
			return streamFile(gCtx, b, captureFile, cfg.CaptureConfig(), logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func tokenSource(cfg *config.AppConfig, logger commons.Logger) internal_auth.TokenSource {
	if !utils.IsEmpty(cfg.Transport.TokenURL) {
		return internal_auth.NewRemoteTokenSource(logger, cfg.Transport.TokenURL,
			internal_auth.WithCredential(cfg.Transport.TokenCredential))
	}
	if !utils.IsEmpty(cfg.Transport.Token) {
		return internal_auth.StaticToken(cfg.Transport.Token)
	}
	return nil
}

// streamFile waits for the connection, then pumps the file once.
func streamFile(ctx context.Context, b *internal_bridge.Bridge, path string, captureCfg internal_capture.Config, logger commons.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("capture file: %w", err)
	}
	defer f.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for b.Status().Connection.State != internal_transport.StateConnected {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	done, err := b.StartCapture(ctx, internal_capture.NewPCMReaderSource(f, captureCfg.SamplesPerTick()))
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		b.StopCapture()
		<-done
	case <-done:
		logger.Infof("capture file %s streamed", path)
	}
	return nil
}
