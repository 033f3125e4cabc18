// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	internal_capture "github.com/rapidaai/voicelink/api/voicelink-api/internal/audio/capture"
	internal_playback "github.com/rapidaai/voicelink/api/voicelink-api/internal/playback"
	internal_transport "github.com/rapidaai/voicelink/api/voicelink-api/internal/transport"
)

// TransportSettings is the vendor stream endpoint and its reconnect policy.
type TransportSettings struct {
	URL                  string        `mapstructure:"url" validate:"required,url"`
	Token                string        `mapstructure:"token"`
	TokenURL             string        `mapstructure:"token_url" validate:"omitempty,url"`
	TokenCredential      string        `mapstructure:"token_credential"`
	ConnectCooldown      time.Duration `mapstructure:"connect_cooldown" validate:"gte=0"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" validate:"gtefield=ReconnectBaseDelay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"gte=0"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type PlaybackSettings struct {
	RequireGesture bool `mapstructure:"require_gesture"`
	LaneBuffer     int  `mapstructure:"lane_buffer" validate:"gte=0"`
}

type CaptureSettings struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	SampleRate int           `mapstructure:"sample_rate" validate:"eq=8000"`
}

// RedisSettings enables the call-context store. Audio is never written.
type RedisSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int           `mapstructure:"port" validate:"required_if=Enabled true"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

func (r RedisSettings) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Env      string `mapstructure:"env" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path" validate:"required"`

	Transport TransportSettings `mapstructure:"transport" validate:"required"`
	Playback  PlaybackSettings  `mapstructure:"playback"`
	Capture   CaptureSettings   `mapstructure:"capture" validate:"required"`
	Redis     RedisSettings     `mapstructure:"redis"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		if path != "" && !isConfigMissing(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		log.Printf("Reading from env varaibles.")
	}
	return vConfig, nil
}

func isConfigMissing(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "voicelink")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("ENV", "development")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9095)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "/var/log/voicelink")

	v.SetDefault("TRANSPORT__URL", "")
	v.SetDefault("TRANSPORT__TOKEN", "")
	v.SetDefault("TRANSPORT__TOKEN_URL", "")
	v.SetDefault("TRANSPORT__TOKEN_CREDENTIAL", "")
	v.SetDefault("TRANSPORT__CONNECT_COOLDOWN", "1s")
	v.SetDefault("TRANSPORT__HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("TRANSPORT__RECONNECT_BASE_DELAY", "1s")
	v.SetDefault("TRANSPORT__RECONNECT_MAX_DELAY", "30s")
	v.SetDefault("TRANSPORT__MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("TRANSPORT__HANDSHAKE_TIMEOUT", "10s")
	v.SetDefault("TRANSPORT__WRITE_TIMEOUT", "5s")

	v.SetDefault("PLAYBACK__REQUIRE_GESTURE", true)
	v.SetDefault("PLAYBACK__LANE_BUFFER", 0)

	v.SetDefault("CAPTURE__INTERVAL", "500ms")
	v.SetDefault("CAPTURE__SAMPLE_RATE", 8000)

	v.SetDefault("REDIS__ENABLED", false)
	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__DB", 0)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__TTL", "24h")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}

func (cfg *AppConfig) TransportConfig() internal_transport.Config {
	t := cfg.Transport
	return internal_transport.Config{
		URL:                  t.URL,
		Cooldown:             t.ConnectCooldown,
		HeartbeatInterval:    t.HeartbeatInterval,
		ReconnectBaseDelay:   t.ReconnectBaseDelay,
		ReconnectMaxDelay:    t.ReconnectMaxDelay,
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		HandshakeTimeout:     t.HandshakeTimeout,
		WriteTimeout:         t.WriteTimeout,
	}
}

func (cfg *AppConfig) PlaybackConfig() internal_playback.Config {
	return internal_playback.Config{
		RequireGesture: cfg.Playback.RequireGesture,
		LaneBuffer:     cfg.Playback.LaneBuffer,
	}
}

func (cfg *AppConfig) CaptureConfig() internal_capture.Config {
	return internal_capture.Config{
		Interval:   cfg.Capture.Interval,
		SampleRate: cfg.Capture.SampleRate,
	}
}

// Address is the control API listen address.
func (cfg *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}
