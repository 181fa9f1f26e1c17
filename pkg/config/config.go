// Package config loads server configuration from an optional config file
// and WAITINGROOM_-prefixed environment variables.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingSecret is returned when no pass signing secret is configured.
// There is no safe default for it, so startup fails instead.
var ErrMissingSecret = errors.New("pass secret is not configured")

type Config struct {
	// Addr is the listen address of the join/status API server.
	Addr string
	// GatekeeperAddr is the listen address of the gatekeeper proxy.
	GatekeeperAddr string
	// OriginURL is the protected resource the gatekeeper proxies to.
	OriginURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// FlagName is the remote flag controlling whether the room is active.
	FlagName     string
	FlagCacheTTL time.Duration

	// EntryTTL is the expiration horizon of a queue entry.
	EntryTTL time.Duration
	// BatchSize bounds how many waiting tokens one admission cycle promotes.
	BatchSize int64
	// TickInterval is the period of the admission cycle.
	TickInterval time.Duration
	// ReceiveWait is how long one cycle waits on a momentarily empty channel.
	ReceiveWait time.Duration

	PassSecret     string
	PassTTL        time.Duration
	PassCookieName string
	// WaitingRoomURL is where the gatekeeper redirects clients without a pass.
	WaitingRoomURL string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAITINGROOM")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("gatekeeper_addr", ":8081")
	v.SetDefault("origin_url", "http://localhost:3000")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("flag_name", "waiting-room-enabled")
	v.SetDefault("flag_cache_ttl", 30*time.Second)
	v.SetDefault("entry_ttl", 240*time.Minute)
	v.SetDefault("batch_size", 10)
	v.SetDefault("tick_interval", 1*time.Second)
	v.SetDefault("receive_wait", 1*time.Second)
	v.SetDefault("pass_secret", "")
	v.SetDefault("pass_ttl", 5*time.Minute)
	v.SetDefault("pass_cookie_name", "waiting-room-pass")
	v.SetDefault("waiting_room_url", "http://localhost:8080/")

	v.SetConfigName("waitingroom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{
		Addr:           v.GetString("addr"),
		GatekeeperAddr: v.GetString("gatekeeper_addr"),
		OriginURL:      v.GetString("origin_url"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		FlagName:       v.GetString("flag_name"),
		FlagCacheTTL:   v.GetDuration("flag_cache_ttl"),
		EntryTTL:       v.GetDuration("entry_ttl"),
		BatchSize:      v.GetInt64("batch_size"),
		TickInterval:   v.GetDuration("tick_interval"),
		ReceiveWait:    v.GetDuration("receive_wait"),
		PassSecret:     v.GetString("pass_secret"),
		PassTTL:        v.GetDuration("pass_ttl"),
		PassCookieName: v.GetString("pass_cookie_name"),
		WaitingRoomURL: v.GetString("waiting_room_url"),
	}
	if cfg.PassSecret == "" {
		return nil, ErrMissingSecret
	}
	return cfg, nil
}
