package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyServerAddr        = "addr"
	KeyDatabaseDSN       = "dsn"
	KeySigningKey        = "signing-key"
	KeyAllowedOrigins    = "allowed-origins"
	KeyRedisAddr         = "redis-addr"
	KeyRedisPassword     = "redis-password"
	KeyRedisDB           = "redis-db"
	KeyBusBackend        = "bus"
	KeyNatsURL           = "nats-url"
	KeyPresenceWindow    = "presence-window"
	KeyHeartbeatInterval = "heartbeat-interval"
	KeyMaxMessageLength  = "max-message-length"
	KeyRunMigrations     = "migrate"
	KeyAPIMaxInflight    = "api-max-inflight"

	EnvPrefix = "GEOCHAT"

	BusRedis = "redis"
	BusNats  = "nats"
)

type Config struct {
	ServerAddr        string
	DatabaseDSN       string
	SigningKey        []byte
	AllowedOrigins    []string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	BusBackend        string
	NatsURL           string
	PresenceWindow    time.Duration
	HeartbeatInterval time.Duration
	MaxMessageLength  int
	RunMigrations     bool
	APIMaxInflight    int
}

// SetDefaults registers default values and the GEOCHAT_ environment binding
// on v. Flags bound by the command line take precedence over both.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerAddr, "localhost:8000")
	v.SetDefault(KeyDatabaseDSN, "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyBusBackend, BusRedis)
	v.SetDefault(KeyNatsURL, "nats://localhost:4222")
	v.SetDefault(KeyPresenceWindow, 120*time.Second)
	v.SetDefault(KeyHeartbeatInterval, 30*time.Second)
	v.SetDefault(KeyMaxMessageLength, 2000)
	v.SetDefault(KeyRunMigrations, false)
	v.SetDefault(KeyAPIMaxInflight, 100)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// splitList accepts both repeated values and comma separated strings, which
// is how list values arrive from environment variables.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerAddr:        v.GetString(KeyServerAddr),
		DatabaseDSN:       v.GetString(KeyDatabaseDSN),
		AllowedOrigins:    splitList(v.GetStringSlice(KeyAllowedOrigins)),
		RedisAddr:         v.GetString(KeyRedisAddr),
		RedisPassword:     v.GetString(KeyRedisPassword),
		RedisDB:           v.GetInt(KeyRedisDB),
		BusBackend:        strings.ToLower(v.GetString(KeyBusBackend)),
		NatsURL:           v.GetString(KeyNatsURL),
		PresenceWindow:    v.GetDuration(KeyPresenceWindow),
		HeartbeatInterval: v.GetDuration(KeyHeartbeatInterval),
		MaxMessageLength:  v.GetInt(KeyMaxMessageLength),
		RunMigrations:     v.GetBool(KeyRunMigrations),
		APIMaxInflight:    v.GetInt(KeyAPIMaxInflight),
	}

	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	secret := v.GetString(KeySigningKey)
	if secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	key, err := decodeSigningSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	cfg.SigningKey = key

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	switch cfg.BusBackend {
	case BusRedis:
	case BusNats:
		if cfg.NatsURL == "" {
			return nil, fmt.Errorf("nats url is required for the nats bus")
		}
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.BusBackend)
	}

	if cfg.PresenceWindow <= 0 || cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("presence window and heartbeat interval must be positive")
	}
	if cfg.HeartbeatInterval >= cfg.PresenceWindow {
		return nil, fmt.Errorf("heartbeat interval %s must be shorter than presence window %s",
			cfg.HeartbeatInterval, cfg.PresenceWindow)
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("max message length must be positive")
	}
	if cfg.APIMaxInflight <= 0 {
		return nil, fmt.Errorf("api max inflight must be positive")
	}

	return cfg, nil
}
