package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "c29tZV9zZWNyZXQ="

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeySigningKey, testKey)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", cfg.ServerAddr)
	assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
	assert.Equal(t, BusRedis, cfg.BusBackend)
	assert.Equal(t, 120*time.Second, cfg.PresenceWindow)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2000, cfg.MaxMessageLength)
	assert.False(t, cfg.RunMigrations)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEOCHAT_ADDR", ":9000")
	t.Setenv("GEOCHAT_BUS", "NATS")
	t.Setenv("GEOCHAT_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("GEOCHAT_PRESENCE_WINDOW", "90s")
	t.Setenv("GEOCHAT_MIGRATE", "true")

	cfg, err := Load(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, BusNats, cfg.BusBackend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.PresenceWindow)
	assert.True(t, cfg.RunMigrations)
}

func TestLoadValidation(t *testing.T) {
	tcases := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "empty address", overrides: map[string]any{KeyServerAddr: ""}},
		{name: "empty DSN", overrides: map[string]any{KeyDatabaseDSN: ""}},
		{name: "empty signing key", overrides: map[string]any{KeySigningKey: ""}},
		{name: "invalid signing key", overrides: map[string]any{KeySigningKey: "invalid_base64"}},
		{name: "empty redis address", overrides: map[string]any{KeyRedisAddr: ""}},
		{name: "unknown bus", overrides: map[string]any{KeyBusBackend: "kafka"}},
		{name: "nats without url", overrides: map[string]any{KeyBusBackend: BusNats, KeyNatsURL: ""}},
		{name: "heartbeat longer than window", overrides: map[string]any{KeyHeartbeatInterval: 3 * time.Minute}},
		{name: "zero window", overrides: map[string]any{KeyPresenceWindow: 0}},
		{name: "zero message length", overrides: map[string]any{KeyMaxMessageLength: 0}},
		{name: "zero api inflight", overrides: map[string]any{KeyAPIMaxInflight: 0}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(newViper(tc.overrides))
			assert.Error(t, err, "expected error for config: %s", tc.name)
		})
	}
}

func TestLoadRequiresSigningKey(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	_, err := Load(v)
	assert.Error(t, err, "there is no default signing key")
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
