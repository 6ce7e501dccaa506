package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testNonce = "000000000000004a00000000"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "cache", cfg.Player.CacheDir)
	assert.Equal(t, int64(0), cfg.Player.MaxCacheBytes())
	assert.Equal(t, 256, cfg.Player.EventBuffer)
	assert.Equal(t, 2, cfg.Engine.LoaderWorkers)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, "none", cfg.Engine.Output)
	assert.Equal(t, 8*time.Second, cfg.HTTP.ConnectTimeout)
	assert.Equal(t, "trackbridge", cfg.HTTP.UserAgent)
	assert.Equal(t, 64, cfg.Broker.MaxPending)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParse(t *testing.T) {
	data := []byte(`
server:
  addr: 127.0.0.1:9090
  token: secret
player:
  cache_dir: /var/cache/trackbridge
  max_cache_kib: 2048
  rating_type: 4
engine:
  tick_interval: 50ms
  output: speaker
decryption:
  enabled: true
  key: ` + testKey + `
  nonce: ` + testNonce + `
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_seconds: 600
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.Token)
	assert.Equal(t, int64(2048*1024), cfg.Player.MaxCacheBytes())
	assert.Equal(t, 4, cfg.Player.RatingType)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, "speaker", cfg.Engine.Output)
	assert.True(t, cfg.Decryption.Enabled)
	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("scheme_filter"))
	assert.Equal(t, 600, cfg.Filters["duration_limit_filter"].Settings["max_seconds"])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad output", "engine: {output: alsa}"},
		{"bad rating type", "player: {rating_type: 9}"},
		{"negative cache", "player: {max_cache_kib: -1}"},
		{"bad level", "logging: {level: loud}"},
		{"decryption without key", "decryption: {enabled: true, nonce: " + testNonce + "}"},
		{"short key", "decryption: {enabled: true, key: abcd, nonce: " + testNonce + "}"},
		{"not yaml", "server: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("TRACKBRIDGE_TOKEN", "from-env")
	t.Setenv("TRACKBRIDGE_DECRYPT_KEY", testKey)

	cfg, err := Parse([]byte("server: {token: from-file}\ndecryption: {enabled: true, nonce: " + testNonce + "}"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, testKey, cfg.Decryption.Key)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: {level: info}"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging: {level: loud}"), 0o644))
	time.Sleep(2 * settle)
	require.NoError(t, os.WriteFile(path, []byte("logging: {level: debug}"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, "debug", c.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	assert.NoError(t, <-done)
}
