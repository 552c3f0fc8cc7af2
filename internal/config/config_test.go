package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(kv map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range kv {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"API_BASE_URL": "http://backend:8000/",
		"WS_URL":       "ws://backend:8000/ws",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8000", cfg.APIBaseURL)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Zero(t, cfg.APITimeout)
	assert.Equal(t, 5*time.Minute, cfg.DeviceRefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.PredictionInterval)
	assert.Equal(t, 15*time.Minute, cfg.AlertsPageInterval)
	assert.Equal(t, 50, cfg.PredictionLimit)
	assert.Equal(t, 5*time.Second, cfg.AlertReconnectDelay)
	assert.Equal(t, "ups/alerts", cfg.MQTTAlertTopic)
	assert.False(t, cfg.UseCloudServices)
}

func TestMissingURLsAreFatal(t *testing.T) {
	_, err := fromViper(newViper(map[string]any{"WS_URL": "ws://x"}))
	assert.ErrorIs(t, err, ErrMissingAPIBaseURL)

	_, err = fromViper(newViper(map[string]any{"API_BASE_URL": "http://x"}))
	assert.ErrorIs(t, err, ErrMissingWSURL)
}

func TestRejectsNonPositiveCadence(t *testing.T) {
	_, err := fromViper(newViper(map[string]any{
		"API_BASE_URL":            "http://x",
		"WS_URL":                  "ws://x",
		"DEVICE_REFRESH_INTERVAL": "0s",
	}))
	assert.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_BASE_URL=http://from-file\nWS_URL=ws://from-file/ws\nPREDICTION_LIMIT=25\n"), 0o600))
	for _, k := range []string{"API_BASE_URL", "WS_URL", "PREDICTION_LIMIT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-file", cfg.APIBaseURL)
	assert.Equal(t, 25, cfg.PredictionLimit)
}
