package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DIFY_API_KEY":      "app-key",
		"DIFY_API_ENDPOINT": "https://dify.example.com/v1/",
		"FEISHU_APP_ID":     "cli_123",
		"FEISHU_APP_SECRET": "secret",
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "app-key", cfg.DifyAPIKey)
	assert.Equal(t, "https://dify.example.com/v1", cfg.DifyAPIEndpoint)
	assert.Equal(t, "https://open.feishu.cn", cfg.FeishuBaseURL)
	assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.DifyTimeout)
	assert.Equal(t, 10*time.Minute, cfg.DedupeTTL)
	assert.False(t, cfg.DedupeEvents)
	assert.True(t, cfg.Streaming())
	assert.Empty(t, cfg.FallbackMessage)
}

func TestLoadFrom_MissingCredential(t *testing.T) {
	for _, key := range []string{"DIFY_API_KEY", "DIFY_API_ENDPOINT", "FEISHU_APP_ID", "FEISHU_APP_SECRET"} {
		t.Run(key, func(t *testing.T) {
			environ := baseEnv()
			delete(environ, key)

			_, err := LoadFrom(environ)
			require.Error(t, err)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadFrom_EmptyCredential(t *testing.T) {
	environ := baseEnv()
	environ["FEISHU_APP_SECRET"] = ""

	_, err := LoadFrom(environ)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEISHU_APP_SECRET")
}

func TestLoadFrom_Overrides(t *testing.T) {
	environ := baseEnv()
	environ["DIFY_RESPONSE_MODE"] = "blocking"
	environ["DIFY_TIMEOUT"] = "5s"
	environ["DEDUPE_EVENTS"] = "true"
	environ["FALLBACK_MESSAGE"] = "sorry"
	environ["FEISHU_BASE_URL"] = "http://127.0.0.1:9999/"

	cfg, err := LoadFrom(environ)
	require.NoError(t, err)

	assert.False(t, cfg.Streaming())
	assert.Equal(t, 5*time.Second, cfg.DifyTimeout)
	assert.True(t, cfg.DedupeEvents)
	assert.Equal(t, "sorry", cfg.FallbackMessage)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.FeishuBaseURL)
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"response mode", "DIFY_RESPONSE_MODE", "chunked"},
		{"log level", "LOG_LEVEL", "loud"},
		{"timeout", "DIFY_TIMEOUT", "0s"},
		{"duration syntax", "FEISHU_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := baseEnv()
			environ[tt.key] = tt.value

			_, err := LoadFrom(environ)
			var cfgErr *ConfigError
			require.Error(t, err)
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}
