package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("RECIPE_ENGINE_HOME", home)
	for _, b := range envBindings {
		t.Setenv(b.name, "")
	}
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:4200", cfg.BaseURL)
	assert.Equal(t, "libsql", cfg.Database.Driver)
	assert.Equal(t, "file:"+filepath.Join(home, "recipe-engine.db"), cfg.Database.DSN)
	assert.Equal(t, 30, cfg.RunTimeoutMinutes)
	assert.Equal(t, 500, cfg.Limits.MaxText)
	assert.Equal(t, 5000, cfg.Limits.MaxTextarea)
	assert.Equal(t, "simulated", cfg.Providers.Text)
}

func TestLoadConfigLayering(t *testing.T) {
	home := isolateEnv(t)
	settings := `
listen_addr: ":9000"
log_level: debug
run_timeout_minutes: 45
pool:
  workers: 8
providers:
  text: openai
  openai_api_key: from-file
limits:
  max_text: 200
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "settings.yaml"), []byte(settings), 0o600))
	t.Setenv("RECIPE_POOL_WORKERS", "2")
	t.Setenv("RECIPE_BASE_URL", "https://recipes.example.com/")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45, cfg.RunTimeoutMinutes)
	assert.Equal(t, 2, cfg.Pool.Workers, "env wins over file")
	assert.Equal(t, 64, cfg.Pool.QueueDepth, "defaults survive a partial file")
	assert.Equal(t, "from-file", cfg.Providers.OpenAIAPIKey)
	assert.Equal(t, 200, cfg.Limits.MaxText)
	assert.Equal(t, "https://recipes.example.com", cfg.BaseURL)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"RECIPE_DB_DRIVER": "mysql"}, "Driver"},
		{"gemini without key", map[string]string{"RECIPE_TEXT_PROVIDER": "gemini"}, "GoogleAPIKey"},
		{"http media without url", map[string]string{"RECIPE_MEDIA_PROVIDER": "http"}, "MediaBaseURL"},
		{"zero workers", map[string]string{"RECIPE_POOL_WORKERS": "0"}, "Workers"},
		{"bad integer", map[string]string{"RECIPE_RUN_TIMEOUT_MINUTES": "soon"}, "RECIPE_RUN_TIMEOUT_MINUTES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	isolateEnv(t)
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDiffConfigs(t *testing.T) {
	isolateEnv(t)
	old := defaultConfig()
	next := old
	next.LogLevel = "debug"
	next.Pool.Workers = 12
	next.ReaperCron = "*/10 * * * *"

	d := diffConfigs(old, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"pool", "scheduler"}, d.RestartNeeded)

	assert.Empty(t, diffConfigs(old, old).RestartNeeded)
}

func TestNewAppWiresSimulatedStack(t *testing.T) {
	home := isolateEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.shutdown()

	assert.NotNil(t, a.local)
	assert.Equal(t, filepath.Join(home, "assets"), a.local.Dir())
	assert.Positive(t, a.registry.Count(false))
	assert.Greater(t, a.registry.Count(true), a.registry.Count(false), "inactive stubs are registered")

	lib, err := a.engine.Library(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.registry.Count(false), lib.ActiveCount)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version, strings.TrimSpace(out.String()))
}
