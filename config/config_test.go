package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/rewards"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValidAndMatchesRules(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	want := rewards.DefaultRules()
	got := cfg.Rules.Rules()
	assert.Equal(t, want.BaseCompletion, got.BaseCompletion)
	assert.Equal(t, want.DailyLogin, got.DailyLogin)
	assert.True(t, want.HardMultiplier.Equal(got.HardMultiplier))
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A TOML file and an environment override
	// WHEN: Loading
	// THEN: The env value wins, the file fills the rest
	path := writeFile(t, `
[server]
addr = ":9000"
read_timeout = "3s"
cors_origins = ["https://a.example", "https://b.example"]

[storage]
driver = "bolt"
path = "/tmp/points.bolt"

[ledger]
timezone = "Europe/Paris"
history_limit = 25

[audit]
enabled = true
interval = "10m"

[rules]
daily_login = 7
hard_multiplier = 2.0
`)
	t.Setenv("POINTS_SERVER_ADDR", ":9999")
	t.Setenv("POINTS_RULES_BASE_COMPLETION", "12")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "default kept")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, config.DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, 25, cfg.Ledger.HistoryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Audit.Interval)

	rules := cfg.Rules.Rules()
	assert.Equal(t, int64(12), rules.BaseCompletion)
	assert.Equal(t, int64(7), rules.DailyLogin)
	assert.Equal(t, "2", rules.HardMultiplier.String())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("POINTS_SERVER_CORS_ORIGINS", "https://x.example,https://y.example")
	t.Setenv("POINTS_STORAGE_DRIVER", "memory")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.example", "https://y.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown driver", body: "[storage]\ndriver = \"postgres\"\n"},
		{name: "bad timezone", body: "[ledger]\ntimezone = \"Mars/Olympus\"\n"},
		{name: "unknown key", body: "[server]\nport = 8080\n"},
		{name: "negative rule", body: "[rules]\ndaily_login = -5\n"},
		{name: "multiplier below one", body: "[rules]\nhard_multiplier = 0.5\n"},
		{name: "history limit too large", body: "[ledger]\nhistory_limit = 10000\n"},
		{name: "bad log level", body: "[log]\nlevel = \"loud\"\n"},
		{name: "bad env value", body: "", env: map[string]string{"POINTS_LEDGER_HISTORY_LIMIT": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLogConfig(t *testing.T) {
	lvl, err := config.LogConfig{Level: "debug"}.ParseLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	logger, err := config.LogConfig{Level: "warn", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
