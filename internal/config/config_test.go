package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
data_dir: /tmp/conserje-test
log:
  level: debug
intake:
  place_prompt_cooldown: 30s
areas:
  - code: man
    name: Mantenimiento
    keywords: [aire, fuga]
    destinations: ["telegram:-100"]
  - code: it
    name: Sistemas
    folio_prefix: SIS
llm:
  api_key: ${CONSERJE_TEST_KEY}
`

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndFile(t *testing.T) {
	t.Setenv("CONSERJE_TEST_KEY", "sk-from-env-1234")
	path := writeYAML(t, testYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/conserje-test", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Intake.PlacePromptCooldown)
	assert.Equal(t, 10*time.Second, cfg.Intake.MediaBatchWindow)
	assert.Equal(t, 10, cfg.Intake.MaxPendingMedia)
	assert.Equal(t, 2*time.Hour, cfg.Intake.SessionIdleTTL)
	assert.Equal(t, "@every 10m", cfg.Intake.SweepSchedule)
	assert.Equal(t, BackendMemory, cfg.Storage.Sessions)
	assert.Equal(t, BackendFile, cfg.Storage.Incidents)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)

	require.Len(t, cfg.Areas, 2)
	assert.Equal(t, []string{"aire", "fuga"}, cfg.Areas[0].Keywords)
	assert.Equal(t, "SIS", cfg.Areas[1].FolioPrefix)
	assert.Equal(t, "sk-from-env-1234", cfg.LLM.APIKey)
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("CONSERJE_LOG_LEVEL", "warn")
	t.Setenv("CONSERJE_MAX_CONCURRENT", "9")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	path := writeYAML(t, testYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9, cfg.MaxConcurrent)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			MaxConcurrent: 1,
			Log:           LogConfig{Level: "info"},
			Storage:       StorageConfig{Sessions: BackendMemory, Incidents: BackendFile},
			Areas:         []AreaConfig{{Code: "man"}},
		}
	}

	require.NoError(t, Validate(base()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no areas", func(c *Config) { c.Areas = nil }, "no areas configured"},
		{"duplicate code", func(c *Config) { c.Areas = append(c.Areas, AreaConfig{Code: "MAN"}) }, "duplicate code"},
		{"unknown sessions backend", func(c *Config) { c.Storage.Sessions = "etcd" }, "unknown storage.sessions"},
		{"redis without address", func(c *Config) { c.Storage.Sessions = BackendRedis }, "redis.address"},
		{"postgres without host", func(c *Config) { c.Storage.Incidents = BackendPostgres }, "postgres.host"},
		{"search without es", func(c *Config) { c.Storage.SearchIndex = true }, "elasticsearch.addresses"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsMissingAreas(t *testing.T) {
	_, err := Load(writeYAML(t, "log:\n  level: info\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no areas configured")
}

func TestSetGetValue(t *testing.T) {
	path := writeYAML(t, testYAML)

	require.NoError(t, SetValue(path, "intake.max_history", "50"))
	require.NoError(t, SetValue(path, "telegram.token", "999:xyz"))

	v, err := GetValue(path, "intake.max_history")
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Intake.MaxHistory)
	assert.Equal(t, "999:xyz", cfg.Telegram.Token)
	assert.Equal(t, 30*time.Second, cfg.Intake.PlacePromptCooldown)

	_, err = GetValue(path, "nope.missing")
	assert.Error(t, err)
}

func TestListValuesMasksSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.APIKey = "sk-abcdef9876"
	cfg.Postgres.Password = "hunter2hunter"
	cfg.Log.Level = "info"

	values, err := ListValues(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "***9876", values["llm.api_key"])
	assert.Equal(t, "***nter", values["postgres.password"])
	assert.Equal(t, "info", values["log.level"])

	raw, err := ListValues(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdef9876", raw["llm.api_key"])
}

func TestDefaultsAreUnvalidated(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	assert.Empty(t, cfg.Areas)
	assert.Equal(t, BackendMemory, cfg.Storage.Sessions)
	assert.Equal(t, 2*time.Hour, cfg.Intake.SessionIdleTTL)
	assert.Error(t, Validate(cfg))
}
