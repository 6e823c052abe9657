package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
)

// clearEnv resets all recognised variables for the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, b := range envBindings {
		t.Setenv(b.name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shortcast.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
llm:
  api_key: llm-key
stock:
  api_key: stock-key
upload:
  client_secret: '{"installed":{}}'
paths:
  music: /srv/music
`

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, minimalConfig+`
store:
  path: /data/channels.db
schedule:
  interval_min: 20
  interval_max: 120
  lead: 5m
quotas:
  - provider: upload
    daily_limit: 20000
    timezone: America/New_York
channels:
  - id: space
    name: Space Facts
    theme: space exploration
    tone: curious
    style: cinematic
    format: B
    interval: 90
    region: GB
    apply_strategy: true
    dedup_window_days: 10
  - id: food
    theme: street food
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/data/channels.db", cfg.Store.Path)
		assert.Equal(t, 20, cfg.Schedule.IntervalMin)
		assert.Equal(t, 120, cfg.Schedule.IntervalMax)
		assert.Equal(t, 5*time.Minute, cfg.Schedule.Lead)

		require.Len(t, cfg.Quotas, 4, "missing providers added with defaults")
		assert.Equal(t, QuotaConfig{Provider: "upload", DailyLimit: 20000, Timezone: "America/New_York"}, cfg.Quotas[0])
		assert.Equal(t, domain.ProviderLLM, cfg.Quotas[1].Provider)

		require.Len(t, cfg.Channels, 2)
		assert.Equal(t, "Space Facts", cfg.Channels[0].Name)
		assert.Equal(t, "B", cfg.Channels[0].Format)
		assert.Equal(t, 90, cfg.Channels[0].Interval)
		require.NotNil(t, cfg.Channels[0].DedupWindowDays)
		assert.Equal(t, 10, *cfg.Channels[0].DedupWindowDays)

		// channel defaults
		assert.Equal(t, "food", cfg.Channels[1].Name)
		assert.Equal(t, "A", cfg.Channels[1].Format)
		assert.Equal(t, 60, cfg.Channels[1].Interval)
		assert.Equal(t, "food", cfg.Channels[1].Credential)
	})

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load(writeConfig(t, minimalConfig))
		require.NoError(t, err)

		assert.Equal(t, "./channels.db", cfg.Store.Path)
		assert.Equal(t, "./tmp", cfg.Paths.Temp)
		assert.Equal(t, "./output", cfg.Paths.Output)
		assert.Equal(t, "./tokens", cfg.Paths.Tokens)
		assert.Equal(t, 15, cfg.Schedule.IntervalMin)
		assert.Equal(t, 180, cfg.Schedule.IntervalMax)
		assert.Equal(t, 30, cfg.Schedule.DedupWindowDays)
		assert.InDelta(t, 0.6, cfg.Schedule.ConfidenceFloor, 0.0001)
		assert.Equal(t, 6, cfg.Feedback.CadenceHours)
		assert.Equal(t, 24, cfg.Feedback.StrategyRewriteHours)
		assert.Equal(t, 300, cfg.Health.IntervalSec)
		assert.Equal(t, 20, cfg.Health.FailureThreshold)
		assert.Equal(t, 30, cfg.Health.EventRetentionDays)
		assert.Equal(t, 1600, cfg.Upload.Units)
		assert.Equal(t, 10*time.Minute, cfg.Upload.Timeout)
		assert.Equal(t, "llm-key", cfg.TTS.APIKey, "tts key falls back to llm key")
		assert.Empty(t, cfg.Server.Listen, "control api disabled by default")
		assert.Empty(t, cfg.LLM.OllamaModel, "no ollama model without url")
		assert.Len(t, cfg.Quotas, 4)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LLM_API_KEY", "env-llm")
		t.Setenv("LLM_API_KEY_2", "env-llm-2")
		t.Setenv("DB_PATH", "/env/channels.db")
		t.Setenv("POSTING_INTERVAL_MAX", "200")
		t.Setenv("APPLY_STRATEGY_CONFIDENCE_FLOOR", "0.75")
		t.Setenv("BINARY_PATHS", "/opt/ffmpeg/bin: /usr/local/bin ::")
		t.Setenv("OLLAMA_URL", "http://localhost:11434")
		t.Setenv("LISTEN", "127.0.0.1:8080")
		cfg, err := Load(writeConfig(t, minimalConfig+"store:\n  path: /file/channels.db\n"))
		require.NoError(t, err)

		assert.Equal(t, "env-llm", cfg.LLM.APIKey)
		assert.Equal(t, "env-llm-2", cfg.LLM.APIKey2)
		assert.Equal(t, "/env/channels.db", cfg.Store.Path)
		assert.Equal(t, 200, cfg.Schedule.IntervalMax)
		assert.InDelta(t, 0.75, cfg.Schedule.ConfidenceFloor, 0.0001)
		assert.Equal(t, []string{"/opt/ffmpeg/bin", "/usr/local/bin"}, cfg.Binaries.Paths)
		assert.Equal(t, "llama3.1", cfg.LLM.OllamaModel)
		assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	})

	t.Run("environment only", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LLM_API_KEY", "k1")
		t.Setenv("STOCK_CLIP_API_KEY", "k2")
		t.Setenv("UPLOAD_CLIENT_SECRET", "{}")
		t.Setenv("MUSIC_LIBRARY_DIR", "/music")
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		assert.Equal(t, "/music", cfg.Paths.Music)

		cfg, err = Load("")
		require.NoError(t, err)
		assert.Equal(t, "k2", cfg.Stock.APIKey)
	})

	t.Run("yaml expands env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MY_STOCK_KEY", "expanded")
		cfg, err := Load(writeConfig(t, `
llm: {api_key: a}
stock: {api_key: "${MY_STOCK_KEY}"}
upload: {client_secret: s}
paths: {music: /m}
`))
		require.NoError(t, err)
		assert.Equal(t, "expanded", cfg.Stock.APIKey)
	})

	t.Run("bad env value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DEDUP_WINDOW_DAYS", "thirty")
		_, err := Load(writeConfig(t, minimalConfig))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEDUP_WINDOW_DAYS")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(writeConfig(t, "llm: [unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("unreadable path", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name   string
		extra  string
		noLLM  bool
		errMsg string
	}{
		{name: "missing llm key", noLLM: true, errMsg: "LLM_API_KEY"},
		{name: "interval range inverted", extra: "schedule: {interval_min: 100, interval_max: 50}",
			errMsg: "posting interval range"},
		{name: "interval above bound", extra: "schedule: {interval_max: 500}", errMsg: "posting interval range"},
		{name: "confidence floor", extra: "schedule: {confidence_floor: 1.5}", errMsg: "confidence floor"},
		{name: "bad timezone", extra: "quotas: [{provider: llm, daily_limit: 10, timezone: Mars/Olympus}]",
			errMsg: "quota llm"},
		{name: "negative quota", extra: "quotas: [{provider: stock, daily_limit: -1}]", errMsg: "daily limit"},
		{name: "channel without id", extra: "channels: [{theme: x}]", errMsg: "channel id is required"},
		{name: "duplicate channel", extra: "channels: [{id: a, theme: x}, {id: a, theme: y}]",
			errMsg: "duplicate channel a"},
		{name: "channel without theme", extra: "channels: [{id: a}]", errMsg: "theme is required"},
		{name: "channel format", extra: "channels: [{id: a, theme: x, format: Z}]", errMsg: "invalid format"},
		{name: "channel interval", extra: "channels: [{id: a, theme: x, interval: 5}]", errMsg: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			content := minimalConfig + tt.extra + "\n"
			if tt.noLLM {
				content = "stock: {api_key: s}\nupload: {client_secret: c}\npaths: {music: /m}\n"
			}
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestChannelConfig_Domain(t *testing.T) {
	days, floor := 7, 0.8
	cc := ChannelConfig{ID: "space", Name: "Space", Theme: "space", Tone: "calm", Style: "dark", Format: "C",
		Interval: 45, Credential: "acc1", Region: "DE", Language: "de", DedupWindowDays: &days,
		ApplyStrategy: true, ConfidenceFloor: &floor}

	ch := cc.Domain()
	assert.Equal(t, "space", ch.ID)
	assert.Equal(t, domain.Descriptor{Theme: "space", Tone: "calm", Style: "dark"}, ch.Descriptor)
	assert.Equal(t, domain.FormatTrend, ch.Format)
	assert.Equal(t, 45, ch.IntervalMinutes)
	assert.True(t, ch.Active)
	assert.Equal(t, "acc1", ch.CredentialID)
	assert.Equal(t, 7*24*time.Hour, ch.DedupWindow(30))
	assert.InDelta(t, 0.8, ch.ConfidenceFloor(0.6), 0.0001)
	assert.True(t, ch.Flags.ApplyStrategyAuto)
	assert.Equal(t, "DE", ch.Flags.Region)

	cc.Disabled = true
	assert.False(t, cc.Domain().Active)
	assert.Equal(t, domain.PauseManual, cc.Domain().PauseReason)
}

func TestConfig_SecretsAndChannel(t *testing.T) {
	cfg := &Config{Channels: []ChannelConfig{{ID: "a"}, {ID: "b", Theme: "bees"}}}
	cfg.LLM.APIKey = "k1"
	cfg.TTS.APIKey = "k1"
	cfg.Stock.APIKey = "k3"
	cfg.Upload.ClientSecret = "secret-json"

	assert.Equal(t, []string{"k1", "k1", "k3", "secret-json"}, cfg.Secrets())

	ch, ok := cfg.Channel("b")
	require.True(t, ok)
	assert.Equal(t, "bees", ch.Theme)
	_, ok = cfg.Channel("c")
	assert.False(t, ok)
}
