package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "FeedBridge", cfg.Bot.Name)
	require.True(t, cfg.Bot.ConversationMode)
	require.Zero(t, cfg.Bot.StartupLimit)
	require.Equal(t, 5*time.Second, cfg.Bot.PollInterval)
	require.Equal(t, 2000, cfg.Bot.MaxMessageLength)
	require.Equal(t, "claude", cfg.Assistant.Binary)
	require.Equal(t, "sessions.json", cfg.Assistant.SessionFile)
	require.True(t, cfg.Browser.Headless)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "FeedBridge", cfg.Bot.Name)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
channel:
  url: https://example.com/channels/1/2
  key: support
bot:
  name: Helper
  poll_interval: 10s
  startup_limit: 5
selectors:
  content:
    - div.msg-body
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/channels/1/2", cfg.Channel.URL)
	require.Equal(t, "support", cfg.Channel.Key)
	require.Equal(t, "Helper", cfg.Bot.Name)
	require.Equal(t, 10*time.Second, cfg.Bot.PollInterval)
	require.Equal(t, 5, cfg.Bot.StartupLimit)
	require.Equal(t, []string{"div.msg-body"}, cfg.Selectors.Content)
	// Untouched sections keep their defaults.
	require.Equal(t, "claude", cfg.Assistant.Binary)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEEDBRIDGE_CHANNEL__URL", "https://example.com/feed")
	t.Setenv("FEEDBRIDGE_BOT__TESTING_MODE", "true")
	t.Setenv("FEEDBRIDGE_ASSISTANT__MODEL", "opus")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/feed", cfg.Channel.URL)
	require.True(t, cfg.Bot.TestingMode)
	require.Equal(t, "opus", cfg.Assistant.Model)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bot:\n  name: FromFile\n"), 0o644))
	t.Setenv("FEEDBRIDGE_BOT__NAME", "FromEnv")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "FromEnv", cfg.Bot.Name)
}

func TestEnvKeyMapping(t *testing.T) {
	require.Equal(t, "bot.poll_interval", envKey("FEEDBRIDGE_BOT__POLL_INTERVAL"))
	require.Equal(t, "channel.url", envKey("FEEDBRIDGE_CHANNEL__URL"))
	require.Equal(t, "bot.max_message_length", envKey("FEEDBRIDGE_BOT__MAX_MESSAGE_LENGTH"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := Default()
	want.Channel.URL = "https://example.com/x"
	want.Bot.Filter = "nerd"
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want.Channel.URL, got.Channel.URL)
	require.Equal(t, "nerd", got.Bot.Filter)
	require.Equal(t, want.Bot.PollInterval, got.Bot.PollInterval)
}

func TestSaveWritesReadableDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Default().Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	require.Contains(t, body, "poll_interval: 5s")
	require.Contains(t, body, "error_backoff: 30s")
	require.Contains(t, body, "response_delay: 1s")
	require.Contains(t, body, "timeout: 5m0s")
	require.Contains(t, body, "navigation_timeout: 30s")
	require.NotContains(t, body, "5000000000")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Channel.URL = "https://example.com/x"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.Channel.URL = "" }, "channel.url"},
		{"missing key", func(c *Config) { c.Channel.Key = "" }, "channel.key"},
		{"missing bot name", func(c *Config) { c.Bot.Name = "" }, "bot.name"},
		{"missing binary", func(c *Config) { c.Assistant.Binary = "" }, "assistant.binary"},
		{"bad max length", func(c *Config) { c.Bot.MaxMessageLength = -1 }, "max_message_length"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDurationFloors(t *testing.T) {
	cfg := Default()
	cfg.Bot.PollInterval = 0
	cfg.Bot.ErrorBackoff = -time.Second
	cfg.Assistant.Timeout = 0
	cfg.Browser.NavigationTimeout = 0

	require.Equal(t, 5*time.Second, cfg.PollInterval())
	require.Equal(t, 30*time.Second, cfg.ErrorBackoff())
	require.Equal(t, 5*time.Minute, cfg.AssistantTimeout())
	require.Equal(t, 30*time.Second, cfg.NavigationTimeout())
}
