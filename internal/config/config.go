// Package config loads feedbridge configuration from a YAML file with
// FEEDBRIDGE_* environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates path segments, so FEEDBRIDGE_BOT__TESTING_MODE maps to
// bot.testing_mode.
const EnvPrefix = "FEEDBRIDGE_"

// Config holds all feedbridge configuration.
type Config struct {
	Channel   ChannelConfig   `koanf:"channel" yaml:"channel"`
	Bot       BotConfig       `koanf:"bot" yaml:"bot"`
	Assistant AssistantConfig `koanf:"assistant" yaml:"assistant"`
	Browser   BrowserConfig   `koanf:"browser" yaml:"browser"`
	Selectors SelectorConfig  `koanf:"selectors" yaml:"selectors"`
}

// ChannelConfig identifies the monitored channel.
type ChannelConfig struct {
	// URL is the channel page the browser navigates to.
	URL string `koanf:"url" yaml:"url"`

	// Key identifies the channel in the session store.
	Key string `koanf:"key" yaml:"key"`
}

// BotConfig controls message filtering and loop pacing.
type BotConfig struct {
	// Name is the bot's own display name; messages it authored are ignored.
	Name string `koanf:"name" yaml:"name"`

	// Filter restricts posting to messages mentioning this token.
	// Empty means every triggering message gets a posted reply.
	Filter string `koanf:"filter" yaml:"filter"`

	// ConversationMode resumes assistant sessions across messages.
	ConversationMode bool `koanf:"conversation_mode" yaml:"conversation_mode"`

	// TestingMode logs replies instead of posting them.
	TestingMode bool `koanf:"testing_mode" yaml:"testing_mode"`

	// StartupLimit governs the first poll: 0 skips all visible history,
	// N>0 processes the newest N messages, negative processes everything.
	StartupLimit int `koanf:"startup_limit" yaml:"startup_limit"`

	PollInterval     time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	ErrorBackoff     time.Duration `koanf:"error_backoff" yaml:"error_backoff"`
	ResponseDelay    time.Duration `koanf:"response_delay" yaml:"response_delay"`
	MaxMessageLength int           `koanf:"max_message_length" yaml:"max_message_length"`
}

// AssistantConfig configures the external assistant CLI.
type AssistantConfig struct {
	Binary      string        `koanf:"binary" yaml:"binary"`
	Model       string        `koanf:"model" yaml:"model"`
	MaxTurns    int           `koanf:"max_turns" yaml:"max_turns"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
	SessionFile string        `koanf:"session_file" yaml:"session_file"`
}

// BrowserConfig configures the Chrome instance.
type BrowserConfig struct {
	Bin               string        `koanf:"bin" yaml:"bin"`
	DebuggerURL       string        `koanf:"debugger_url" yaml:"debugger_url"`
	UserDataDir       string        `koanf:"user_data_dir" yaml:"user_data_dir"`
	Headless          bool          `koanf:"headless" yaml:"headless"`
	ViewportWidth     int           `koanf:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `koanf:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `koanf:"navigation_timeout" yaml:"navigation_timeout"`
}

// SelectorConfig overrides the DOM fallback selector lists. Empty lists keep
// the built-in defaults.
type SelectorConfig struct {
	Content   []string `koanf:"content" yaml:"content,omitempty"`
	Container []string `koanf:"container" yaml:"container,omitempty"`
	Username  []string `koanf:"username" yaml:"username,omitempty"`
	Quote     []string `koanf:"quote" yaml:"quote,omitempty"`
	Timestamp []string `koanf:"timestamp" yaml:"timestamp,omitempty"`
	Input     []string `koanf:"input" yaml:"input,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Key: "general",
		},
		Bot: BotConfig{
			Name:             "FeedBridge",
			ConversationMode: true,
			StartupLimit:     0,
			PollInterval:     5 * time.Second,
			ErrorBackoff:     30 * time.Second,
			ResponseDelay:    time.Second,
			MaxMessageLength: 2000,
		},
		Assistant: AssistantConfig{
			Binary:      "claude",
			Timeout:     5 * time.Minute,
			SessionFile: "sessions.json",
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    900,
			NavigationTimeout: 30 * time.Second,
		},
	}
}

// Load reads the config file (if present) and applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// envKey maps FEEDBRIDGE_BOT__POLL_INTERVAL to bot.poll_interval.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration as YAML. Duration fields are rewritten from
// yaml.v3's integer nanoseconds into their string form so the file stays
// hand-editable; Load accepts either form.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var root yamlv3.Node
	if err := root.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	stringifyDurations(&root)

	data, err := yamlv3.Marshal(&root)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// durationKeys are the config fields typed time.Duration.
var durationKeys = map[string]bool{
	"poll_interval":      true,
	"error_backoff":      true,
	"response_delay":     true,
	"timeout":            true,
	"navigation_timeout": true,
}

// stringifyDurations replaces integer nanosecond scalars under duration keys
// with their time.Duration string form, e.g. 5000000000 → 5s.
func stringifyDurations(n *yamlv3.Node) {
	if n.Kind == yamlv3.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && val.Kind == yamlv3.ScalarNode {
				if ns, err := strconv.ParseInt(val.Value, 10, 64); err == nil {
					val.SetString(time.Duration(ns).String())
				}
				continue
			}
			stringifyDurations(val)
		}
		return
	}
	for _, child := range n.Content {
		stringifyDurations(child)
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Channel.URL == "" {
		return fmt.Errorf("channel.url not configured (set FEEDBRIDGE_CHANNEL__URL or edit the config file)")
	}
	if c.Channel.Key == "" {
		return fmt.Errorf("channel.key not configured")
	}
	if c.Bot.Name == "" {
		return fmt.Errorf("bot.name not configured")
	}
	if c.Assistant.Binary == "" {
		return fmt.Errorf("assistant.binary not configured")
	}
	if c.Bot.MaxMessageLength <= 0 {
		return fmt.Errorf("bot.max_message_length must be positive, got %d", c.Bot.MaxMessageLength)
	}
	return nil
}

// PollInterval returns the poll interval with a sane floor.
func (c *Config) PollInterval() time.Duration {
	if c.Bot.PollInterval <= 0 {
		return 5 * time.Second
	}
	return c.Bot.PollInterval
}

// ErrorBackoff returns the error backoff interval with a sane floor.
func (c *Config) ErrorBackoff() time.Duration {
	if c.Bot.ErrorBackoff <= 0 {
		return 30 * time.Second
	}
	return c.Bot.ErrorBackoff
}

// AssistantTimeout returns the per-invocation assistant timeout.
func (c *Config) AssistantTimeout() time.Duration {
	if c.Assistant.Timeout <= 0 {
		return 5 * time.Minute
	}
	return c.Assistant.Timeout
}

// NavigationTimeout returns the page navigation and readiness timeout with a
// sane floor.
func (c *Config) NavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.Browser.NavigationTimeout
}
