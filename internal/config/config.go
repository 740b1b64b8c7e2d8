// Package config provides configuration types, defaults, and persistence for ductor.
package config

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Known provider names. Providers register their clients at init time; the
// config layer only validates against this fixed set.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderGemini = "gemini"
)

// Config holds all daemon configuration. Loaded from config.json under the
// ductor home directory; missing keys are filled from defaults and written
// back so the file always shows the full surface.
type Config struct {
	Provider         string   `mapstructure:"provider"`          // claude (default), codex, gemini
	Model            string   `mapstructure:"model"`             // default model alias, e.g. "opus"
	PermissionMode   string   `mapstructure:"permission_mode"`   // claude permission mode; bypassPermissions (default)
	CLITimeoutSecs   int      `mapstructure:"cli_timeout_secs"`  // per-invocation wall clock limit
	ReasoningEffort  string   `mapstructure:"reasoning_effort"`  // codex only: low, medium (default), high
	SupportedEfforts []string `mapstructure:"supported_efforts"` // accepted reasoning efforts
	Timezone         string   `mapstructure:"timezone"`          // IANA name; empty falls back to TZ / /etc/localtime / UTC
	LogLevel         string   `mapstructure:"log_level"`         // debug, info (default), warn, error
	DefaultWorkspace string   `mapstructure:"default_workspace"` // workdir for chats without an explicit workspace

	Session   SessionConfig         `mapstructure:"session"`
	Heartbeat HeartbeatConfig       `mapstructure:"heartbeat"`
	Cleanup   CleanupConfig         `mapstructure:"cleanup"`
	Webhook   WebhookConfig         `mapstructure:"webhook"`
	Tracing   TracingConfig         `mapstructure:"tracing"`
	Chats     map[string]ChatConfig `mapstructure:"chats"` // keyed by decimal chat ID
}

// SessionConfig controls session freshness and rotation.
type SessionConfig struct {
	MaxMessages        int              `mapstructure:"max_messages"`         // rotate after this many messages
	IdleTimeoutMinutes int              `mapstructure:"idle_timeout_minutes"` // rotate after this much idle time
	AgeWarningHours    int              `mapstructure:"age_warning_hours"`    // long-session footer threshold
	DailyReset         DailyResetConfig `mapstructure:"daily_reset"`
}

// DailyResetConfig rotates sessions at a fixed local hour once a day.
type DailyResetConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Hour    int  `mapstructure:"hour"` // 0-23 local time
}

// HeartbeatConfig controls the periodic check-in observer.
type HeartbeatConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	CooldownMinutes int    `mapstructure:"cooldown_minutes"` // suppress right after real traffic
	QuietStartHour  int    `mapstructure:"quiet_start_hour"`  // inclusive, local time
	QuietEndHour    int    `mapstructure:"quiet_end_hour"`    // exclusive, local time
	Prompt          string `mapstructure:"prompt"`
	AckToken        string `mapstructure:"ack_token"` // reply token meaning "nothing to report"
}

// CleanupConfig controls retention of downloaded and produced files.
type CleanupConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	DownloadsMaxAgeDays int  `mapstructure:"downloads_max_age_days"`
	OutputsMaxAgeDays   int  `mapstructure:"outputs_max_age_days"`
	CheckHour           int  `mapstructure:"check_hour"` // 0-23 local time
}

// WebhookConfig controls the inbound HTTP listener.
type WebhookConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`
	RatePerMinute int    `mapstructure:"rate_per_minute"` // default per-hook limit
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp". Default: "stdout".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: <home>/traces.jsonl (resolved at startup when empty).
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ChatConfig binds a chat to a workspace and, optionally, a docker container
// inside which the provider CLI runs.
type ChatConfig struct {
	Workspace string `mapstructure:"workspace"`
	Container string `mapstructure:"container"`
}

// Defaults returns the configuration used when config.json is absent.
func Defaults() Config {
	return Config{
		Provider:         ProviderClaude,
		Model:            "opus",
		PermissionMode:   "bypassPermissions",
		CLITimeoutSecs:   600,
		ReasoningEffort:  "medium",
		SupportedEfforts: []string{"low", "medium", "high"},
		Timezone:         "",
		LogLevel:         "info",
		DefaultWorkspace: "",
		Session: SessionConfig{
			MaxMessages:        50,
			IdleTimeoutMinutes: 1440,
			AgeWarningHours:    12,
			DailyReset:         DailyResetConfig{Enabled: false, Hour: 4},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
			CooldownMinutes: 5,
			QuietStartHour:  21,
			QuietEndHour:    8,
			Prompt:          "Automated heartbeat. Review anything left pending since the last message. If nothing needs attention, reply with exactly HEARTBEAT_OK.",
			AckToken:        "HEARTBEAT_OK",
		},
		Cleanup: CleanupConfig{
			Enabled:             false,
			DownloadsMaxAgeDays: 30,
			OutputsMaxAgeDays:   30,
			CheckHour:           3,
		},
		Webhook: WebhookConfig{
			Enabled:       false,
			Host:          "127.0.0.1",
			Port:          8742,
			MaxBodyBytes:  262144,
			RatePerMinute: 30,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Chats: map[string]ChatConfig{},
	}
}

// CLITimeout returns the per-invocation limit as a duration.
func (c *Config) CLITimeout() time.Duration {
	return time.Duration(c.CLITimeoutSecs) * time.Second
}

// Chat returns the chat-specific settings, zero-valued when unconfigured.
func (c *Config) Chat(chatID int64) ChatConfig {
	if c.Chats == nil {
		return ChatConfig{}
	}
	return c.Chats[strconv.FormatInt(chatID, 10)]
}

// WorkspaceFor resolves the working directory for a chat.
func (c *Config) WorkspaceFor(chatID int64) string {
	if cc := c.Chat(chatID); cc.Workspace != "" {
		return cc.Workspace
	}
	return c.DefaultWorkspace
}

// IdleTimeout returns the session idle limit as a duration.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// AgeWarning returns the long-session threshold as a duration.
func (s SessionConfig) AgeWarning() time.Duration {
	return time.Duration(s.AgeWarningHours) * time.Hour
}

// Interval returns the heartbeat period as a duration.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMinutes) * time.Minute
}

// Cooldown returns the post-traffic suppression window as a duration.
func (h HeartbeatConfig) Cooldown() time.Duration {
	return time.Duration(h.CooldownMinutes) * time.Minute
}

// QuietHoursDisabled reports whether the quiet window is a no-op.
// Start equal to end means the window never matches.
func (h HeartbeatConfig) QuietHoursDisabled() bool {
	return h.QuietStartHour == h.QuietEndHour
}

// InQuietHours reports whether the given hour falls inside the quiet window.
// The window may wrap around midnight (e.g. 21 -> 8).
func (h HeartbeatConfig) InQuietHours(hour int) bool {
	if h.QuietHoursDisabled() {
		return false
	}
	if h.QuietStartHour < h.QuietEndHour {
		return hour >= h.QuietStartHour && hour < h.QuietEndHour
	}
	return hour >= h.QuietStartHour || hour < h.QuietEndHour
}

// Addr returns the listen address for the webhook server.
func (w WebhookConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

var knownProviders = []string{ProviderClaude, ProviderCodex, ProviderGemini}

var knownPermissionModes = []string{"default", "plan", "acceptEdits", "bypassPermissions"}

var knownExporters = []string{"none", "file", "stdout", "otlp"}

// Validate checks the configuration for errors. Invalid configuration fails
// daemon startup; observers never see an unvalidated snapshot.
func (c *Config) Validate() error {
	if !slices.Contains(knownProviders, c.Provider) {
		return fmt.Errorf("provider: unknown provider %q (must be one of %v)", c.Provider, knownProviders)
	}
	if !slices.Contains(knownPermissionModes, c.PermissionMode) {
		return fmt.Errorf("permission_mode: invalid mode %q (must be one of %v)", c.PermissionMode, knownPermissionModes)
	}
	if c.CLITimeoutSecs < 1 {
		return fmt.Errorf("cli_timeout_secs: must be positive, got %d", c.CLITimeoutSecs)
	}
	if len(c.SupportedEfforts) > 0 && !slices.Contains(c.SupportedEfforts, c.ReasoningEffort) {
		return fmt.Errorf("reasoning_effort: %q not in supported_efforts %v", c.ReasoningEffort, c.SupportedEfforts)
	}
	if err := c.Session.validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Heartbeat.validate(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if err := c.Cleanup.validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if err := c.Webhook.validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if err := c.Tracing.validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

func (s SessionConfig) validate() error {
	if s.MaxMessages < 1 {
		return fmt.Errorf("max_messages: must be positive, got %d", s.MaxMessages)
	}
	if s.IdleTimeoutMinutes < 1 {
		return fmt.Errorf("idle_timeout_minutes: must be positive, got %d", s.IdleTimeoutMinutes)
	}
	if s.AgeWarningHours < 0 {
		return fmt.Errorf("age_warning_hours: must not be negative, got %d", s.AgeWarningHours)
	}
	if err := validHour(s.DailyReset.Hour); err != nil {
		return fmt.Errorf("daily_reset.hour: %w", err)
	}
	return nil
}

func (h HeartbeatConfig) validate() error {
	if h.IntervalMinutes < 1 {
		return fmt.Errorf("interval_minutes: must be positive, got %d", h.IntervalMinutes)
	}
	if h.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes: must not be negative, got %d", h.CooldownMinutes)
	}
	if err := validHour(h.QuietStartHour); err != nil {
		return fmt.Errorf("quiet_start_hour: %w", err)
	}
	if err := validHour(h.QuietEndHour); err != nil {
		return fmt.Errorf("quiet_end_hour: %w", err)
	}
	return nil
}

func (cl CleanupConfig) validate() error {
	if cl.DownloadsMaxAgeDays < 1 {
		return fmt.Errorf("downloads_max_age_days: must be positive, got %d", cl.DownloadsMaxAgeDays)
	}
	if cl.OutputsMaxAgeDays < 1 {
		return fmt.Errorf("outputs_max_age_days: must be positive, got %d", cl.OutputsMaxAgeDays)
	}
	if err := validHour(cl.CheckHour); err != nil {
		return fmt.Errorf("check_hour: %w", err)
	}
	return nil
}

func (w WebhookConfig) validate() error {
	if w.Host == "" {
		return fmt.Errorf("host: must not be empty")
	}
	if w.Port < 1 || w.Port > 65535 {
		return fmt.Errorf("port: out of range, got %d", w.Port)
	}
	if w.MaxBodyBytes < 1 {
		return fmt.Errorf("max_body_bytes: must be positive, got %d", w.MaxBodyBytes)
	}
	if w.RatePerMinute < 1 {
		return fmt.Errorf("rate_per_minute: must be positive, got %d", w.RatePerMinute)
	}
	return nil
}

func (t TracingConfig) validate() error {
	if !slices.Contains(knownExporters, t.Exporter) {
		return fmt.Errorf("exporter: invalid exporter %q (must be one of %v)", t.Exporter, knownExporters)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate: must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	return nil
}

func validHour(h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("hour out of range, got %d", h)
	}
	return nil
}
