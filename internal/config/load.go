package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/ductor/ductor/internal/atomicfile"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/paths"
)

// Load reads config.json from the home directory, merging defaults under
// the user's settings. Missing keys (typically after an upgrade) are added
// and the merged file is written back atomically. Returns the validated
// config and the number of keys that were added.
func Load(home paths.Home) (*Config, int, error) {
	path := home.ConfigFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	applyDefaults(v)

	added := 0
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// First run: persist the full default surface.
		if err := atomicfile.WriteJSON(path, v.AllSettings()); err != nil {
			return nil, 0, fmt.Errorf("writing default config: %w", err)
		}
		added = len(defaultKeys(v))
		log.Info(log.CatConfig, "created default config", "path", path)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, 0, fmt.Errorf("reading config: %w", err)
	}

	if added == 0 {
		missing, err := missingDefaultKeys(path, v)
		if err != nil {
			return nil, 0, err
		}
		if missing > 0 {
			if err := atomicfile.WriteJSON(path, v.AllSettings()); err != nil {
				return nil, 0, fmt.Errorf("persisting merged config: %w", err)
			}
			log.Info(log.CatConfig, "merged new default keys into config", "added", missing)
			added = missing
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, added, nil
}

// missingDefaultKeys counts default keys absent from the file itself.
// A second viper instance without defaults sees only what the user has.
func missingDefaultKeys(path string, merged *viper.Viper) (int, error) {
	fileOnly := viper.New()
	fileOnly.SetConfigFile(path)
	fileOnly.SetConfigType("json")
	if err := fileOnly.ReadInConfig(); err != nil {
		return 0, fmt.Errorf("reading config: %w", err)
	}

	present := make(map[string]bool)
	for _, k := range fileOnly.AllKeys() {
		present[k] = true
	}

	missing := 0
	for _, k := range defaultKeys(merged) {
		if !present[k] {
			missing++
		}
	}
	return missing, nil
}

func defaultKeys(v *viper.Viper) []string {
	return v.AllKeys()
}

func applyDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("permission_mode", d.PermissionMode)
	v.SetDefault("cli_timeout_secs", d.CLITimeoutSecs)
	v.SetDefault("reasoning_effort", d.ReasoningEffort)
	v.SetDefault("supported_efforts", d.SupportedEfforts)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("default_workspace", d.DefaultWorkspace)

	v.SetDefault("session.max_messages", d.Session.MaxMessages)
	v.SetDefault("session.idle_timeout_minutes", d.Session.IdleTimeoutMinutes)
	v.SetDefault("session.age_warning_hours", d.Session.AgeWarningHours)
	v.SetDefault("session.daily_reset.enabled", d.Session.DailyReset.Enabled)
	v.SetDefault("session.daily_reset.hour", d.Session.DailyReset.Hour)

	v.SetDefault("heartbeat.enabled", d.Heartbeat.Enabled)
	v.SetDefault("heartbeat.interval_minutes", d.Heartbeat.IntervalMinutes)
	v.SetDefault("heartbeat.cooldown_minutes", d.Heartbeat.CooldownMinutes)
	v.SetDefault("heartbeat.quiet_start_hour", d.Heartbeat.QuietStartHour)
	v.SetDefault("heartbeat.quiet_end_hour", d.Heartbeat.QuietEndHour)
	v.SetDefault("heartbeat.prompt", d.Heartbeat.Prompt)
	v.SetDefault("heartbeat.ack_token", d.Heartbeat.AckToken)

	v.SetDefault("cleanup.enabled", d.Cleanup.Enabled)
	v.SetDefault("cleanup.downloads_max_age_days", d.Cleanup.DownloadsMaxAgeDays)
	v.SetDefault("cleanup.outputs_max_age_days", d.Cleanup.OutputsMaxAgeDays)
	v.SetDefault("cleanup.check_hour", d.Cleanup.CheckHour)

	v.SetDefault("webhook.enabled", d.Webhook.Enabled)
	v.SetDefault("webhook.host", d.Webhook.Host)
	v.SetDefault("webhook.port", d.Webhook.Port)
	v.SetDefault("webhook.max_body_bytes", d.Webhook.MaxBodyBytes)
	v.SetDefault("webhook.rate_per_minute", d.Webhook.RatePerMinute)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}
