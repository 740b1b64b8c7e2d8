// Package webhook exposes an inbound HTTP listener that lets external
// services trigger agent work: either firing an existing cron task or
// waking a bound chat with a rendered prompt. Hooks live in
// webhooks.json alongside a global bearer token.
package webhook

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Hook kinds.
const (
	KindCronTask = "cron_task"
	KindPrompt   = "prompt"
)

// HMAC signature parameters accepted per hook.
var (
	hmacAlgorithms = []string{"sha256", "sha1", "sha512"}
	hmacEncodings  = []string{"hex", "base64"}
)

// Entry is one registered webhook endpoint.
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	// Kind selects the dispatch path: KindCronTask fires the referenced
	// cron job with the rendered payload appended to its prompt;
	// KindPrompt runs a wake turn on the bound chat.
	Kind     string `json:"kind"`
	CronJob  string `json:"cron_job,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	Template string `json:"template"`

	// HMAC signature validation; a non-empty secret switches the hook
	// from global bearer auth to signature auth.
	HMACSecret             string `json:"hmac_secret,omitempty"`
	HMACHeader             string `json:"hmac_header,omitempty"`
	HMACAlgorithm          string `json:"hmac_algorithm,omitempty"`
	HMACEncoding           string `json:"hmac_encoding,omitempty"`
	HMACSigPrefix          string `json:"hmac_sig_prefix,omitempty"`
	HMACSigRegex           string `json:"hmac_sig_regex,omitempty"`
	HMACPayloadPrefixRegex string `json:"hmac_payload_prefix_regex,omitempty"`

	// RatePerMinute overrides the config default when > 0.
	RatePerMinute int `json:"rate_per_minute,omitempty"`

	// Quiet-hour overrides for cron_task hooks; both must be set to
	// replace the global window.
	QuietStartHour *int `json:"quiet_start_hour,omitempty"`
	QuietEndHour   *int `json:"quiet_end_hour,omitempty"`

	TriggerCount    int        `json:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastStatus      string     `json:"last_status,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// Validate checks the fields a dispatch depends on.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("webhook id must not be empty")
	}
	if e.Name == "" {
		return fmt.Errorf("webhook %q: name must not be empty", e.ID)
	}
	switch e.Kind {
	case KindCronTask:
		if e.CronJob == "" {
			return fmt.Errorf("webhook %q: cron_task hooks need a cron_job reference", e.ID)
		}
	case KindPrompt:
		if e.ChatID == 0 {
			return fmt.Errorf("webhook %q: prompt hooks need a chat_id binding", e.ID)
		}
	default:
		return fmt.Errorf("webhook %q: unknown kind %q", e.ID, e.Kind)
	}
	if e.HMACSecret != "" {
		if e.HMACHeader == "" {
			return fmt.Errorf("webhook %q: hmac hooks need a signature header name", e.ID)
		}
		if e.HMACAlgorithm != "" && !slices.Contains(hmacAlgorithms, e.HMACAlgorithm) {
			return fmt.Errorf("webhook %q: unsupported hmac algorithm %q", e.ID, e.HMACAlgorithm)
		}
		if e.HMACEncoding != "" && !slices.Contains(hmacEncodings, e.HMACEncoding) {
			return fmt.Errorf("webhook %q: unsupported hmac encoding %q", e.ID, e.HMACEncoding)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand out of the manager.
func (e *Entry) Clone() Entry {
	out := *e
	if e.LastTriggeredAt != nil {
		ts := *e.LastTriggeredAt
		out.LastTriggeredAt = &ts
	}
	if e.QuietStartHour != nil {
		v := *e.QuietStartHour
		out.QuietStartHour = &v
	}
	if e.QuietEndHour != nil {
		v := *e.QuietEndHour
		out.QuietEndHour = &v
	}
	return out
}

var templateField = regexp.MustCompile(`\{\{(\w+)\}\}`)

// RenderTemplate substitutes {{field}} placeholders from the payload's
// top-level keys. Strings render verbatim; everything else renders as
// JSON. Missing fields render as {{?field}} so a bad template is
// visible in the output instead of failing the dispatch.
func RenderTemplate(template string, payload map[string]any) string {
	return templateField.ReplaceAllStringFunc(template, func(m string) string {
		key := templateField.FindStringSubmatch(m)[1]
		value, ok := payload[key]
		if !ok {
			return "{{?" + key + "}}"
		}
		if s, isString := value.(string); isString {
			return s
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	})
}
