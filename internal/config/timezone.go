package config

import (
	"os"
	"strings"
	"time"

	"github.com/ductor/ductor/internal/log"
)

// ResolveLocation returns the timezone used for scheduling decisions
// (cron next-fire, quiet hours, daily reset, cleanup hour).
//
// Resolution order:
//   - the configured IANA name
//   - the TZ environment variable
//   - the /etc/localtime symlink target
//   - UTC
func ResolveLocation(configured string) *time.Location {
	if configured != "" {
		if loc, err := time.LoadLocation(configured); err == nil {
			return loc
		}
		log.Warn(log.CatConfig, "configured timezone not recognized, falling back", "timezone", configured)
	}

	if tz := os.Getenv("TZ"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}

	if name := localtimeZoneName(); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}

	return time.UTC
}

// localtimeZoneName extracts the zone name from the /etc/localtime symlink,
// e.g. /usr/share/zoneinfo/Europe/Berlin -> Europe/Berlin.
func localtimeZoneName() string {
	target, err := os.Readlink("/etc/localtime")
	if err != nil {
		return ""
	}
	const marker = "zoneinfo/"
	idx := strings.Index(target, marker)
	if idx < 0 {
		return ""
	}
	return target[idx+len(marker):]
}
