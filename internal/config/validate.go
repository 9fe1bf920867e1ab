package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects malformed configuration. It is called once at startup
// (fatal, before any lane runs) and again before committing a hot reload.
// Schedule syntax is validated by the caller, which owns the cron parser.
func (c *Config) Validate() error {
	durations := []struct{ path, raw string }{
		{"cooldown", c.Cooldown},
		{"http.timeout", c.HTTP.Timeout},
		{"http.lane_timeout", c.HTTP.LaneTimeout},
		{"history.busy_timeout", c.History.BusyTimeout},
	}
	apps := []struct {
		name string
		app  AppConfig
	}{
		{"show", c.Apps.Show},
		{"movie", c.Apps.Movie},
		{"artist", c.Apps.Artist},
	}
	for _, a := range apps {
		durations = append(durations,
			struct{ path, raw string }{"apps." + a.name + ".cooldown", a.app.Cooldown},
			struct{ path, raw string }{"apps." + a.name + ".cooldowns.search", a.app.Cooldowns.Search},
			struct{ path, raw string }{"apps." + a.name + ".cooldowns.done", a.app.Cooldowns.Done},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.HTTP.PageSize < 0 {
		return fmt.Errorf("http.page_size must be >= 0")
	}
	if c.HTTP.RatePerSec < 0 {
		return fmt.Errorf("http.rate_per_sec must be >= 0")
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: invalid %q: %w", tz, err)
		}
	}

	for _, a := range apps {
		if !a.app.Enabled {
			continue
		}
		if strings.TrimSpace(a.app.URL) == "" {
			return fmt.Errorf("apps.%s: enabled but url is not set", a.name)
		}
		if strings.TrimSpace(a.app.APIKey) == "" {
			return fmt.Errorf("apps.%s: enabled but api_key is not set", a.name)
		}
		for _, lim := range []struct {
			path string
			v    *int
		}{
			{"search_limit", a.app.SearchLimit},
			{"upgrade_limit", a.app.UpgradeLimit},
			{"promote_limit", a.app.PromoteLimit},
		} {
			if lim.v != nil && *lim.v < 0 {
				return fmt.Errorf("apps.%s.%s must be >= 0", a.name, lim.path)
			}
		}
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram: enabled but token is not set")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram: enabled but chat_id is not set")
		}
	}

	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("history: enabled but path is not set")
	}

	return nil
}
