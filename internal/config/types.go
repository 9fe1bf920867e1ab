// Package config defines arrsweep's configuration: a YAML or JSON file
// decoded strictly (unknown fields are rejected), overlaid with a small set
// of deployment environment variables. All durations are Go duration
// strings (e.g. "30s", "12h").
package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Schedule triggers a sweep pass: a cron spec, an "@every ..."
	// descriptor, or a bare Go duration (treated as an interval).
	// Default: "1h".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ for cron specs

	State    StateConfig    `json:"state"`
	History  HistoryConfig  `json:"history,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Tags     TagsConfig     `json:"tags,omitempty"`
	HTTP     HTTPConfig     `json:"http,omitempty"`

	// AutoPromote retags items from the search tag to the done tag once
	// they are no longer missing. Pointer so "omitted" defaults to true.
	AutoPromote *bool `json:"auto_promote,omitempty"`

	// DryRun logs searches/retags instead of performing them.
	DryRun bool `json:"dry_run,omitempty"`

	// Seed fixes the shuffle RNG for reproducible runs. 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`

	// Cooldown is the global default minimum time between actioned runs of
	// a lane. Per-app and per-mode values take precedence. Empty or "0s"
	// means no cooldown.
	Cooldown string `json:"cooldown,omitempty"`

	Apps AppsConfig `json:"apps"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StateConfig struct {
	// Path of the JSON state file. Default: "./data/state.json".
	Path string `json:"path,omitempty"`
}

// HistoryConfig controls the optional SQLite run-history recorder.
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TelegramConfig controls the optional pass-summary notification.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

type TagsConfig struct {
	Search string `json:"search,omitempty"` // default "search"
	Done   string `json:"done,omitempty"`   // default "done"
}

type HTTPConfig struct {
	Timeout     string `json:"timeout,omitempty"`       // per-request; default "30s"
	LaneTimeout string `json:"lane_timeout,omitempty"`  // per-lane budget; default "2m"
	PageSize    int    `json:"page_size,omitempty"`     // wanted endpoints; default 200
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // per-app limiter; default 5
}

type AppsConfig struct {
	Show   AppConfig `json:"show,omitempty"`
	Movie  AppConfig `json:"movie,omitempty"`
	Artist AppConfig `json:"artist,omitempty"`
}

// AppConfig configures one *arr instance. Limit pointers distinguish
// "omitted" (use the default) from an explicit 0 (disable).
type AppConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`

	// SearchLimit/UpgradeLimit are the per-pass batch sizes of the search
	// and done lanes (default 10). PromoteLimit caps retags per pass
	// (default 50). 0 disables the lane or promotion for this app.
	SearchLimit  *int `json:"search_limit,omitempty"`
	UpgradeLimit *int `json:"upgrade_limit,omitempty"`
	PromoteLimit *int `json:"promote_limit,omitempty"`

	// Cooldown is this app's default; Cooldowns overrides per mode.
	Cooldown  string        `json:"cooldown,omitempty"`
	Cooldowns ModeCooldowns `json:"cooldowns,omitempty"`
}

type ModeCooldowns struct {
	Search string `json:"search,omitempty"`
	Done   string `json:"done,omitempty"`
}
