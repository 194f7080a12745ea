package config

// Config is the full on-disk configuration. Decoding is strict: unknown keys
// are rejected so typos surface at startup or on hot reload, not silently.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Steam    SteamConfig    `json:"steam"`
	State    StateConfig    `json:"state"`
	Poller   PollerConfig   `json:"poller"`
	Index    IndexConfig    `json:"index"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may always manage subscriptions, in addition to chat admins.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is an optional chat id that receives forwarded warn/error logs.
	GroupLog int64 `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SteamConfig points at the Steam endpoints. URL templates use an {id}
// placeholder substituted with the app id.
type SteamConfig struct {
	FeedURL    string `json:"feed_url,omitempty"`
	AppListURL string `json:"app_list_url,omitempty"`
	IconURL    string `json:"icon_url,omitempty"`
}

type StateConfig struct {
	// Path of the persisted subscription/watermark file.
	Path string `json:"path"`
	// FlushInterval is how often dirty state is written (Go duration string).
	FlushInterval string `json:"flush_interval,omitempty"`
}

type PollerConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between poll cycles (Go duration string).
	Interval string `json:"interval,omitempty"`
	// FetchRatePerSec paces feed fetches inside one cycle. 0 = unpaced.
	FetchRatePerSec int `json:"fetch_rate_per_sec,omitempty"`
}

type IndexConfig struct {
	// Path of the sqlite app-name index.
	Path string `json:"path"`
	// Refresh is an optional cron spec (or "@daily" style descriptor) for
	// rebuilding the index from the Steam catalog inside the bot process.
	// Leave empty to refresh only via the standalone catalog command.
	Refresh string `json:"refresh,omitempty"`
	// Timezone for the refresh schedule (IANA name). Empty = local.
	Timezone string `json:"timezone,omitempty"`
}

// Default endpoint values, filled in when the config leaves them blank.
const (
	DefaultFeedURL    = "https://store.steampowered.com/feeds/news/app/{id}"
	DefaultAppListURL = "https://api.steampowered.com/ISteamApps/GetAppList/v2/"
	DefaultIconURL    = "https://cdn.cloudflare.steamstatic.com/steam/apps/{id}/header.jpg"
)

// Normalize fills blank optional fields with defaults. It never overrides an
// explicitly configured value.
func (c *Config) Normalize() {
	if c.Steam.FeedURL == "" {
		c.Steam.FeedURL = DefaultFeedURL
	}
	if c.Steam.AppListURL == "" {
		c.Steam.AppListURL = DefaultAppListURL
	}
	if c.Steam.IconURL == "" {
		c.Steam.IconURL = DefaultIconURL
	}
	if c.State.Path == "" {
		c.State.Path = "./state.json"
	}
	if c.State.FlushInterval == "" {
		c.State.FlushInterval = "5m"
	}
	if c.Poller.Interval == "" {
		c.Poller.Interval = "10m"
	}
	if c.Index.Path == "" {
		c.Index.Path = "./steamapps.db"
	}
}

// Validate checks everything that does not require a live dependency.
// The bot installs this (plus its own checks) as the Manager validator so a
// bad hot-reload is rejected before publish.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("state.flush_interval", c.State.FlushInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("poller.interval", c.Poller.Interval); err != nil {
		return err
	}
	if c.Poller.FetchRatePerSec < 0 {
		return errNegative("poller.fetch_rate_per_sec")
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		return errNegative("logging.telegram.rate_per_sec")
	}
	return nil
}
