package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "5m").
// Optional sections are pointers so "omitted" can fall back to defaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Indexer  IndexerConfig  `json:"indexer"`
	Watcher  WatcherConfig  `json:"watcher"`
	Scoring  ScoringConfig  `json:"scoring"`
	Caption  CaptionConfig  `json:"caption,omitempty"`

	Ledger   *LedgerConfig   `json:"ledger,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Admin    *AdminConfig    `json:"admin,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// TargetChat receives listing signals and lifecycle messages.
	TargetChat   int64 `json:"target_chat"`
	TargetThread int   `json:"target_thread,omitempty"`
	// RestrictChat only accepts commands issued inside TargetChat.
	RestrictChat bool `json:"restrict_chat,omitempty"`

	// GroupLog is the chat id (as string) used by the logging Telegram sink.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// IndexerConfig points at the tonapi v2 HTTP API.
//
// Defaults:
//   - base_url: "https://tonapi.io/v2"
//   - timeout: "10s"
//   - source: "history" (account NFT history); "collection" pages collection items by offset
//   - list_limit: 5 (clamped to 1..10)
//   - backoff: exponential, base "2s", 5 attempts, warn_interval "5s"
type IndexerConfig struct {
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"` // never logged
	Timeout    string        `json:"timeout,omitempty"`
	Source     string        `json:"source,omitempty"`
	Account    string        `json:"account,omitempty"`
	Collection string        `json:"collection,omitempty"`
	ListLimit  int           `json:"list_limit,omitempty"`
	Backoff    BackoffConfig `json:"backoff,omitempty"`
}

type BackoffConfig struct {
	Mode         string `json:"mode,omitempty"` // "linear" | "exponential"
	Base         string `json:"base,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty"`
	WarnInterval string `json:"warn_interval,omitempty"`
}

// WatcherConfig controls the detection pipeline.
//
// Defaults: poll/resolve "1s", drain "500ms", send_pacing "1s",
// sent_ttl "10m", max_pending_time "5m", require_image true.
type WatcherConfig struct {
	// CollectionName is the collection.name every delivered item must carry.
	CollectionName string `json:"collection_name"`

	PollInterval    string `json:"poll_interval,omitempty"`
	ResolveInterval string `json:"resolve_interval,omitempty"`
	DrainInterval   string `json:"drain_interval,omitempty"`
	SendPacing      string `json:"send_pacing,omitempty"`
	SentTTL         string `json:"sent_ttl,omitempty"`
	MaxPendingTime  string `json:"max_pending_time,omitempty"`

	RequireImage *bool  `json:"require_image,omitempty"`
	SkinFilter   string `json:"skin_filter,omitempty"`
	AutoStart    bool   `json:"auto_start,omitempty"`

	Watchdog WatchdogConfig `json:"watchdog,omitempty"`
}

// WatchdogConfig restarts the watcher after a long stretch without deliveries.
type WatchdogConfig struct {
	Enabled  bool   `json:"enabled"`
	Silence  string `json:"silence,omitempty"`  // default "30m"
	Interval string `json:"interval,omitempty"` // default "1m"
}

type ScoringConfig struct {
	// PowerTable is a JSON or YAML file with attributes/synergy/number_power.
	PowerTable string `json:"power_table"`
	// Watch reloads the table when the file changes.
	Watch bool `json:"watch,omitempty"`
}

type CaptionConfig struct {
	TemplatePath string `json:"template_path,omitempty"`
	MaxLen       int    `json:"max_len,omitempty"`     // default 1024
	ImageWidth   int    `json:"image_width,omitempty"` // default 350; -1 sends the original URL
	IPFSGateway  string `json:"ipfs_gateway,omitempty"`
	LinkBase     string `json:"link_base,omitempty"` // default "https://getgems.io/nft/"
	// Footer is trusted HTML appended below the attribute list.
	Footer string `json:"footer,omitempty"`
}

// LedgerConfig selects where delivered keys live.
//
//	"ledger": { "backend": "redis", "redis_addr": "127.0.0.1:6379" }
type LedgerConfig struct {
	Backend         string `json:"backend"` // "memory" (default) | "redis"
	RedisAddr       string `json:"redis_addr,omitempty"`
	RedisPassword   string `json:"redis_password,omitempty"` // never logged
	RedisDB         int    `json:"redis_db,omitempty"`
	KeyPrefix       string `json:"key_prefix,omitempty"`
	CompactInterval string `json:"compact_interval,omitempty"`
}

// StorageConfig controls the persisted watcher state and delivery journal.
//
//	"storage": { "driver": "file", "path": "./nftwatch_state" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | redis | postgres | none
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // redis addr or postgres DSN; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

// NotifierConfig controls the async lifecycle-message pipeline.
// If the section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// AdminConfig controls the optional admin HTTP server.
//
// Security note: binding to a non-loopback address requires a token
// unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"` // default "127.0.0.1:8090"
	Token         string   `json:"token,omitempty"`
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`
	ReadTimeout   string   `json:"read_timeout,omitempty"`
	WriteTimeout  string   `json:"write_timeout,omitempty"`
}
