package config

import (
	"reflect"
	"sort"
	"strings"

	logx "nftwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names plus safe structured
// attrs for logging. Secrets (bot token, API key, passwords, DSNs) are only
// ever reported as "<name>_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.TargetChat != nt.TargetChat || ot.TargetThread != nt.TargetThread ||
		ot.RestrictChat != nt.RestrictChat ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int64("telegram.target_chat", nt.TargetChat),
			logx.Bool("telegram.restrict_chat", nt.RestrictChat),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oi, ni := oldCfg.Indexer, newCfg.Indexer
	if oi != ni {
		changed = append(changed, "indexer")
		attrs = append(attrs,
			logx.String("indexer.base_url", ni.BaseURL),
			logx.String("indexer.source", ni.Source),
			logx.Int("indexer.list_limit", ni.ListLimit),
			logx.String("indexer.backoff_mode", ni.Backoff.Mode),
			logx.Bool("indexer.api_key_set", strings.TrimSpace(ni.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Watcher, newCfg.Watcher) {
		changed = append(changed, "watcher")
		attrs = append(attrs,
			logx.String("watcher.collection_name", newCfg.Watcher.CollectionName),
			logx.String("watcher.poll_interval", newCfg.Watcher.PollInterval),
			logx.String("watcher.send_pacing", newCfg.Watcher.SendPacing),
			logx.String("watcher.sent_ttl", newCfg.Watcher.SentTTL),
			logx.Bool("watcher.watchdog", newCfg.Watcher.Watchdog.Enabled),
		)
	}

	if oldCfg.Scoring != newCfg.Scoring {
		changed = append(changed, "scoring")
		attrs = append(attrs,
			logx.String("scoring.power_table", newCfg.Scoring.PowerTable),
			logx.Bool("scoring.watch", newCfg.Scoring.Watch),
		)
	}

	if oldCfg.Caption != newCfg.Caption {
		changed = append(changed, "caption")
		attrs = append(attrs,
			logx.Bool("caption.template_set", newCfg.Caption.TemplatePath != ""),
			logx.Int("caption.image_width", newCfg.Caption.ImageWidth),
		)
	}

	ol, nl := derefLedger(oldCfg.Ledger), derefLedger(newCfg.Ledger)
	if ol != nl {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.backend", nl.Backend),
			logx.Bool("ledger.redis_addr_set", nl.RedisAddr != ""),
			logx.String("ledger.compact_interval", nl.CompactInterval),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nst.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		)
	}

	oa, na := derefAdmin(oldCfg.Admin), derefAdmin(newCfg.Admin)
	if !reflect.DeepEqual(oa, na) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", na.Addr),
			logx.Bool("admin.token_set", na.Token != ""),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefLedger(c *LedgerConfig) LedgerConfig {
	if c == nil {
		return LedgerConfig{}
	}
	return *c
}

func derefStorage(c *StorageConfig) StorageConfig {
	if c == nil {
		return StorageConfig{}
	}
	return *c
}

func derefNotifier(c *NotifierConfig) NotifierConfig {
	if c == nil {
		return NotifierConfig{Enabled: true}
	}
	return *c
}

func derefAdmin(c *AdminConfig) AdminConfig {
	if c == nil {
		return AdminConfig{}
	}
	return *c
}
