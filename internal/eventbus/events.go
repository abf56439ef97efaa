package eventbus

// Pipeline event types. Data payloads are small maps safe to JSON-encode.
const (
	WatcherStarted   = "watcher.started"
	WatcherStopped   = "watcher.stopped"
	WatcherRestarted = "watcher.restarted"

	ItemPending   = "item.pending"
	ItemIgnored   = "item.ignored"
	ItemQueued    = "item.queued"
	ItemDelivered = "item.delivered"
	ItemFailed    = "item.failed"

	NotifierSent    = "notifier.sent"
	NotifierDropped = "notifier.dropped"
	NotifierFailed  = "notifier.failed"
	NotifierDeduped = "notifier.deduped"

	ConfigApplied = "config.applied"
)

// PublishSafe publishes on b when b is non-nil.
func PublishSafe(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
