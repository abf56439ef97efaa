package notifier

import (
	"time"

	kit "nftwatch/internal/transport"
)

// Config controls the async lifecycle-message pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Level tags a lifecycle message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Message is one queued lifecycle message.
type Message struct {
	Target  kit.ChatTarget
	Level   Level
	Text    string
	Options *kit.SendOptions
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
