package commands

import (
	"fmt"
	"strings"
	"time"

	"nftwatch/internal/watcher"
	"nftwatch/pkg/tgui"
)

// StatusText renders a watcher status for Telegram HTML.
func StatusText(st watcher.Status) string {
	var b strings.Builder
	if st.Running {
		fmt.Fprintf(&b, "🟢 <b>Watcher running</b> for %s\n", since(st.StartedAt))
	} else {
		b.WriteString("🔴 <b>Watcher stopped</b>\n")
	}
	if st.Collection != "" {
		fmt.Fprintf(&b, "Collection: %s\n", tgui.Esc(st.Collection))
	}
	fmt.Fprintf(&b, "Offset: <code>%d</code>\n", st.Offset)
	fmt.Fprintf(&b, "Pending: %d · Queue: %d · Ignored: %d · Sent keys: %d\n", st.Pending, st.QueueLen, st.Ignored, st.SentKeys)
	fmt.Fprintf(&b, "Delivered: %d · Failed: %d", st.Delivered, st.Failed)
	if !st.LastSendAt.IsZero() {
		fmt.Fprintf(&b, " · last %s ago", since(st.LastSendAt))
	}
	b.WriteString("\n")
	skin := "any"
	if st.SkinFilter != "" {
		skin = tgui.Esc(st.SkinFilter).String()
	}
	fmt.Fprintf(&b, "Skin Tone: %s\n", skin)
	fmt.Fprintf(&b, "Intervals: poll %s · resolve %s · drain %s", st.Intervals.Poll, st.Intervals.Resolve, st.Intervals.Drain)
	if st.Restarts > 0 {
		fmt.Fprintf(&b, "\nWatchdog restarts: %d", st.Restarts)
	}
	return b.String()
}

// StatusToast is the short plain-text form used for callback answers.
func StatusToast(st watcher.Status) string {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	return fmt.Sprintf("%s · offset %d · pending %d · queue %d · sent %d", state, st.Offset, st.Pending, st.QueueLen, st.Delivered)
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}
