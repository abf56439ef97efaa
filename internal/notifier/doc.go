// Package notifier posts to the target chat.
//
// Two paths share one adapter:
//
//   - SendImage is synchronous and used by the delivery queue for listing
//     signals. It truncates the caption, fetches and resizes the image and
//     falls back to a text message when there is no image or the photo fails.
//   - Notify is asynchronous and used for watcher lifecycle messages
//     (started, stopped, error starting, watchdog restart). It runs a small
//     worker pool with a rate limit, retry with jittered backoff and a dedup
//     window so a flapping watcher cannot flood the chat.
//
// Per-item fetch failures are never reported to the chat.
package notifier
