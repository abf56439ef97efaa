package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "group:action:payload".
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Telegram message size limits, in characters.
const (
	MaxCaptionLen = 1024
	MaxMessageLen = 4096
	// SafeChunkLen leaves room for markup added around a chunk.
	SafeChunkLen = 4000
)
