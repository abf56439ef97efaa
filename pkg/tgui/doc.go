// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard conversion and callback data (group:action:payload)
//   - HTML escaping for ParseMode="HTML"
//   - Rune-safe truncation and chunking within Telegram's size limits
package tgui
