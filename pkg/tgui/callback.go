package tgui

import "strings"

// Data formats inline callback data as "group:action:payload".
// Payload is kept as-is (no escaping).
func Data(group, action, payload string) string {
	group = strings.TrimSpace(group)
	action = strings.TrimSpace(action)
	if payload == "" {
		return group + ":" + action
	}
	return group + ":" + action + ":" + payload
}
