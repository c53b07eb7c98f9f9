package mqtt

import (
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "controlbridge"

// Topics builds the bridge's MQTT topics under a single prefix.
//
// All topics use the flat scheme {prefix}/{category}[/{name}]:
//
//	topics := mqtt.NewTopics("bench")
//	topics.Command("slider_change")
//	// Returns: "bench/command/slider_change"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix. Surrounding slashes
// are trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// State returns the retained full device state topic.
//
// Example: controlbridge/state
func (t Topics) State() string {
	return t.Prefix + "/state"
}

// Telemetry returns the topic for sensor deltas.
//
// Example: controlbridge/telemetry
func (t Topics) Telemetry() string {
	return t.Prefix + "/telemetry"
}

// DeviceStatus returns the retained device reachability topic.
//
// Example: controlbridge/device/status
func (t Topics) DeviceStatus() string {
	return t.Prefix + "/device/status"
}

// Command returns the inbound command topic for one action kind.
//
// Example: controlbridge/command/toggle_change
func (t Topics) Command(kind string) string {
	return t.Prefix + "/command/" + kind
}

// AllCommands returns a pattern matching every inbound command topic.
//
// Pattern: controlbridge/command/+
func (t Topics) AllCommands() string {
	return t.Prefix + "/command/+"
}

// SystemStatus returns the bridge's own online/offline topic (also the LWT).
//
// Example: controlbridge/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}

// CommandKind extracts the action kind from a command topic. It reports
// false for topics outside {prefix}/command/.
func (t Topics) CommandKind(topic string) (string, bool) {
	kind, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || kind == "" || strings.Contains(kind, "/") {
		return "", false
	}
	return kind, true
}
