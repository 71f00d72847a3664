package transport

import "strings"

// DefaultPrefix is the topic namespace used when none is configured.
const DefaultPrefix = "mcp/dev"

// Topic kinds below <prefix>/<device_id>/.
const (
	KindAnnounce      = "announce"
	KindStatus        = "status"
	KindCommand       = "cmd"
	KindEvents        = "events"
	KindPortsAnnounce = "ports/announce"
	KindPortsData     = "ports/data"
	KindPortsSet      = "ports/set"
)

var kinds = []string{
	KindPortsAnnounce, KindPortsData, KindPortsSet,
	KindAnnounce, KindStatus, KindCommand, KindEvents,
}

// Topics builds the topic names for one device.
type Topics struct {
	Prefix   string
	DeviceID string
}

// NewTopics returns the topic set for deviceID under prefix.
func NewTopics(prefix, deviceID string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: strings.TrimSuffix(prefix, "/"), DeviceID: deviceID}
}

// Base returns <prefix>/<device_id>.
func (t Topics) Base() string { return t.Prefix + "/" + t.DeviceID }

// Of returns the topic for kind.
func (t Topics) Of(kind string) string { return t.Base() + "/" + kind }

func (t Topics) Announce() string      { return t.Of(KindAnnounce) }
func (t Topics) Status() string        { return t.Of(KindStatus) }
func (t Topics) Command() string       { return t.Of(KindCommand) }
func (t Topics) Events() string        { return t.Of(KindEvents) }
func (t Topics) PortsAnnounce() string { return t.Of(KindPortsAnnounce) }
func (t Topics) PortsData() string     { return t.Of(KindPortsData) }
func (t Topics) PortsSet() string      { return t.Of(KindPortsSet) }

// Retained lists the topics that carry retained messages.
func (t Topics) Retained() []string {
	return []string{t.Announce(), t.Status(), t.PortsAnnounce()}
}

// AllDevices returns a filter matching kind for every device under prefix.
func AllDevices(prefix, kind string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/+/" + kind
}

// Parse splits a topic under prefix into device id and kind.
func Parse(prefix, topic string) (deviceID, kind string, ok bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	rest, found := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/")
	if !found {
		return "", "", false
	}
	deviceID, kind, found = strings.Cut(rest, "/")
	if !found || deviceID == "" {
		return "", "", false
	}
	for _, k := range kinds {
		if kind == k {
			return deviceID, kind, true
		}
	}
	return "", "", false
}

// KindOf returns the kind suffix of topic, or "other". It is used as a
// bounded metric label.
func KindOf(topic string) string {
	for _, k := range kinds {
		if strings.HasSuffix(topic, "/"+k) {
			return k
		}
	}
	return "other"
}

// Match reports whether topic matches filter using "+" and "#" wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
