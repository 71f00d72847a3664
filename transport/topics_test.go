package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	topics := NewTopics("", "dev-a1b2c3")

	assert.Equal(t, "mcp/dev/dev-a1b2c3", topics.Base())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/announce", topics.Announce())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/status", topics.Status())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/cmd", topics.Command())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/events", topics.Events())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/ports/announce", topics.PortsAnnounce())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/ports/data", topics.PortsData())
	assert.Equal(t, "mcp/dev/dev-a1b2c3/ports/set", topics.PortsSet())
	assert.Equal(t, []string{
		"mcp/dev/dev-a1b2c3/announce",
		"mcp/dev/dev-a1b2c3/status",
		"mcp/dev/dev-a1b2c3/ports/announce",
	}, topics.Retained())

	custom := NewTopics("lab/devices/", "x")
	assert.Equal(t, "lab/devices/x/cmd", custom.Command())
}

func TestParse(t *testing.T) {
	tests := []struct {
		topic  string
		device string
		kind   string
		ok     bool
	}{
		{"mcp/dev/d1/announce", "d1", KindAnnounce, true},
		{"mcp/dev/d1/ports/announce", "d1", KindPortsAnnounce, true},
		{"mcp/dev/d1/ports/set", "d1", KindPortsSet, true},
		{"mcp/dev/d1/unknown", "", "", false},
		{"other/dev/d1/status", "", "", false},
		{"mcp/dev/d1", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, kind, ok := Parse("mcp/dev", tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.device, device)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPortsData, KindOf("mcp/dev/d1/ports/data"))
	assert.Equal(t, KindEvents, KindOf("mcp/dev/d1/events"))
	assert.Equal(t, "other", KindOf("somewhere/else"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"#", "a/b", true},
		{"mcp/dev/+/status", "mcp/dev/d1/status", true},
		{"mcp/dev/+/status", "mcp/dev/d1/ports/announce", false},
		{"mcp/dev/+/ports/announce", "mcp/dev/d1/ports/announce", true},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
	assert.Equal(t, "mcp/dev/+/announce", AllDevices("", KindAnnounce))
}
