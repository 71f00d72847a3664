//go:build integration

package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/natsclient"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

func TestNATS_RetainedReplay(t *testing.T) {
	server := natsclient.NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device := New(Config{URL: server.URL, Name: "dev-it", Bucket: "SABA_RETAINED_IT"}, nil)
	require.NoError(t, device.Connect(ctx, nil))
	defer func() { _ = device.Disconnect(ctx) }()

	require.NoError(t, device.Publish(ctx, "mcp/dev/dev-it/announce", []byte(`{"type":"device.announce"}`), true))
	require.NoError(t, device.Publish(ctx, "mcp/dev/dev-it/ports/announce", []byte(`{"type":"ports.announce"}`), true))
	require.NoError(t, device.Publish(ctx, "mcp/dev/dev-it/ports/announce", nil, true))

	watcher := New(Config{URL: server.URL, Name: "watcher", Bucket: "SABA_RETAINED_IT"}, nil)
	require.NoError(t, watcher.Connect(ctx, nil))
	defer func() { _ = watcher.Disconnect(ctx) }()

	var mu sync.Mutex
	var got []transport.Message
	require.NoError(t, watcher.Subscribe(ctx, "mcp/dev/+/#", func(m transport.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	}))

	mu.Lock()
	require.Len(t, got, 1, "cleared retained topic must not replay")
	assert.Equal(t, "mcp/dev/dev-it/announce", got[0].Topic)
	assert.True(t, got[0].Retained)
	mu.Unlock()

	require.NoError(t, device.Publish(ctx, "mcp/dev/dev-it/events", []byte(`{"ok":true}`), false))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && got[1].Topic == "mcp/dev/dev-it/events" && !got[1].Retained
	}, 5*time.Second, 20*time.Millisecond)
}
