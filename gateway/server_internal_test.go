package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/health"
)

type idleDevice struct{}

func (idleDevice) DeviceID() string { return "dev-IDLE01" }
func (idleDevice) IsConnected() bool { return false }
func (idleDevice) PublishStatusNow(context.Context) error { return nil }
func (idleDevice) Reannounce(context.Context) error { return nil }
func (idleDevice) ClearRetained(context.Context) error { return nil }
func (idleDevice) FactoryReset(context.Context) error { return nil }
func (idleDevice) Health() health.Status { return health.NewHealthy("device", "idle") }

func TestServer_DoneReportsListenerFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s, err := New(cfg, idleDevice{})
	require.NoError(t, err)
	assert.Nil(t, s.Done())

	require.NoError(t, s.Start(context.Background()))
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	require.NoError(t, ln.Close())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server kept serving on a closed listener")
	}
	assert.Error(t, s.Err())
	assert.NoError(t, s.Stop(time.Second))
}

func TestServer_CleanStopHasNoError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s, err := New(cfg, idleDevice{})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))
	<-s.Done()
	assert.NoError(t, s.Err())
}
