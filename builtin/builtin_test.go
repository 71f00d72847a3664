package builtin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/builtin"
	"github.com/kawaiiTaiga/project-SABA/gateway"
	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

type fixture struct {
	tools  *tool.Registry
	ports  *port.Registry
	assets *gateway.AssetStore
	set    *builtin.Set
}

func install(t *testing.T, opts ...builtin.DigitalEventOption) *fixture {
	t.Helper()
	f := &fixture{
		tools:  tool.NewRegistry(tool.WithArgValidation(true)),
		ports:  port.NewRegistry(),
		assets: gateway.NewAssetStore(4, 1<<20),
	}
	set, err := builtin.Install(f.tools, f.ports, f.assets, opts...)
	require.NoError(t, err)
	f.set = set
	return f
}

func (f *fixture) call(t *testing.T, name, args string) observation.Observation {
	t.Helper()
	obs, _, err := f.tools.Dispatch(context.Background(), tool.Command{
		Type:      tool.CommandType,
		Tool:      name,
		RequestID: "req-1",
		Args:      json.RawMessage(args),
	}, "")
	require.NoError(t, err)
	return obs
}

func TestInstall(t *testing.T) {
	f := install(t)

	var names []string
	for _, d := range f.tools.DescribeAll() {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "digital_event", "read_port", "snapshot"}, names)
	assert.Equal(t, 1, f.ports.OutPortCount())
	assert.Equal(t, 3, f.ports.InPortCount())
	assert.Equal(t, port.TypeBool, f.set.VarC.DataType())

	_, err := builtin.Install(f.tools, f.ports, f.assets)
	assert.Error(t, err, "second install collides on tool names")
}

func TestInstall_WithoutAssets(t *testing.T) {
	set, err := builtin.Install(tool.NewRegistry(), port.NewRegistry(), nil)
	require.NoError(t, err)
	assert.Nil(t, set.Snapshot)
}

func TestEcho(t *testing.T) {
	f := install(t)

	obs := f.call(t, "echo", `{"text":"hello"}`)
	assert.True(t, obs.OK)
	assert.Equal(t, "hello", obs.Result.Text)
	assert.Equal(t, "req-1", obs.RequestID)

	obs = f.call(t, "echo", `{}`)
	assert.False(t, obs.OK)
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code)
}

func TestReadPort(t *testing.T) {
	f := install(t)
	f.set.VarA.Set(12.5)
	f.set.VarC.Set(1)

	obs := f.call(t, "read_port", `{"port":"var_a"}`)
	require.True(t, obs.OK)
	assert.Equal(t, "12.5", obs.Result.Text)
	require.Len(t, obs.Result.Assets, 1)
	assert.Equal(t, 12.5, obs.Result.Assets[0].Extra["value"])

	obs = f.call(t, "read_port", `{"port":"var_c"}`)
	require.True(t, obs.OK)
	assert.Equal(t, "true", obs.Result.Text)

	obs = f.call(t, "read_port", `{"port":"var_b"}`)
	assert.Equal(t, "0", obs.Result.Text)

	obs = f.call(t, "read_port", `{"port":"nope"}`)
	assert.False(t, obs.OK)
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code)
}

func TestImpact_Triangle(t *testing.T) {
	imp := builtin.NewImpact()
	assert.Equal(t, time.Second, imp.Period())

	var values []float64
	for i := 0; i < 200; i++ {
		v, ok := imp.Sample(time.Time{})
		require.True(t, ok)
		values = append(values, v)
	}

	assert.Equal(t, 2.0, values[0])
	assert.Equal(t, 100.0, values[98])
	assert.Equal(t, 99.0, values[99])
	assert.Equal(t, 1.0, values[197])
	assert.Equal(t, 2.0, values[198])
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 1.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

type captured struct {
	mu   sync.Mutex
	list []observation.Observation
}

func (c *captured) Emit(_ context.Context, obs observation.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, obs)
}

func TestDigitalEvent(t *testing.T) {
	start := time.Unix(1000, 0)
	rise := true
	f := install(t,
		builtin.WithEventClock(func() time.Time { return start }),
		builtin.WithCoin(func() bool { return rise }))
	sink := &captured{}
	f.tools.SetEmitter(sink)

	// Not subscribed: ticks emit nothing.
	f.tools.TickAll(start.Add(time.Hour))
	assert.Empty(t, sink.list)

	obs := f.call(t, "digital_event", `{"op":"subscribe","interval_ms":500}`)
	require.True(t, obs.OK)
	assert.Equal(t, "subscribed (mock random events)", obs.Result.Text)
	assert.True(t, f.set.DigitalEvent.Active())

	f.tools.TickAll(start.Add(499 * time.Millisecond))
	assert.Empty(t, sink.list)

	f.tools.TickAll(start.Add(500 * time.Millisecond))
	rise = false
	f.tools.TickAll(start.Add(1000 * time.Millisecond))
	require.Len(t, sink.list, 2)

	first := sink.list[0]
	assert.True(t, first.OK)
	assert.Equal(t, "rise", first.Result.Text)
	require.Len(t, first.Result.Assets, 1)
	assert.Equal(t, "event", first.Result.Assets[0].Kind)
	assert.Equal(t, builtin.EventRise, first.Result.Assets[0].Extra["event_type"])
	assert.Equal(t, 1, first.Result.Assets[0].Extra["value"])
	assert.Equal(t, "fall", sink.list[1].Result.Text)

	obs = f.call(t, "digital_event", `{"op":"unsubscribe"}`)
	require.True(t, obs.OK)
	assert.Equal(t, "unsubscribed", obs.Result.Text)
	f.tools.TickAll(start.Add(time.Hour))
	assert.Len(t, sink.list, 2)
}

func TestDigitalEvent_ArgValidation(t *testing.T) {
	f := install(t)

	obs := f.call(t, "digital_event", `{"op":"subscribe","interval_ms":5}`)
	assert.False(t, obs.OK)
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code)

	obs = f.call(t, "digital_event", `{"op":"subscribe"}`)
	assert.True(t, obs.OK)
}

func TestSnapshot(t *testing.T) {
	f := install(t)

	obs := f.call(t, "snapshot", `{"quality":"low","flash":"on"}`)
	require.True(t, obs.OK)
	assert.Equal(t, "captured", obs.Result.Text)
	require.Len(t, obs.Result.Assets, 1)
	a := obs.Result.Assets[0]
	assert.Equal(t, "image", a.Kind)
	assert.Equal(t, builtin.MIMEJPEG, a.Mime)
	assert.Equal(t, gateway.AssetPath+a.AssetID, a.URL)

	stored, ok := f.assets.Get(a.AssetID)
	require.True(t, ok)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(stored.Data))
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 120, cfg.Height)

	obs = f.call(t, "snapshot", `{"quality":"ultra","flash":"on"}`)
	assert.False(t, obs.OK)
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code)
	obs = f.call(t, "snapshot", `{"quality":"low"}`)
	assert.False(t, obs.OK)
}

func TestSnapshot_LastFrameEndpoint(t *testing.T) {
	f := install(t)
	mux := http.NewServeMux()
	f.set.Snapshot.RegisterHTTPHandlers("/", mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/last.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.True(t, f.call(t, "snapshot", `{"quality":"mid","flash":"off"}`).OK)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/last.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, builtin.MIMEJPEG, rec.Header().Get("Content-Type"))
	assert.Equal(t, f.set.Snapshot.Last(), rec.Body.Bytes())
}
