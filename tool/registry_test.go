package tool

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/observation"
)

// fakeTool records invocations and answers with a fixed outcome.
type fakeTool struct {
	name    string
	params  Schema
	ok      bool
	text    string
	initErr error

	mu       sync.Mutex
	calls    int
	lastArgs json.RawMessage
	lastBase string
	inits    int
	ticks    []time.Time
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Describe() Description {
	return Description{Name: f.name, Description: "fake " + f.name, Parameters: f.params}
}

func (f *fakeTool) Invoke(ctx context.Context, args json.RawMessage, out *observation.Builder) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastArgs = args
	f.lastBase = HTTPBase(ctx)
	if f.ok {
		out.Success(f.text)
	} else {
		out.Error("tool_failed", f.text)
	}
	return f.ok
}

func (f *fakeTool) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeTool) Tick(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, now)
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func command(toolName, requestID, args string) Command {
	cmd := Command{Type: CommandType, Tool: toolName, RequestID: requestID}
	if args != "" {
		cmd.Args = json.RawMessage(args)
	}
	return cmd
}

func TestRegistry_DispatchABC(t *testing.T) {
	a := &fakeTool{name: "A", ok: true, text: "from A"}
	b := &fakeTool{name: "B", ok: true, text: "from B"}
	reg := NewRegistry()
	reg.MustRegister(a, b)

	obs, matched, err := reg.Dispatch(context.Background(), command("A", "r1", `{"x":1}`), "http://10.0.0.5")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, obs.OK)
	assert.Equal(t, "from A", obs.Result.Text)
	assert.Equal(t, "r1", obs.RequestID)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 0, b.callCount())
	assert.JSONEq(t, `{"x":1}`, string(a.lastArgs))
	assert.Equal(t, "http://10.0.0.5", a.lastBase)

	obs, matched, err = reg.Dispatch(context.Background(), command("C", "r2", ""), "")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, obs.OK)
	require.NotNil(t, obs.Error)
	assert.Equal(t, observation.CodeUnsupportedTool, obs.Error.Code)
	assert.Equal(t, "r2", obs.RequestID)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 0, b.callCount())
}

func TestRegistry_DispatchIsCaseSensitive(t *testing.T) {
	lower := &fakeTool{name: "echo", ok: true}
	upper := &fakeTool{name: "Echo", ok: true}
	reg := NewRegistry()
	reg.MustRegister(lower, upper)

	_, matched, err := reg.Dispatch(context.Background(), command("Echo", "", ""), "")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, 0, lower.callCount())
	assert.Equal(t, 1, upper.callCount())

	obs, matched, _ := reg.Dispatch(context.Background(), command("ECHO", "", ""), "")
	assert.False(t, matched)
	assert.Equal(t, observation.CodeUnsupportedTool, obs.Error.Code)
}

func TestRegistry_DispatchRejectsOtherRecordTypes(t *testing.T) {
	a := &fakeTool{name: "A", ok: true}
	reg := NewRegistry()
	reg.MustRegister(a)

	obs, matched, err := reg.Dispatch(context.Background(), Command{Type: "device.status", Tool: "A"}, "")
	assert.ErrorIs(t, err, errors.ErrNotCommand)
	assert.False(t, matched)
	assert.Empty(t, obs.Type)
	assert.Equal(t, 0, a.callCount())
}

func TestRegistry_DispatchGeneratesRequestID(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeTool{name: "A", ok: true})

	obs, _, err := reg.Dispatch(context.Background(), command("A", "", ""), "")
	require.NoError(t, err)
	_, parseErr := uuid.Parse(obs.RequestID)
	assert.NoError(t, parseErr)

	unknown, _, err := reg.Dispatch(context.Background(), command("missing", "", ""), "")
	require.NoError(t, err)
	assert.NotEmpty(t, unknown.RequestID)
	assert.NotEqual(t, obs.RequestID, unknown.RequestID)
}

func TestRegistry_DispatchPassesToolOutcomeThrough(t *testing.T) {
	failing := &fakeTool{name: "F", ok: false, text: "sensor offline"}
	reg := NewRegistry()
	reg.MustRegister(failing)

	obs, matched, err := reg.Dispatch(context.Background(), command("F", "r", ""), "")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, obs.OK)
	assert.Equal(t, "tool_failed", obs.Error.Code)
	assert.Equal(t, "sensor offline", obs.Error.Message)
}

type panicTool struct{}

func (panicTool) Name() string          { return "boom" }
func (panicTool) Describe() Description { return Description{Name: "boom"} }
func (panicTool) Invoke(context.Context, json.RawMessage, *observation.Builder) bool {
	panic("driver fault")
}

func TestRegistry_DispatchRecoversPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(panicTool{})

	obs, matched, err := reg.Dispatch(context.Background(), command("boom", "r", ""), "")
	require.NoError(t, err)
	assert.False(t, matched)
	require.NotNil(t, obs.Error)
	assert.Equal(t, CodeToolPanic, obs.Error.Code)
	assert.Equal(t, "driver fault", obs.Error.Message)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	first := &fakeTool{name: "A", ok: true, text: "first"}
	require.NoError(t, reg.Register(first))

	err := reg.Register(&fakeTool{name: "A", ok: true, text: "second"})
	assert.ErrorIs(t, err, errors.ErrDuplicateName)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 1, reg.Len())

	// the first registration keeps answering
	obs, _, _ := reg.Dispatch(context.Background(), command("A", "", ""), "")
	assert.Equal(t, "first", obs.Result.Text)

	assert.Error(t, reg.Register(nil))
}

func TestRegistry_Seal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "A"}))
	reg.Seal()

	assert.True(t, reg.Sealed())
	assert.ErrorIs(t, reg.Register(&fakeTool{name: "B"}), errors.ErrSealed)
	assert.Panics(t, func() { reg.MustRegister(&fakeTool{name: "C"}) })
}

func TestRegistry_InitAllAttemptsEveryTool(t *testing.T) {
	a := &fakeTool{name: "A", ok: true}
	b := &fakeTool{name: "B", ok: true, initErr: stderrors.New("camera missing")}
	c := &fakeTool{name: "C", ok: true}
	reg := NewRegistry()
	reg.MustRegister(a, b, c)

	assert.False(t, reg.InitAll(context.Background()))
	assert.Equal(t, 1, a.inits)
	assert.Equal(t, 1, b.inits)
	assert.Equal(t, 1, c.inits)

	_, matched, _ := reg.Dispatch(context.Background(), command("B", "", ""), "")
	assert.True(t, matched, "failed tools stay dispatchable")

	ok := NewRegistry()
	ok.MustRegister(&fakeTool{name: "A"}, &fakeTool{name: "B"})
	assert.True(t, ok.InitAll(context.Background()))
}

func TestRegistry_AnnounceIsStable(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		&fakeTool{name: "b", params: ObjectSchema(map[string]any{"n": map[string]any{"type": "integer"}}, "n")},
		&fakeTool{name: "a"},
		NewEventTool(EventConfig{Name: "ev", EventTypes: []string{"dio.rise"}}),
	)

	first, err := json.Marshal(reg.Announce("dev-1", "http://10.0.0.5"))
	require.NoError(t, err)
	second, err := json.Marshal(reg.Announce("dev-1", "http://10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	ann := reg.Announce("dev-1", "http://10.0.0.5")
	assert.Equal(t, AnnounceType, ann.Type)
	assert.Equal(t, "dev-1", ann.DeviceID)
	assert.Equal(t, "http://10.0.0.5", ann.HTTPBase)
	require.Len(t, ann.Tools, 3)
	assert.Equal(t, "b", ann.Tools[0].Name)
	assert.Equal(t, "a", ann.Tools[1].Name)
	assert.Equal(t, "ev", ann.Tools[2].Name)
	assert.Equal(t, "object", ann.Tools[1].Parameters["type"], "nil parameters default to an empty object schema")
}

func TestRegistry_TickAllAndSetEmitter(t *testing.T) {
	a := &fakeTool{name: "A"}
	ev := NewEventTool(EventConfig{Name: "ev"})
	reg := NewRegistry()
	reg.MustRegister(a, ev)

	now := time.Unix(100, 0)
	reg.TickAll(now)
	assert.Equal(t, []time.Time{now}, a.ticks)

	var got []observation.Observation
	reg.SetEmitter(observation.EmitterFunc(func(_ context.Context, obs observation.Observation) {
		got = append(got, obs)
	}))
	ev.Emit(context.Background(), observation.NewBuilder().Success("tick").Build())
	assert.Len(t, got, 1)
}

func TestRegistry_ArgValidation(t *testing.T) {
	move := &fakeTool{
		name: "move",
		ok:   true,
		params: ObjectSchema(map[string]any{
			"angle": map[string]any{"type": "number", "minimum": 0, "maximum": 180},
		}, "angle"),
	}
	reg := NewRegistry(WithArgValidation(true))
	reg.MustRegister(move)

	obs, matched, err := reg.Dispatch(context.Background(), command("move", "r", `{"angle":270}`), "")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code)
	assert.Contains(t, obs.Error.Message, "angle")

	obs, _, _ = reg.Dispatch(context.Background(), command("move", "r", ""), "")
	assert.Equal(t, observation.CodeInvalidArgs, obs.Error.Code, "missing required arg")
	assert.Equal(t, 0, move.callCount())

	obs, matched, _ = reg.Dispatch(context.Background(), command("move", "r", `{"angle":90}`), "")
	assert.True(t, matched)
	assert.True(t, obs.OK)
	assert.Equal(t, 1, move.callCount())
}

func TestRegistry_ArgValidationDisabledByDefault(t *testing.T) {
	move := &fakeTool{name: "move", ok: true, params: ObjectSchema(nil, "angle")}
	reg := NewRegistry()
	reg.MustRegister(move)

	_, matched, _ := reg.Dispatch(context.Background(), command("move", "", ""), "")
	assert.True(t, matched)
}

func TestRegistry_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	reg := NewRegistry(WithMetrics(registry.CoreMetrics()))
	reg.MustRegister(&fakeTool{name: "A", ok: true})

	_, _, _ = reg.Dispatch(context.Background(), command("A", "", ""), "")
	_, _, _ = reg.Dispatch(context.Background(), command("nope", "", ""), "")

	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, counterValue(t, m, "A", metric.OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, m, "unknown", metric.OutcomeUnsupported))
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"device.command","tool":"echo","request_id":"r","args":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, "echo", cmd.Tool)
	assert.Equal(t, "r", cmd.RequestID)
	assert.JSONEq(t, `{"text":"hi"}`, string(cmd.Args))

	_, err = ParseCommand([]byte(`{"type":"device.command"`))
	assert.ErrorIs(t, err, errors.ErrMalformedCommand)

	_, err = ParseCommand([]byte(`{"type":"device.observation"}`))
	assert.ErrorIs(t, err, errors.ErrNotCommand)
}

func TestArgs(t *testing.T) {
	var v struct {
		N int `json:"n"`
	}
	v.N = 7
	require.NoError(t, Args(nil, &v))
	require.NoError(t, Args(json.RawMessage("null"), &v))
	assert.Equal(t, 7, v.N)

	require.NoError(t, Args(json.RawMessage(`{"n":3}`), &v))
	assert.Equal(t, 3, v.N)

	assert.ErrorIs(t, Args(json.RawMessage(`{"n":"x"}`), &v), errors.ErrInvalidData)
}

func TestHTTPBase(t *testing.T) {
	assert.Empty(t, HTTPBase(context.Background()))
	assert.Equal(t, "http://h", HTTPBase(WithHTTPBase(context.Background(), "http://h")))
}

func counterValue(t *testing.T, m *metric.Metrics, tool, outcome string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.CommandsDispatched.WithLabelValues(tool, outcome))
}
