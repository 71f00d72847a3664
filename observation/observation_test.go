package observation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_DefaultsToFailure(t *testing.T) {
	obs := NewBuilder().Build()

	assert.Equal(t, Type, obs.Type)
	assert.False(t, obs.OK)
	require.NotNil(t, obs.Error)
	assert.Equal(t, CodeNotImplemented, obs.Error.Code)
	assert.Empty(t, obs.Result.Text)
	assert.NotNil(t, obs.Result.Assets)
}

func TestBuilder_SuccessClearsError(t *testing.T) {
	obs := NewBuilder().
		SetRequestID("r-1").
		Error(CodeBadOp, "unsupported op").
		Success("done").
		Build()

	assert.True(t, obs.OK)
	assert.Nil(t, obs.Error)
	assert.Equal(t, "done", obs.Result.Text)
	assert.Equal(t, "r-1", obs.RequestID)
}

func TestBuilder_BuildReturnsCopy(t *testing.T) {
	b := NewBuilder().Success("x")
	b.AddAsset(Asset{AssetID: "a", URL: "/a"})
	first := b.Build()

	first.Result.Assets[0].URL = "mutated"
	second := b.Build()

	assert.Equal(t, "/a", second.Result.Assets[0].URL)
}

func TestObservation_JSONShape(t *testing.T) {
	t.Run("success omits error and keeps empty assets", func(t *testing.T) {
		data, err := NewBuilder().SetRequestID("r-2").Success("").Build().Marshal()
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "device.observation", raw["type"])
		assert.Equal(t, true, raw["ok"])
		assert.Equal(t, "r-2", raw["request_id"])
		assert.NotContains(t, raw, "error")

		result := raw["result"].(map[string]any)
		assert.Equal(t, "", result["text"])
		assert.Equal(t, []any{}, result["assets"])
	})

	t.Run("failure carries error", func(t *testing.T) {
		data, err := NewBuilder().Error(CodeUnsupportedTool, "tool not found").Build().Marshal()
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"type":"device.observation","ok":false,"result":{"text":"","assets":[]},"error":{"code":"unsupported_tool","message":"tool not found"}}`,
			string(data))
	})

	t.Run("nil assets still encode as array", func(t *testing.T) {
		data, err := json.Marshal(Observation{Type: Type, OK: true})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"assets":[]`)
	})
}

func TestAsset_ExtraFields(t *testing.T) {
	a := Asset{Kind: "event", Extra: map[string]any{"event_type": "dio.rise", "value": 1, "kind": "ignored"}}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"event","event_type":"dio.rise","value":1}`, string(data))

	var decoded Asset
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "event", decoded.Kind)
	assert.Equal(t, "dio.rise", decoded.Extra["event_type"])
	assert.Equal(t, float64(1), decoded.Extra["value"])
}

func TestAsset_OnlyExtra(t *testing.T) {
	data, err := json.Marshal(Asset{Extra: map[string]any{"value": 0}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":0}`, string(data))
}

func TestParse(t *testing.T) {
	obs, err := Parse([]byte(`{"type":"device.observation","ok":true,"request_id":"abc","result":{"text":"hi","assets":[{"asset_id":"1","url":"/x"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", obs.RequestID)
	require.Len(t, obs.Result.Assets, 1)
	assert.Equal(t, "/x", obs.Result.Assets[0].URL)

	_, err = Parse([]byte(`{"type":"device.status"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestPatchAssetURLs(t *testing.T) {
	obs := NewBuilder().
		AddAsset(Asset{AssetID: "rel", URL: "/last.jpg"}).
		AddAsset(Asset{AssetID: "abs", URL: "https://cdn.example.com/a.png"}).
		AddAsset(Asset{AssetID: "none"}).
		Success("ok").
		Build()

	patched := PatchAssetURLs(obs, "http://10.0.0.5")

	assert.Equal(t, "http://10.0.0.5/last.jpg", patched.Result.Assets[0].URL)
	assert.Equal(t, "https://cdn.example.com/a.png", patched.Result.Assets[1].URL)
	assert.Equal(t, "", patched.Result.Assets[2].URL)
	assert.Equal(t, "/last.jpg", obs.Result.Assets[0].URL, "input must not be modified")
}

func TestPatchAssetURLs_BaseVariants(t *testing.T) {
	obs := NewBuilder().AddAsset(Asset{URL: "/last.jpg"}).Success("").Build()

	assert.Equal(t, "http://10.0.0.5/last.jpg", PatchAssetURLs(obs, "http://10.0.0.5/").Result.Assets[0].URL)
	assert.Equal(t, "/last.jpg", PatchAssetURLs(obs, "").Result.Assets[0].URL)
}

type publishCall struct {
	topic    string
	payload  []byte
	retained bool
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, payload: payload, retained: retained})
	return p.err
}

func TestTransportEmitter_Emit(t *testing.T) {
	pub := &recordingPublisher{}
	base := "http://10.0.0.5"
	emitter := NewTransportEmitter(pub, "mcp/dev/d1/events", func() string { return base }, nil)

	obs := NewBuilder().AddAsset(Asset{URL: "/last.jpg"}).Success("snap").Build()
	emitter.Emit(context.Background(), obs)

	// base is read at emit time
	base = "http://10.0.0.9"
	emitter.Emit(context.Background(), obs)

	require.Len(t, pub.calls, 2)
	for _, c := range pub.calls {
		assert.Equal(t, "mcp/dev/d1/events", c.topic)
		assert.False(t, c.retained)
	}

	first, err := Parse(pub.calls[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5/last.jpg", first.Result.Assets[0].URL)

	second, err := Parse(pub.calls[1].payload)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9/last.jpg", second.Result.Assets[0].URL)
}

func TestTransportEmitter_PublishFailureIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not connected")}
	emitter := NewTransportEmitter(pub, "events", nil, nil)

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), NewBuilder().Success("x").Build())
	})
	assert.Len(t, pub.calls, 1)
}

func TestEmitterFunc(t *testing.T) {
	var got Observation
	var e Emitter = EmitterFunc(func(_ context.Context, obs Observation) { got = obs })

	e.Emit(context.Background(), NewBuilder().SetRequestID("z").Success("").Build())
	assert.Equal(t, "z", got.RequestID)
}
