package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/observation"
)

func TestEventTool_Describe(t *testing.T) {
	ev := NewEventTool(EventConfig{
		Name:        "digital_event",
		Description: "Digital input edges",
		EventTypes:  []string{"dio.rise", "dio.fall"},
		Properties: map[string]any{
			"interval_ms": map[string]any{"type": "integer", "minimum": 100},
			"op":          "ignored",
		},
	})

	data, err := json.Marshal(ev.Describe())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "digital_event",
		"description": "Digital input edges",
		"kind": "event",
		"parameters": {
			"type": "object",
			"properties": {
				"op": {"type": "string", "enum": ["subscribe", "unsubscribe"]},
				"interval_ms": {"type": "integer", "minimum": 100}
			},
			"required": ["op"]
		},
		"capabilities": {"subscribe": true, "unsubscribe": true},
		"signals": {"event_types": ["dio.rise", "dio.fall"]}
	}`, string(data))
}

func TestEventTool_Invoke(t *testing.T) {
	var subscribed, unsubscribed int
	ev := NewEventTool(EventConfig{
		Name: "ev",
		Subscribe: func(_ context.Context, _ json.RawMessage, out *observation.Builder) bool {
			subscribed++
			out.Success("subscribed")
			return true
		},
		Unsubscribe: func(_ context.Context, _ json.RawMessage, out *observation.Builder) bool {
			unsubscribed++
			out.Success("unsubscribed")
			return true
		},
	})

	tests := []struct {
		name string
		args string
		ok   bool
		code string
		text string
	}{
		{name: "subscribe", args: `{"op":"subscribe"}`, ok: true, text: "subscribed"},
		{name: "unsubscribe", args: `{"op":"unsubscribe"}`, ok: true, text: "unsubscribed"},
		{name: "missing op", args: `{}`, code: observation.CodeBadRequest},
		{name: "no args", args: ``, code: observation.CodeBadRequest},
		{name: "op wrong type", args: `{"op":5}`, code: observation.CodeBadRequest},
		{name: "unknown op", args: `{"op":"pause"}`, code: observation.CodeBadOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := observation.NewBuilder()
			var raw json.RawMessage
			if tt.args != "" {
				raw = json.RawMessage(tt.args)
			}
			ok := ev.Invoke(context.Background(), raw, out)
			obs := out.Build()

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, obs.OK)
			if tt.code != "" {
				require.NotNil(t, obs.Error)
				assert.Equal(t, tt.code, obs.Error.Code)
			} else {
				assert.Equal(t, tt.text, obs.Result.Text)
			}
		})
	}

	assert.Equal(t, 1, subscribed)
	assert.Equal(t, 1, unsubscribed)
}

func TestEventTool_DefaultHooksNotImplemented(t *testing.T) {
	ev := NewEventTool(EventConfig{Name: "ev"})
	out := observation.NewBuilder()

	assert.False(t, ev.Invoke(context.Background(), json.RawMessage(`{"op":"subscribe"}`), out))
	assert.Equal(t, observation.CodeNotImplemented, out.Build().Error.Code)
}

func TestEventTool_EmitWithoutEmitter(t *testing.T) {
	ev := NewEventTool(EventConfig{Name: "ev"})
	assert.NotPanics(t, func() {
		ev.Emit(context.Background(), observation.NewBuilder().Build())
	})
}
