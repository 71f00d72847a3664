package builtin

import (
	"context"
	"encoding/json"

	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// Echo replies with its text argument.
type Echo struct{}

var _ tool.Tool = Echo{}

func (Echo) Name() string { return "echo" }

func (Echo) Describe() tool.Description {
	return tool.Description{
		Name:        "echo",
		Description: "Echo text back",
		Parameters: tool.ObjectSchema(map[string]any{
			"text": map[string]any{"type": "string"},
		}, "text"),
	}
}

func (Echo) Invoke(_ context.Context, args json.RawMessage, out *observation.Builder) bool {
	var req struct {
		Text *string `json:"text"`
	}
	if err := tool.Args(args, &req); err != nil || req.Text == nil {
		out.Error(observation.CodeInvalidArgs, "text is required")
		return false
	}
	out.Success(*req.Text)
	return true
}
