package builtin

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// PortReader looks up InPort slots by name.
type PortReader interface {
	FindInPort(name string) (*port.InPort, bool)
}

// ReadPort reports the current value of an InPort.
type ReadPort struct {
	ports PortReader
}

var _ tool.Tool = (*ReadPort)(nil)

// NewReadPort creates the read_port tool over ports.
func NewReadPort(ports PortReader) *ReadPort {
	return &ReadPort{ports: ports}
}

func (*ReadPort) Name() string { return "read_port" }

func (*ReadPort) Describe() tool.Description {
	return tool.Description{
		Name:        "read_port",
		Description: "Read the current value of an InPort",
		Parameters: tool.ObjectSchema(map[string]any{
			"port": map[string]any{"type": "string"},
		}, "port"),
	}
}

// Invoke replies with the value as text and attaches a "port" asset
// carrying the numeric value and data type.
func (r *ReadPort) Invoke(_ context.Context, args json.RawMessage, out *observation.Builder) bool {
	var req struct {
		Port string `json:"port"`
	}
	if err := tool.Args(args, &req); err != nil || req.Port == "" {
		out.Error(observation.CodeInvalidArgs, "port is required")
		return false
	}

	p, ok := r.ports.FindInPort(req.Port)
	if !ok {
		out.Error(observation.CodeInvalidArgs, "unknown InPort '"+req.Port+"'")
		return false
	}

	v := p.Value()
	text := strconv.FormatFloat(v, 'g', -1, 64)
	var value any = v
	if p.DataType() == port.TypeBool {
		b := v != 0
		text = strconv.FormatBool(b)
		value = b
	}

	out.Success(text).AddAsset(observation.Asset{
		Kind: "port",
		Extra: map[string]any{
			"port":      p.Name(),
			"data_type": p.DataType(),
			"value":     value,
		},
	})
	return true
}
