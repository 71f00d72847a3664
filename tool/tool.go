package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/observation"
)

// Record types handled by this package.
const (
	CommandType  = "device.command"
	AnnounceType = "device.announce"
	KindEvent    = "event"
)

// Tool is a named capability a controller can invoke.
type Tool interface {
	Name() string
	Describe() Description
	// Invoke runs the tool and fills out. The returned bool is the tool's own
	// success flag and is passed through to the caller unchanged.
	Invoke(ctx context.Context, args json.RawMessage, out *observation.Builder) bool
}

// Initializer is implemented by tools that need one-time setup.
type Initializer interface {
	Init(ctx context.Context) error
}

// Ticker is implemented by tools with periodic work, such as event tools
// that emit observations on their own schedule.
type Ticker interface {
	Tick(now time.Time)
}

// EmitterAware is implemented by tools that emit unsolicited observations.
// The runtime injects its emitter before starting.
type EmitterAware interface {
	SetEmitter(e observation.Emitter)
}

// Schema is a JSON-schema document.
type Schema map[string]any

// Signals lists the event types an event tool can produce.
type Signals struct {
	EventTypes []string `json:"event_types"`
}

// Description is the announce entry for one tool.
type Description struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Kind         string          `json:"kind,omitempty"`
	Parameters   Schema          `json:"parameters"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
	Signals      *Signals        `json:"signals,omitempty"`
}

// ObjectSchema returns {"type":"object","properties":props,"required":required}.
func ObjectSchema(props map[string]any, required ...string) Schema {
	if props == nil {
		props = map[string]any{}
	}
	s := Schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Command is an inbound device.command record.
type Command struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool"`
	RequestID string          `json:"request_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ParseCommand decodes a command payload. Invalid JSON yields
// errors.ErrMalformedCommand and any other record type errors.ErrNotCommand.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err)
	}
	if cmd.Type != CommandType {
		return cmd, fmt.Errorf("%w: type %q", errors.ErrNotCommand, cmd.Type)
	}
	return cmd, nil
}

// Announce is the retained device.announce record.
type Announce struct {
	Type     string        `json:"type"`
	DeviceID string        `json:"device_id"`
	HTTPBase string        `json:"http_base"`
	Tools    []Description `json:"tools"`
}

type httpBaseKey struct{}

// WithHTTPBase returns a context carrying the device HTTP base URL.
func WithHTTPBase(ctx context.Context, base string) context.Context {
	return context.WithValue(ctx, httpBaseKey{}, base)
}

// HTTPBase returns the HTTP base URL passed to Dispatch, or "".
func HTTPBase(ctx context.Context) string {
	base, _ := ctx.Value(httpBaseKey{}).(string)
	return base
}

// Args decodes raw tool arguments into v. Missing or null arguments leave v
// untouched.
func Args(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
	}
	return nil
}
