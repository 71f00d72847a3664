package tool

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kawaiiTaiga/project-SABA/observation"
)

// Event tool operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// OpFunc handles one event tool operation.
type OpFunc func(ctx context.Context, args json.RawMessage, out *observation.Builder) bool

// EventConfig describes an event tool.
type EventConfig struct {
	Name        string
	Description string
	EventTypes  []string
	// Properties are extra argument properties next to "op".
	Properties  map[string]any
	Subscribe   OpFunc
	Unsubscribe OpFunc
}

// EventTool is a tool driven by an "op" argument that emits unsolicited
// observations through an injected Emitter. Concrete event tools embed it
// and usually implement Ticker to produce events.
type EventTool struct {
	cfg EventConfig

	mu      sync.RWMutex
	emitter observation.Emitter
}

var (
	_ Tool         = (*EventTool)(nil)
	_ EmitterAware = (*EventTool)(nil)
)

// NewEventTool creates an event tool. Operations without a handler report
// not_impl.
func NewEventTool(cfg EventConfig) *EventTool {
	return &EventTool{cfg: cfg}
}

// Name returns the tool name.
func (e *EventTool) Name() string { return e.cfg.Name }

// Describe returns an announce entry with kind "event".
func (e *EventTool) Describe() Description {
	props := map[string]any{
		"op": map[string]any{
			"type": "string",
			"enum": []string{OpSubscribe, OpUnsubscribe},
		},
	}
	for k, v := range e.cfg.Properties {
		if k == "op" {
			continue
		}
		props[k] = v
	}

	eventTypes := e.cfg.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	return Description{
		Name:         e.cfg.Name,
		Description:  e.cfg.Description,
		Kind:         KindEvent,
		Parameters:   ObjectSchema(props, "op"),
		Capabilities: map[string]bool{OpSubscribe: true, OpUnsubscribe: true},
		Signals:      &Signals{EventTypes: eventTypes},
	}
}

// Invoke routes on the "op" argument.
func (e *EventTool) Invoke(ctx context.Context, args json.RawMessage, out *observation.Builder) bool {
	var req struct {
		Op string `json:"op"`
	}
	if err := Args(args, &req); err != nil || req.Op == "" {
		out.Error(observation.CodeBadRequest, "op is required")
		return false
	}

	var handler OpFunc
	switch req.Op {
	case OpSubscribe:
		handler = e.cfg.Subscribe
	case OpUnsubscribe:
		handler = e.cfg.Unsubscribe
	default:
		out.Error(observation.CodeBadOp, "unsupported op")
		return false
	}

	if handler == nil {
		out.Error(observation.CodeNotImplemented, req.Op+" not implemented")
		return false
	}
	return handler(ctx, args, out)
}

// SetEmitter injects the emitter used by Emit.
func (e *EventTool) SetEmitter(em observation.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitter = em
}

// Emit sends an unsolicited observation. It is a no-op before an emitter
// has been injected.
func (e *EventTool) Emit(ctx context.Context, obs observation.Observation) {
	e.mu.RLock()
	em := e.emitter
	e.mu.RUnlock()
	if em != nil {
		em.Emit(ctx, obs)
	}
}
