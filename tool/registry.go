package tool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/observation"
)

// CodeToolPanic is reported when a tool panics during Invoke.
const CodeToolPanic = "tool_panic"

// Registry holds the device's tools in registration order.
type Registry struct {
	mu       sync.RWMutex
	tools    []Tool
	schemas  map[string]*gojsonschema.Schema
	sealed   bool
	validate bool

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records dispatch outcomes and durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithArgValidation validates command arguments against each tool's
// parameter schema before invoking it.
func WithArgValidation(enabled bool) Option {
	return func(r *Registry) { r.validate = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tool_registry")
	return r
}

// Register appends t. Names are unique and case-sensitive.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Registry", "Register", "register nil tool")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", t.Name(), errors.ErrSealed)
	}
	for _, existing := range r.tools {
		if existing.Name() == t.Name() {
			return fmt.Errorf("tool %q: %w", t.Name(), errors.ErrDuplicateName)
		}
	}

	if r.validate {
		params := t.Describe().Parameters
		if params == nil {
			params = ObjectSchema(nil)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
		if err != nil {
			return errors.WrapInvalid(err, "Registry", "Register", fmt.Sprintf("compile schema for %q", t.Name()))
		}
		r.schemas[t.Name()] = schema
	}

	r.tools = append(r.tools, t)
	return nil
}

// MustRegister registers each tool and panics on error. It is intended for
// startup wiring.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Tools returns the registered tools in order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Lookup returns the first tool whose name equals name exactly.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// InitAll runs every Initializer once, in order, without stopping at
// failures. It reports whether all of them succeeded. Failed tools stay
// registered.
func (r *Registry) InitAll(ctx context.Context) bool {
	ok := true
	for _, t := range r.Tools() {
		initializer, isInit := t.(Initializer)
		if !isInit {
			continue
		}
		if err := initializer.Init(ctx); err != nil {
			r.logger.Error("Tool init failed", "tool", t.Name(), "error", err)
			ok = false
			continue
		}
		r.logger.Debug("Tool initialized", "tool", t.Name())
	}
	return ok
}

// DescribeAll returns every tool's description in registration order.
func (r *Registry) DescribeAll() []Description {
	tools := r.Tools()
	out := make([]Description, 0, len(tools))
	for _, t := range tools {
		d := t.Describe()
		if d.Name == "" {
			d.Name = t.Name()
		}
		if d.Parameters == nil {
			d.Parameters = ObjectSchema(nil)
		}
		out = append(out, d)
	}
	return out
}

// Announce builds a fresh device.announce record.
func (r *Registry) Announce(deviceID, httpBase string) Announce {
	return Announce{
		Type:     AnnounceType,
		DeviceID: deviceID,
		HTTPBase: httpBase,
		Tools:    r.DescribeAll(),
	}
}

// Dispatch routes cmd to the tool it names and returns the resulting
// observation and the tool's success flag. Commands of another type return
// errors.ErrNotCommand without invoking anything. A missing request id is
// replaced by a generated one.
func (r *Registry) Dispatch(ctx context.Context, cmd Command, httpBase string) (observation.Observation, bool, error) {
	if cmd.Type != CommandType {
		return observation.Observation{}, false, fmt.Errorf("%w: type %q", errors.ErrNotCommand, cmd.Type)
	}

	requestID := cmd.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out := observation.NewBuilder().SetRequestID(requestID)

	target, found := r.Lookup(cmd.Tool)
	if !found {
		r.logger.Warn("Unsupported tool", "tool", cmd.Tool, "request_id", requestID)
		r.metrics.RecordDispatch("unknown", metric.OutcomeUnsupported, 0)
		out.Error(observation.CodeUnsupportedTool, "tool not found")
		return out.Build(), false, nil
	}

	if msg, valid := r.validateArgs(cmd); !valid {
		r.metrics.RecordDispatch(cmd.Tool, metric.OutcomeInvalidArgs, 0)
		out.Error(observation.CodeInvalidArgs, msg)
		return out.Build(), false, nil
	}

	start := time.Now()
	ok := r.invoke(WithHTTPBase(ctx, httpBase), target, cmd, out)
	elapsed := time.Since(start)

	outcome := metric.OutcomeOK
	if !ok {
		outcome = metric.OutcomeFailed
	}
	r.metrics.RecordDispatch(cmd.Tool, outcome, elapsed)
	r.logger.Debug("Tool invoked", "tool", cmd.Tool, "request_id", requestID, "ok", ok, "duration", elapsed)

	return out.Build(), ok, nil
}

func (r *Registry) invoke(ctx context.Context, t Tool, cmd Command, out *observation.Builder) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tool panicked", "tool", cmd.Tool, "panic", p, "stack", string(debug.Stack()))
			out.Error(CodeToolPanic, fmt.Sprint(p))
			ok = false
		}
	}()
	return t.Invoke(ctx, cmd.Args, out)
}

func (r *Registry) validateArgs(cmd Command) (string, bool) {
	if !r.validate {
		return "", true
	}

	r.mu.RLock()
	schema := r.schemas[cmd.Tool]
	r.mu.RUnlock()
	if schema == nil {
		return "", true
	}

	args := []byte(cmd.Args)
	if len(args) == 0 || string(args) == "null" {
		args = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Sprintf("args are not valid JSON: %v", err), false
	}
	if result.Valid() {
		return "", true
	}

	msg := ""
	for i, e := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += e.String()
	}
	return msg, false
}

// TickAll calls Tick on every tool that implements Ticker.
func (r *Registry) TickAll(now time.Time) {
	for _, t := range r.Tools() {
		if ticker, ok := t.(Ticker); ok {
			ticker.Tick(now)
		}
	}
}

// SetEmitter injects e into every tool that implements EmitterAware.
func (r *Registry) SetEmitter(e observation.Emitter) {
	for _, t := range r.Tools() {
		if aware, ok := t.(EmitterAware); ok {
			aware.SetEmitter(e)
		}
	}
}
