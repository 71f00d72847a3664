package port

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/pkg/timestamp"
)

// Port-set outcomes recorded in metrics.
const (
	SetApplied   = "applied"
	SetUnknown   = "unknown"
	SetMalformed = "malformed"
)

type outEntry struct {
	port      OutPort
	lastFired time.Time
	fired     bool
}

// Registry owns the InPort slots and references the OutPorts of a device.
type Registry struct {
	mu     sync.RWMutex
	outs   []*outEntry
	ins    []*InPort
	sealed bool

	publisher ReadingPublisher
	logger    *slog.Logger
	metrics   *metric.Metrics
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

// WithMetrics records samples and port-set outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithPublisher sets where SampleAll sends readings.
func WithPublisher(p ReadingPublisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "port_registry")
	return r
}

// SetPublisher replaces the reading publisher.
func (r *Registry) SetPublisher(p ReadingPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// AddOutPort registers p by reference.
func (r *Registry) AddOutPort(p OutPort) error {
	if p == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Registry", "AddOutPort", "add nil port")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("outport %q: %w", p.Name(), errors.ErrSealed)
	}
	r.outs = append(r.outs, &outEntry{port: p})
	return nil
}

// CreateInPort appends a zero-valued slot. Duplicate names create separate
// slots; lookups return the first.
func (r *Registry) CreateInPort(name, dataType string) (*InPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, fmt.Errorf("inport %q: %w", name, errors.ErrSealed)
	}
	p := newInPort(name, dataType)
	r.ins = append(r.ins, p)
	return p, nil
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// OutPortCount returns the number of OutPorts.
func (r *Registry) OutPortCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outs)
}

// InPortCount returns the number of InPort slots.
func (r *Registry) InPortCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ins)
}

// FindInPort returns the first slot named name.
func (r *Registry) FindInPort(name string) (*InPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.ins {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Value returns the current value of the first slot named name.
func (r *Registry) Value(name string) (float64, bool) {
	p, ok := r.FindInPort(name)
	if !ok {
		return 0, false
	}
	return p.Value(), true
}

// SetInPort writes value to the first slot named name. An unknown name is
// logged and dropped without touching any slot.
func (r *Registry) SetInPort(name string, value float64) bool {
	p, ok := r.FindInPort(name)
	if !ok {
		r.logger.Warn("InPort not found, set dropped", "port", name)
		r.metrics.RecordPortSet(SetUnknown)
		return false
	}
	p.Set(value)
	r.metrics.RecordPortSet(SetApplied)
	r.logger.Debug("InPort set", "port", name, "value", value)
	return true
}

// ApplySet parses a ports/set payload and applies it.
func (r *Registry) ApplySet(data []byte) (Set, bool) {
	set, err := ParseSet(data)
	if err != nil {
		r.logger.Warn("Malformed ports.set", "error", err)
		r.metrics.RecordPortSet(SetMalformed)
		return Set{}, false
	}
	return set, r.SetInPort(set.Port, set.Value)
}

// SampleAll samples every OutPort whose period has elapsed since it last
// fired. The first call fires every port. It returns the number of
// readings produced.
func (r *Registry) SampleAll(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var due []OutPort
	for _, e := range r.outs {
		if e.fired && now.Sub(e.lastFired) < e.port.Period() {
			continue
		}
		e.fired = true
		e.lastFired = now
		due = append(due, e.port)
	}
	publisher := r.publisher
	r.mu.Unlock()

	produced := 0
	for _, p := range due {
		value, ok := p.Sample(now)
		if !ok {
			continue
		}
		produced++
		r.metrics.RecordPortSample(p.Name())
		if publisher == nil {
			continue
		}
		if err := publisher.PublishReading(ctx, NewReading(p.Name(), value, now)); err != nil {
			r.logger.Debug("Reading not published", "port", p.Name(), "error", err)
		}
	}
	return produced
}

// BuildAnnounce builds a fresh ports.announce record.
func (r *Registry) BuildAnnounce(deviceID string, now time.Time) Announce {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ann := Announce{
		Type:      AnnounceType,
		DeviceID:  deviceID,
		Timestamp: timestamp.Format(now),
		OutPorts:  make([]Description, 0, len(r.outs)),
		InPorts:   make([]Description, 0, len(r.ins)),
	}
	for _, e := range r.outs {
		d := e.port.Describe()
		d.Type = KindOut
		if d.Name == "" {
			d.Name = e.port.Name()
		}
		if d.UpdateRateHz == 0 && e.port.Period() > 0 {
			d.UpdateRateHz = float64(time.Second) / float64(e.port.Period())
		}
		ann.OutPorts = append(ann.OutPorts, d)
	}
	for _, p := range r.ins {
		ann.InPorts = append(ann.InPorts, p.Describe())
	}
	return ann
}
