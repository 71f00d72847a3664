package controller

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/port"
)

// Threshold modes.
const (
	ThresholdAbove = "above"
	ThresholdBelow = "below"
	ThresholdEqual = "equal"
)

const thresholdEpsilon = 0.001

// Transform maps an OutPort value before it is written to an InPort.
// Steps apply in field order: scale, offset, clamp, threshold, invert,
// range mapping.
type Transform struct {
	Scale         *float64    `json:"scale,omitempty" yaml:"scale,omitempty"`
	Offset        *float64    `json:"offset,omitempty" yaml:"offset,omitempty"`
	Min           *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Threshold     *float64    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ThresholdMode string      `json:"threshold_mode,omitempty" yaml:"threshold_mode,omitempty"`
	Invert        bool        `json:"invert,omitempty" yaml:"invert,omitempty"`
	MapFrom       *[2]float64 `json:"map_from,omitempty" yaml:"map_from,omitempty"`
	MapTo         *[2]float64 `json:"map_to,omitempty" yaml:"map_to,omitempty"`
}

// Apply returns the transformed value.
func (t Transform) Apply(v float64) float64 {
	if t.Scale != nil {
		v *= *t.Scale
	}
	if t.Offset != nil {
		v += *t.Offset
	}
	if t.Min != nil {
		v = math.Max(v, *t.Min)
	}
	if t.Max != nil {
		v = math.Min(v, *t.Max)
	}
	if t.Threshold != nil {
		th := *t.Threshold
		var hit bool
		switch t.ThresholdMode {
		case ThresholdBelow:
			hit = v < th
		case ThresholdEqual:
			hit = math.Abs(v-th) < thresholdEpsilon
		default:
			hit = v > th
		}
		v = 0
		if hit {
			v = 1
		}
	}
	if t.Invert {
		v = -v
	}
	if t.MapFrom != nil && t.MapTo != nil && t.MapFrom[1] != t.MapFrom[0] {
		norm := (v - t.MapFrom[0]) / (t.MapFrom[1] - t.MapFrom[0])
		v = t.MapTo[0] + norm*(t.MapTo[1]-t.MapTo[0])
	}
	return v
}

// Route connects an OutPort to an InPort, both written "device_id/port".
type Route struct {
	Source      string    `json:"source" yaml:"source"`
	Target      string    `json:"target" yaml:"target"`
	Transform   Transform `json:"transform,omitempty" yaml:"transform,omitempty"`
	Disabled    bool      `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// ID identifies the route by its endpoints.
func (r Route) ID() string { return r.Source + "->" + r.Target }

// Validate checks both endpoints.
func (r Route) Validate() error {
	for _, ep := range []string{r.Source, r.Target} {
		if _, _, err := SplitPortID(ep); err != nil {
			return errors.WrapInvalid(err, "Route", "Validate", "check endpoint")
		}
	}
	switch r.Transform.ThresholdMode {
	case "", ThresholdAbove, ThresholdBelow, ThresholdEqual:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: threshold_mode %q", errors.ErrInvalidConfig, r.Transform.ThresholdMode),
			"Route", "Validate", "check transform")
	}
	return nil
}

// SplitPortID splits "device_id/port" into its parts.
func SplitPortID(id string) (deviceID, portName string, err error) {
	deviceID, portName, ok := strings.Cut(id, "/")
	if !ok || deviceID == "" || portName == "" {
		return "", "", fmt.Errorf("%w: port id %q, want device_id/port", errors.ErrInvalidConfig, id)
	}
	return deviceID, portName, nil
}

// Forward is one InPort write produced by routing a reading.
type Forward struct {
	DeviceID string
	Set      port.Set
}

// Router holds the OutPort to InPort routing table.
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// NewRouter creates a router with routes. Invalid routes are rejected.
func NewRouter(routes ...Route) (*Router, error) {
	r := &Router{}
	for _, rt := range routes {
		if err := r.Add(rt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add inserts rt. A route with the same endpoints is replaced.
func (r *Router) Add(rt Route) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].ID() == rt.ID() {
			r.routes[i] = rt
			return nil
		}
	}
	r.routes = append(r.routes, rt)
	return nil
}

// Remove deletes the route between source and target.
func (r *Router) Remove(source, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].Source == source && r.routes[i].Target == target {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Routes returns a copy of the table.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Route(nil), r.routes...)
}

// Route returns the InPort writes for a reading from deviceID.
func (r *Router) Route(deviceID string, reading port.Reading) []Forward {
	source := deviceID + "/" + reading.Port
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Forward
	for _, rt := range r.routes {
		if rt.Disabled || rt.Source != source {
			continue
		}
		target, name, err := SplitPortID(rt.Target)
		if err != nil {
			continue
		}
		out = append(out, Forward{
			DeviceID: target,
			Set:      port.Set{Port: name, Value: rt.Transform.Apply(reading.Value)},
		})
	}
	return out
}

// routesFile is the on-disk routing table. YAML is a superset of JSON so
// both formats load.
type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes reads a routing table from a YAML or JSON file.
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "controller", "LoadRoutes", "read file")
	}
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapInvalid(err, "controller", "LoadRoutes", "decode routes")
	}
	for _, rt := range f.Routes {
		if err := rt.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Routes, nil
}
