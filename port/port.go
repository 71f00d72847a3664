package port

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/pkg/timestamp"
)

// Record types and port kinds.
const (
	AnnounceType = "ports.announce"
	KindOut      = "outport"
	KindIn       = "inport"

	// TimestampFormat is the UTC second-resolution format used in port records.
	TimestampFormat = timestamp.Layout
)

// Common data type tags.
const (
	TypeFloat = "float"
	TypeInt   = "int"
	TypeBool  = "bool"
)

// Description is the announce entry for one port.
type Description struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	DataType     string  `json:"data_type"`
	Description  string  `json:"description"`
	UpdateRateHz float64 `json:"update_rate_hz,omitempty"`
}

// OutPort produces readings. The registry decides when a reading is due
// based on Period; Sample only has to produce the value.
type OutPort interface {
	Name() string
	Describe() Description
	Period() time.Duration
	// Sample returns the current reading; false means nothing to report.
	Sample(now time.Time) (float64, bool)
}

// FuncOutPort adapts a sampling function to OutPort.
type FuncOutPort struct {
	PortName    string
	DataType    string
	Description string
	Every       time.Duration
	SampleFunc  func(now time.Time) (float64, bool)
}

func (f *FuncOutPort) Name() string          { return f.PortName }
func (f *FuncOutPort) Period() time.Duration { return f.Every }

func (f *FuncOutPort) Describe() Description {
	return Description{Name: f.PortName, Type: KindOut, DataType: f.DataType, Description: f.Description}
}

func (f *FuncOutPort) Sample(now time.Time) (float64, bool) {
	if f.SampleFunc == nil {
		return 0, false
	}
	return f.SampleFunc(now)
}

// InPort is a remotely settable variable slot. The value is stored
// atomically so tools may read it while ingress writes it.
type InPort struct {
	name     string
	dataType string
	bits     atomic.Uint64
}

func newInPort(name, dataType string) *InPort {
	return &InPort{name: name, dataType: dataType}
}

func (p *InPort) Name() string     { return p.name }
func (p *InPort) DataType() string { return p.dataType }

// Value returns the current value; a new slot reads zero.
func (p *InPort) Value() float64 { return math.Float64frombits(p.bits.Load()) }

// Set overwrites the value. The data type tag is not enforced.
func (p *InPort) Set(v float64) { p.bits.Store(math.Float64bits(v)) }

// Describe returns the announce entry for the slot.
func (p *InPort) Describe() Description {
	return Description{
		Name:        p.name,
		Type:        KindIn,
		DataType:    p.dataType,
		Description: "General-purpose variable slot",
	}
}

// Reading is one OutPort sample published on ports/data.
type Reading struct {
	Port      string  `json:"port"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// NewReading stamps value with now.
func NewReading(port string, value float64, now time.Time) Reading {
	return Reading{Port: port, Value: value, Timestamp: timestamp.Format(now)}
}

// ReadingPublisher delivers readings to ports/data.
type ReadingPublisher interface {
	PublishReading(ctx context.Context, r Reading) error
}

// ReadingPublisherFunc adapts a function to ReadingPublisher.
type ReadingPublisherFunc func(ctx context.Context, r Reading) error

// PublishReading calls f.
func (f ReadingPublisherFunc) PublishReading(ctx context.Context, r Reading) error { return f(ctx, r) }

// Set is an inbound ports/set record.
type Set struct {
	Port  string  `json:"port"`
	Value float64 `json:"value"`
}

// ParseSet decodes a ports/set payload. A missing value reads as zero and
// booleans map to 1 and 0.
func ParseSet(data []byte) (Set, error) {
	var raw struct {
		Port  string          `json:"port"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Set{}, fmt.Errorf("%w: ports.set: %v", errors.ErrInvalidData, err)
	}
	if raw.Port == "" {
		return Set{}, fmt.Errorf("%w: ports.set missing port", errors.ErrInvalidData)
	}

	set := Set{Port: raw.Port}
	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || string(v) == "null":
	case string(v) == "true":
		set.Value = 1
	case string(v) == "false":
		set.Value = 0
	default:
		if err := json.Unmarshal(v, &set.Value); err != nil {
			return Set{}, fmt.Errorf("%w: ports.set value: %v", errors.ErrInvalidData, err)
		}
	}
	return set, nil
}

// Announce is the retained ports.announce record.
type Announce struct {
	Type      string        `json:"type"`
	DeviceID  string        `json:"device_id"`
	Timestamp string        `json:"timestamp"`
	OutPorts  []Description `json:"outports"`
	InPorts   []Description `json:"inports"`
}
