package builtin

import (
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// Set holds the installed mock capabilities so callers can mount HTTP
// handlers or drive them in tests.
type Set struct {
	Echo         Echo
	DigitalEvent *DigitalEvent
	Snapshot     *Snapshot
	ReadPort     *ReadPort
	Impact       *Impact

	VarA *port.InPort
	VarB *port.InPort
	VarC *port.InPort
}

// Install registers the mock tools on tools and the mock ports on ports.
// The snapshot tool is skipped when assets is nil.
func Install(tools *tool.Registry, ports *port.Registry, assets AssetSink, opts ...DigitalEventOption) (*Set, error) {
	s := &Set{
		DigitalEvent: NewDigitalEvent(opts...),
		ReadPort:     NewReadPort(ports),
		Impact:       NewImpact(),
	}

	toolset := []tool.Tool{s.Echo, s.DigitalEvent, s.ReadPort}
	if assets != nil {
		s.Snapshot = NewSnapshot(assets)
		toolset = append(toolset, s.Snapshot)
	}
	for _, t := range toolset {
		if err := tools.Register(t); err != nil {
			return nil, err
		}
	}

	if err := ports.AddOutPort(s.Impact); err != nil {
		return nil, err
	}
	var err error
	if s.VarA, err = ports.CreateInPort("var_a", port.TypeFloat); err != nil {
		return nil, err
	}
	if s.VarB, err = ports.CreateInPort("var_b", port.TypeFloat); err != nil {
		return nil, err
	}
	if s.VarC, err = ports.CreateInPort("var_c", port.TypeBool); err != nil {
		return nil, err
	}
	return s, nil
}
