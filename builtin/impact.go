package builtin

import (
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/port"
)

// Impact sweep bounds.
const (
	ImpactMin    = 1.0
	ImpactMax    = 100.0
	ImpactPeriod = time.Second
)

// Impact is a triangle wave OutPort. Each sample steps by one before it is
// reported, so the first value is 2, then up to 100 and back down to 1.
type Impact struct {
	name string

	mu    sync.Mutex
	value float64
	up    bool
}

var _ port.OutPort = (*Impact)(nil)

// NewImpact creates the impact_live OutPort.
func NewImpact() *Impact {
	return &Impact{name: "impact_live", value: ImpactMin, up: true}
}

func (i *Impact) Name() string          { return i.name }
func (i *Impact) Period() time.Duration { return ImpactPeriod }

func (i *Impact) Describe() port.Description {
	return port.Description{
		Name:        i.name,
		Type:        port.KindOut,
		DataType:    port.TypeFloat,
		Description: "1->100->1",
	}
}

func (i *Impact) Sample(time.Time) (float64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.up {
		i.value++
		if i.value >= ImpactMax {
			i.value = ImpactMax
			i.up = false
		}
	} else {
		i.value--
		if i.value <= ImpactMin {
			i.value = ImpactMin
			i.up = true
		}
	}
	return i.value, true
}
