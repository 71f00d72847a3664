package controller

import (
	"sort"
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/device"
	"github.com/kawaiiTaiga/project-SABA/pkg/timestamp"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// DefaultStaleAfter is how long a device counts as online after its last
// online status. Devices publish status every 30s.
const DefaultStaleAfter = 90 * time.Second

// Device is the controller's view of one device.
type Device struct {
	ID       string             `json:"device_id"`
	HTTPBase string             `json:"http_base,omitempty"`
	Tools    []tool.Description `json:"tools"`
	OutPorts []port.Description `json:"outports"`
	InPorts  []port.Description `json:"inports"`

	Online     bool      `json:"online"`
	UptimeMS   int64     `json:"uptime_ms"`
	RSSI       *int      `json:"rssi,omitempty"`
	LastStatus time.Time `json:"last_status,omitempty"`
	LastSeen   time.Time `json:"last_seen"`

	// ReportedAt is the device clock from its last status; ClockSkew is how
	// far it lagged the receipt time. Both are zero for unsynced clocks.
	ReportedAt time.Time     `json:"reported_at,omitempty"`
	ClockSkew  time.Duration `json:"clock_skew,omitempty"`

	// Announced is false for devices only known from status or port traffic.
	Announced bool                    `json:"announced"`
	Readings  map[string]port.Reading `json:"readings,omitempty"`
}

// HasTool reports whether the device announced a tool named name.
func (d Device) HasTool(name string) bool {
	for _, t := range d.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// HasInPort reports whether the device announced an InPort named name.
func (d Device) HasInPort(name string) bool {
	for _, p := range d.InPorts {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (d Device) clone() Device {
	out := d
	out.Tools = append([]tool.Description(nil), d.Tools...)
	out.OutPorts = append([]port.Description(nil), d.OutPorts...)
	out.InPorts = append([]port.Description(nil), d.InPorts...)
	if d.RSSI != nil {
		rssi := *d.RSSI
		out.RSSI = &rssi
	}
	if d.Readings != nil {
		out.Readings = make(map[string]port.Reading, len(d.Readings))
		for k, v := range d.Readings {
			out.Readings[k] = v
		}
	}
	return out
}

// DeviceStore tracks devices from their retained announces, status
// messages and port traffic.
type DeviceStore struct {
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewDeviceStore creates a store. staleAfter <= 0 selects DefaultStaleAfter.
func NewDeviceStore(staleAfter time.Duration, now func() time.Time) *DeviceStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &DeviceStore{
		staleAfter: staleAfter,
		now:        now,
		devices:    make(map[string]*Device),
	}
}

func (s *DeviceStore) entry(id string) *Device {
	d, ok := s.devices[id]
	if !ok {
		d = &Device{ID: id}
		s.devices[id] = d
	}
	d.LastSeen = s.now()
	return d
}

// UpsertAnnounce records a capability announce.
func (s *DeviceStore) UpsertAnnounce(id string, a tool.Announce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.entry(id)
	d.HTTPBase = a.HTTPBase
	d.Tools = append([]tool.Description(nil), a.Tools...)
	d.Announced = true
}

// UpsertPorts records a ports announce.
func (s *DeviceStore) UpsertPorts(id string, a port.Announce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.entry(id)
	d.OutPorts = append([]port.Description(nil), a.OutPorts...)
	d.InPorts = append([]port.Description(nil), a.InPorts...)
}

// UpdateStatus records a status message.
func (s *DeviceStore) UpdateStatus(id string, st device.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.entry(id)
	d.Online = st.Online
	d.UptimeMS = st.UptimeMS
	d.RSSI = st.RSSI
	d.LastStatus = s.now()

	d.ReportedAt, d.ClockSkew = time.Time{}, 0
	if reported, err := timestamp.Parse(st.TS); err == nil {
		d.ReportedAt = reported
		d.ClockSkew = timestamp.Skew(reported, d.LastStatus)
	}
}

// RecordReading stores the latest reading of an OutPort.
func (s *DeviceStore) RecordReading(id string, r port.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.entry(id)
	if d.Readings == nil {
		d.Readings = make(map[string]port.Reading)
	}
	d.Readings[r.Port] = r
}

// Forget drops a device, for example after its retained announce was cleared.
func (s *DeviceStore) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
}

// Get returns a snapshot of one device.
func (s *DeviceStore) Get(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	out := d.clone()
	out.Online = s.online(d)
	return out, true
}

// Devices returns a snapshot of every known device, sorted by id. A device
// is reported online only while its last online status is fresher than
// the stale threshold.
func (s *DeviceStore) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		c := d.clone()
		c.Online = s.online(d)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *DeviceStore) online(d *Device) bool {
	if !d.Online || d.LastStatus.IsZero() {
		return false
	}
	return s.now().Sub(d.LastStatus) < s.staleAfter
}
