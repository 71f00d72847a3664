package builtin

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// Digital event types.
const (
	EventRise = "dio.rise"
	EventFall = "dio.fall"
)

// DefaultEventInterval is the emit interval when subscribe omits interval_ms.
const DefaultEventInterval = 10 * time.Second

const minEventInterval = 100 * time.Millisecond

// DigitalEvent emits random rise and fall events while subscribed.
type DigitalEvent struct {
	*tool.EventTool

	coin func() bool
	now  func() time.Time

	mu       sync.Mutex
	active   bool
	interval time.Duration
	last     time.Time
}

var _ tool.Ticker = (*DigitalEvent)(nil)

// DigitalEventOption configures a DigitalEvent.
type DigitalEventOption func(*DigitalEvent)

// WithCoin replaces the random rise/fall choice. true means rise.
func WithCoin(coin func() bool) DigitalEventOption {
	return func(d *DigitalEvent) { d.coin = coin }
}

// WithEventClock sets the clock used to stamp subscriptions.
func WithEventClock(now func() time.Time) DigitalEventOption {
	return func(d *DigitalEvent) { d.now = now }
}

// NewDigitalEvent creates the digital_event tool.
func NewDigitalEvent(opts ...DigitalEventOption) *DigitalEvent {
	d := &DigitalEvent{
		coin:     func() bool { return rand.IntN(2) == 0 },
		now:      time.Now,
		interval: DefaultEventInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.EventTool = tool.NewEventTool(tool.EventConfig{
		Name:        "digital_event",
		Description: "Mock: random dio events (rise/fall)",
		EventTypes:  []string{EventRise, EventFall},
		Properties: map[string]any{
			"interval_ms": map[string]any{
				"type":    "integer",
				"minimum": minEventInterval.Milliseconds(),
				"default": DefaultEventInterval.Milliseconds(),
			},
		},
		Subscribe:   d.subscribe,
		Unsubscribe: d.unsubscribe,
	})
	return d
}

// Active reports whether a subscription is in effect.
func (d *DigitalEvent) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *DigitalEvent) subscribe(_ context.Context, args json.RawMessage, out *observation.Builder) bool {
	var req struct {
		IntervalMS *int64 `json:"interval_ms"`
	}
	if err := tool.Args(args, &req); err != nil {
		out.Error(observation.CodeInvalidArgs, err.Error())
		return false
	}

	interval := DefaultEventInterval
	if req.IntervalMS != nil {
		interval = time.Duration(*req.IntervalMS) * time.Millisecond
		if interval < minEventInterval {
			out.Error(observation.CodeInvalidArgs, "interval_ms must be >= 100")
			return false
		}
	}

	d.mu.Lock()
	d.active = true
	d.interval = interval
	d.last = d.now()
	d.mu.Unlock()

	out.Success("subscribed (mock random events)")
	return true
}

func (d *DigitalEvent) unsubscribe(_ context.Context, _ json.RawMessage, out *observation.Builder) bool {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()

	out.Success("unsubscribed")
	return true
}

// Tick emits one event once the interval has elapsed since the last one.
func (d *DigitalEvent) Tick(now time.Time) {
	d.mu.Lock()
	if !d.active || now.Sub(d.last) < d.interval {
		d.mu.Unlock()
		return
	}
	d.last = now
	d.mu.Unlock()

	eventType, text, value := EventFall, "fall", 0
	if d.coin() {
		eventType, text, value = EventRise, "rise", 1
	}

	obs := observation.NewBuilder().
		Success(text).
		AddAsset(observation.Asset{
			Kind:  "event",
			Extra: map[string]any{"event_type": eventType, "value": value},
		}).
		Build()
	d.Emit(context.Background(), obs)
}
