package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/pkg/timestamp"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// StatusType is the record type of device status messages.
const StatusType = "device.status"

// StatusRecord is published on the status topic and registered as the will.
type StatusRecord struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
	UptimeMS int64  `json:"uptime_ms"`
	RSSI     *int   `json:"rssi,omitempty"`
	TS       string `json:"ts"`
}

// ParseStatus decodes a status payload.
func ParseStatus(data []byte) (StatusRecord, error) {
	var s StatusRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return StatusRecord{}, fmt.Errorf("%w: status: %v", errors.ErrInvalidData, err)
	}
	if s.Type != StatusType {
		return StatusRecord{}, fmt.Errorf("%w: record type %q", errors.ErrInvalidData, s.Type)
	}
	return s, nil
}

func (r *Runtime) statusRecord(online bool) StatusRecord {
	now := r.now()
	rec := StatusRecord{
		Type:     StatusType,
		DeviceID: r.cfg.DeviceID,
		Online:   online,
		UptimeMS: r.Uptime().Milliseconds(),
		TS:       timestamp.Format(now),
	}
	// The will omits rssi; it describes a device that is gone.
	if online && r.signal != nil {
		if rssi, ok := r.signal(); ok {
			rec.RSSI = &rssi
		}
	}
	return rec
}

func (r *Runtime) statusMessage(online, retained bool) (transport.Message, error) {
	payload, err := json.Marshal(r.statusRecord(online))
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Message{Topic: r.topics.Status(), Payload: payload, Retained: retained}, nil
}

func (r *Runtime) announceMessages() ([]transport.Message, error) {
	announce, err := json.Marshal(r.tools.Announce(r.cfg.DeviceID, r.baseURL()))
	if err != nil {
		return nil, err
	}
	portsAnnounce, err := json.Marshal(r.ports.BuildAnnounce(r.cfg.DeviceID, r.now()))
	if err != nil {
		return nil, err
	}
	return []transport.Message{
		{Topic: r.topics.Announce(), Payload: announce, Retained: true},
		{Topic: r.topics.PortsAnnounce(), Payload: portsAnnounce, Retained: true},
	}, nil
}

// Connect opens the transport with the offline will, subscribes to the
// command and port-set topics and publishes, in order, the capability
// announce, the online status and the ports announce.
func (r *Runtime) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	will, err := r.statusMessage(false, true)
	if err != nil {
		return errors.Wrap(err, "Runtime", "Connect", "build will")
	}

	err = r.guard.Connect(ctx, &will,
		transport.Subscription{Topic: r.topics.Command(), Handler: r.onCommand},
		transport.Subscription{Topic: r.topics.PortsSet(), Handler: r.onPortSet},
	)
	if err != nil {
		r.updateHealth(HealthTransport, false, err.Error())
		return err
	}
	r.logger.Info("Connected", "base_topic", r.topics.Base())

	if err := r.publishHandshake(ctx); err != nil {
		r.logger.Warn("Handshake publish failed", "error", err)
	}

	now := r.now()
	r.sched.Reset(TimerStatus, now)
	r.sched.Reset(TimerAnnounce, now)
	r.updateHealth(HealthTransport, true, "connected to "+r.topics.Base())
	return nil
}

func (r *Runtime) publishHandshake(ctx context.Context) error {
	announce, err := r.announceMessages()
	if err != nil {
		return err
	}
	status, err := r.statusMessage(true, false)
	if err != nil {
		return err
	}
	return r.guard.PublishBatch(ctx, announce[0], status, announce[1])
}

// PublishStatusNow publishes the online status immediately.
func (r *Runtime) PublishStatusNow(ctx context.Context) error {
	if !r.guard.IsConnected() {
		return errors.ErrNotConnected
	}
	msg, err := r.statusMessage(true, false)
	if err != nil {
		return err
	}
	return r.guard.Publish(ctx, msg.Topic, msg.Payload, msg.Retained)
}

// Reannounce republishes the capability and ports announces.
func (r *Runtime) Reannounce(ctx context.Context) error {
	if !r.guard.IsConnected() {
		return errors.ErrNotConnected
	}
	msgs, err := r.announceMessages()
	if err != nil {
		return err
	}
	return r.guard.PublishBatch(ctx, msgs...)
}

// ClearRetained publishes empty retained payloads to the announce, status
// and ports announce topics.
func (r *Runtime) ClearRetained(ctx context.Context) error {
	if !r.guard.IsConnected() {
		return errors.ErrNotConnected
	}
	r.logger.Info("Clearing retained topics")
	return r.guard.ClearRetained(ctx, r.topics.Retained()...)
}

// FactoryReset clears retained topics and disconnects when connected, stops
// further reconnects and then calls the reset hook.
func (r *Runtime) FactoryReset(ctx context.Context) error {
	r.logger.Warn("Factory reset requested")
	r.halted.Store(true)

	if r.guard.IsConnected() {
		if err := r.guard.ClearRetained(ctx, r.topics.Retained()...); err != nil {
			r.logger.Warn("Clear retained during reset failed", "error", err)
		}
		if err := r.guard.Disconnect(ctx); err != nil {
			r.logger.Warn("Disconnect during reset failed", "error", err)
		}
	}
	r.updateHealth(HealthTransport, false, "factory reset")

	if r.resetHook == nil {
		return nil
	}
	return r.resetHook(ctx)
}

// Halted reports whether FactoryReset has run.
func (r *Runtime) Halted() bool { return r.halted.Load() }

func (r *Runtime) publishOffline(ctx context.Context) error {
	msg, err := r.statusMessage(false, true)
	if err != nil {
		return err
	}
	return r.guard.Publish(ctx, msg.Topic, msg.Payload, msg.Retained)
}

func (r *Runtime) publishReading(ctx context.Context, reading port.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return r.guard.Publish(ctx, r.topics.PortsData(), payload, false)
}

func (r *Runtime) onConnectionLost(err error) {
	r.updateHealth(HealthTransport, false, "connection lost")
	r.logger.Warn("Transport lost, reconnect timer will retry",
		"error", err, "retry_in", r.cfg.ReconnectInterval)
}
