package observation

import (
	"context"
	"log/slog"
	"strings"
)

// Emitter delivers observations. Emit is fire-and-forget: delivery failures
// are handled by the implementation and never surfaced to tools.
type Emitter interface {
	Emit(ctx context.Context, obs Observation)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, obs Observation)

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, obs Observation) { f(ctx, obs) }

// Publisher is the subset of the transport guard the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
}

// BaseURLFunc returns the current asset base URL. It is read on every emit
// because the advertised address may change across reconnects.
type BaseURLFunc func() string

// TransportEmitter publishes observations to the device events topic.
type TransportEmitter struct {
	publisher Publisher
	topic     string
	baseURL   BaseURLFunc
	logger    *slog.Logger
}

// NewTransportEmitter creates an emitter publishing to topic. A nil baseURL
// leaves relative asset URLs untouched.
func NewTransportEmitter(publisher Publisher, topic string, baseURL BaseURLFunc, logger *slog.Logger) *TransportEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == nil {
		baseURL = func() string { return "" }
	}
	return &TransportEmitter{
		publisher: publisher,
		topic:     topic,
		baseURL:   baseURL,
		logger:    logger.With("component", "emitter"),
	}
}

// Emit patches asset URLs and publishes the observation, not retained.
func (e *TransportEmitter) Emit(ctx context.Context, obs Observation) {
	payload, err := PatchAssetURLs(obs, e.baseURL()).Marshal()
	if err != nil {
		e.logger.Error("Failed to encode observation", "request_id", obs.RequestID, "error", err)
		return
	}
	// the guard logs publish failures
	_ = e.publisher.Publish(ctx, e.topic, payload, false)
}

// PatchAssetURLs returns a copy of obs with every asset URL that starts with
// "/" prefixed by base. Absolute URLs and an empty base leave URLs unchanged.
func PatchAssetURLs(obs Observation, base string) Observation {
	out := obs.Clone()
	if base == "" {
		return out
	}
	base = strings.TrimSuffix(base, "/")
	for i := range out.Result.Assets {
		if strings.HasPrefix(out.Result.Assets[i].URL, "/") {
			out.Result.Assets[i].URL = base + out.Result.Assets[i].URL
		}
	}
	return out
}
