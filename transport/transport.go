package transport

import "context"

// Message is one publish/subscribe message. Topics always use "/" as the
// level separator; transports with other conventions translate internally.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handler receives inbound messages. It runs on the transport's delivery
// goroutine and must not block on network I/O.
type Handler func(msg Message)

// Subscription pairs a topic filter with its handler. Filters may use the
// "+" (one level) and "#" (remaining levels) wildcards.
type Subscription struct {
	Topic   string
	Handler Handler
}

// Client is a single publish/subscribe connection. Implementations are not
// required to be safe for concurrent use; the Guard serialises access.
type Client interface {
	// Connect opens the connection. will, when non-nil, is registered as the
	// last will and published by the broker if the connection is lost.
	Connect(ctx context.Context, will *Message) error

	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Publish sends payload at most once. An empty retained payload clears
	// the retained value for topic.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error

	// Disconnect closes the connection cleanly, which suppresses the will.
	Disconnect(ctx context.Context) error

	IsConnected() bool

	// SetConnectionLostHandler registers fn for unexpected disconnects.
	SetConnectionLostHandler(fn func(err error))
}
