package device

import (
	stderrors "errors"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// Job drop reasons recorded in metrics.
const (
	DropQueueFull = "queue_full"
	DropOversize  = "oversize"
	DropClosed    = "closed"
)

// onCommand runs on the transport delivery goroutine. It only copies the
// payload into the job queue; execution happens on the worker.
func (r *Runtime) onCommand(msg transport.Message) {
	r.metrics.RecordCommandReceived()

	err := r.queue.Enqueue(msg.Payload)
	if err == nil {
		return
	}

	reason := DropQueueFull
	switch {
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		reason = DropOversize
	case stderrors.Is(err, errors.ErrQueueClosed):
		reason = DropClosed
	}
	r.metrics.RecordJobDropped(reason)
	r.logger.Warn("Command dropped", "reason", reason, "bytes", len(msg.Payload), "error", err)
}

// onPortSet runs on the transport delivery goroutine and writes the InPort
// directly; port sets never go through the job queue.
func (r *Runtime) onPortSet(msg transport.Message) {
	r.ports.ApplySet(msg.Payload)
}

// HandleCommand feeds a command payload through ingress as if it had
// arrived on the command topic.
func (r *Runtime) HandleCommand(payload []byte) {
	r.onCommand(transport.Message{Topic: r.topics.Command(), Payload: payload})
}
