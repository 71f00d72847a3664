package device

import (
	"context"
	stderrors "errors"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/jobqueue"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// runWorker executes queued commands one at a time until the queue is
// closed and drained or ctx is cancelled.
func (r *Runtime) runWorker(ctx context.Context) {
	r.updateHealth(HealthWorker, true, "running")
	defer r.updateHealth(HealthWorker, false, "stopped")

	for {
		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if !stderrors.Is(err, errors.ErrQueueClosed) {
				r.logger.Debug("Worker stopping", "error", err)
			}
			return
		}
		r.process(ctx, job)
	}
}

// process parses, dispatches and emits the observation for one job.
// Malformed payloads are logged and produce no observation.
func (r *Runtime) process(ctx context.Context, job jobqueue.Job) {
	defer r.jobsProcessed.Add(1)

	cmd, err := tool.ParseCommand(job.Payload)
	if err != nil {
		r.jobErrors.Add(1)
		if stderrors.Is(err, errors.ErrMalformedCommand) {
			r.metrics.RecordDispatch("unknown", metric.OutcomeMalformed, 0)
			r.logger.Warn("Malformed command", "seq", job.Seq, "error", err)
		} else {
			r.logger.Debug("Ignoring non-command payload", "seq", job.Seq, "error", err)
		}
		return
	}

	obs, ok, err := r.tools.Dispatch(ctx, cmd, r.baseURL())
	if err != nil {
		r.jobErrors.Add(1)
		r.logger.Warn("Dispatch failed", "tool", cmd.Tool, "error", err)
		return
	}
	if !ok {
		r.jobErrors.Add(1)
	}

	r.emitter.Emit(ctx, obs)
}
