// Package errors provides the error taxonomy used across the SABA device runtime.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retry later), Invalid
// (bad input, never retried) and Fatal (stop processing). Nothing on the device
// command path is fatal: a broken payload is logged and dropped, a full job queue
// drops the job, and transport failures are retried by the reconnect timer.
// Fatal is reserved for startup problems such as an unusable configuration.
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// The classified wrappers keep the class through the chain:
//
//	errors.WrapTransient(err, "mqtt", "Publish", "publish status")
//	errors.WrapInvalid(err, "tool", "Dispatch", "decode command")
//	errors.WrapFatal(err, "config", "Load", "read config file")
//
// # Standard Error Variables
//
// Transport: ErrNotConnected, ErrConnectionLost, ErrConnectionTimeout,
// ErrPublishFailed, ErrSubscribeFailed.
//
// Job queue: ErrQueueFull, ErrQueueClosed, ErrPayloadTooLarge.
//
// Commands and registries: ErrNotCommand, ErrMalformedCommand, ErrDuplicateName,
// ErrSealed, ErrUnknownPort, ErrInvalidData.
//
// Configuration: ErrInvalidConfig, ErrMissingConfig.
//
// Lifecycle: ErrAlreadyStarted, ErrStopped, ErrShutdownTimedOut.
//
// # Retry
//
// Classification drives retry decisions: callers stop retrying once
// IsTransient reports false, and wrap such errors with retry.NonRetryable:
//
//	err := retry.Do(ctx, cfg, func() error {
//	    err := guard.Connect(ctx, nil)
//	    if err != nil && !errors.IsTransient(err) {
//	        return retry.NonRetryable(err)
//	    }
//	    return err
//	})
package errors
