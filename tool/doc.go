// Package tool implements the capability registry: named tools that a
// controller discovers through the retained device.announce record and
// invokes with device.command records.
//
// A tool implements Tool and may also implement Initializer (one-time
// setup), Ticker (periodic work on the control loop) and EmitterAware
// (unsolicited observations). EventTool is a ready-made base for tools that
// are driven by subscribe/unsubscribe operations and emit events.
//
// Dispatch semantics:
//   - a record whose type is not device.command yields errors.ErrNotCommand
//     and invokes nothing;
//   - a missing request_id is replaced by a generated UUID;
//   - an unknown tool name yields an observation with error code
//     unsupported_tool and matched=false;
//   - otherwise the tool's observation and success flag are returned as-is.
//
// Names are matched exactly and case-sensitively. Registering a second tool
// with the same name fails with errors.ErrDuplicateName, and registration
// after Seal fails with errors.ErrSealed.
package tool
