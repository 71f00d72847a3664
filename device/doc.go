// Package device is the runtime that ties a device together: tool and port
// registries, the job queue, the guarded transport and the liveness protocol.
//
// # Concurrency
//
// Three contexts touch a Runtime:
//
//   - the control loop, a Scheduler polled every tick that samples ports,
//     ticks tools, publishes status and announces and reconnects;
//   - the transport delivery goroutine, which only runs ingress: port sets
//     are applied directly and commands are copied into the job queue;
//   - one worker goroutine, which executes queued commands FIFO and emits
//     their observations.
//
// All outbound traffic goes through one transport.Guard.
//
// # Liveness
//
// On connect the runtime registers an offline status as the retained will,
// subscribes to cmd and ports/set and publishes the capability announce
// (retained), the online status and the ports announce (retained), in that
// order. Stop publishes the offline status itself before disconnecting,
// because a clean disconnect suppresses the will.
//
// # Usage
//
//	rt, err := device.New(device.DefaultConfig("dev-A1B2C3"), client, tools, ports,
//	    device.WithLogger(logger),
//	    device.WithMetrics(metricsRegistry),
//	)
//	if err != nil {
//	    return err
//	}
//	return rt.Run(ctx)
package device
