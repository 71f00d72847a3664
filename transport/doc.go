// Package transport defines the publish/subscribe connection used by the
// device runtime and the Guard that arbitrates access to it.
//
// Implementations live in sub-packages:
//   - transport/mqtt: MQTT 3.1.1 through paho, with native retained
//     messages and last will.
//   - transport/nats: NATS core subjects, with retained topics mirrored into
//     a JetStream key-value bucket.
//   - transport/memory: an in-process broker for tests.
//
// Every outbound operation goes through a Guard, which holds one mutex for
// the whole operation:
//
//	guard := transport.NewGuard(client, transport.WithLogger(logger))
//	err := guard.Connect(ctx, will,
//	    transport.Subscription{Topic: topics.Command(), Handler: onCommand},
//	    transport.Subscription{Topic: topics.PortsSet(), Handler: onPortSet},
//	)
//
// Inbound handlers run on the client's delivery goroutine and never touch
// the Guard; they only hand work to the device ingress.
//
// Topics live under <prefix>/<device_id>/ with the kinds announce, status,
// cmd, events, ports/announce, ports/data and ports/set. All delivery is at
// most once.
package transport
