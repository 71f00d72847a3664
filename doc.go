// Package saba is a device command and telemetry substrate: devices expose
// named tools and typed ports over a publish/subscribe broker, and a
// controller discovers them, invokes tools and routes port values between
// devices.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         Controller / sabactl        │  Discovery, Invoke,
//	│   (device store, router, waiter)    │  port routing
//	└─────────────────────────────────────┘
//	           ↕ mcp/dev/<id>/...
//	┌─────────────────────────────────────┐
//	│      Broker (MQTT, NATS, memory)    │  Retained announce,
//	│                                     │  will, QoS 1 commands
//	└─────────────────────────────────────┘
//	           ↕
//	┌─────────────────────────────────────┐
//	│        Device runtime               │  Tool registry, ports,
//	│  (saba-device, gateway for assets)  │  job queue, liveness
//	└─────────────────────────────────────┘
//
// # Topics
//
// Every device publishes under <prefix>/<device_id>/ where the prefix
// defaults to "mcp/dev":
//
//	announce        retained tool catalog
//	status          online/offline, uptime, rssi (will publishes offline)
//	cmd             commands in, QoS 1
//	events          observations, both replies and unsolicited events
//	ports/announce  retained OutPort and InPort catalog
//	ports/data      OutPort readings
//	ports/set       InPort writes
//
// # Packages
//
// Device side:
//   - tool: Tool interface, registry, command parsing and dispatch
//   - port: OutPorts sampled on their own period, InPorts written remotely
//   - observation: reply and event records, the emitter that publishes them
//   - jobqueue: bounded FIFO between the transport callback and the worker
//   - device: runtime wiring connection, liveness, announce and the worker
//   - gateway: HTTP server for assets and device-local endpoints
//   - builtin: the mock tool and port set installed by saba-device
//
// Transport:
//   - transport: Client interface, topics, connection guard
//   - transport/mqtt, transport/nats, transport/memory: broker bindings
//
// Controller side:
//   - controller: device store, Invoke with request correlation, routing
//
// Shared infrastructure: config, errors, metric, health, natsclient and
// pkg/{cache,retry,security,timestamp,tlsutil}.
//
// # Running
//
//	saba-device --config device.yaml
//	sabactl devices
//	sabactl invoke dev-A1B2C3 echo --args '{"text":"hi"}'
//	sabactl route -f routes.yaml
package saba
