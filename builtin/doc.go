// Package builtin provides mock tools and ports for bench devices and tests.
//
// Install registers the whole set on a device:
//
//	set, err := builtin.Install(tools, ports, server.Assets())
//	if err != nil {
//	    return err
//	}
//	server, _ = gateway.New(cfg, rt, gateway.WithHandler("/", set.Snapshot))
//
// The set contains:
//   - echo: replies with its text argument
//   - digital_event: event tool emitting random dio.rise/dio.fall events
//     while subscribed
//   - snapshot: renders a small JPEG test pattern into the asset store and
//     replies with its relative URL; the latest frame is also served at
//     /last.jpg
//   - read_port: reads the current value of an InPort
//   - impact_live: float OutPort sweeping 1..100..1 once per second
//   - var_a, var_b (float) and var_c (bool) InPorts
package builtin
