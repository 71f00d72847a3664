// Package port implements the port registry: OutPorts that produce periodic
// readings on ports/data and InPorts that controllers write through
// ports/set.
//
// Period gating lives in the registry. SampleAll records when each OutPort
// last fired and only calls Sample once its Period has elapsed, so producers
// contain no timing logic:
//
//	reg := port.NewRegistry(port.WithPublisher(pub))
//	_ = reg.AddOutPort(&port.FuncOutPort{
//	    PortName: "temp", DataType: port.TypeFloat, Every: time.Second,
//	    SampleFunc: func(time.Time) (float64, bool) { return readTemp(), true },
//	})
//	reg.SampleAll(ctx, time.Now())
//
// InPort names may repeat; every lookup returns the first slot with the
// name. Writes to unknown names are logged and dropped.
package port
