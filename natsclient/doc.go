// Package natsclient wraps the NATS Go client for the device NATS transport.
//
// It adds a context-bounded Connect, a drain-with-timeout Close, tracked
// subscriptions and a small KVStore over JetStream key-value buckets. The
// transport keeps retained topics in such a bucket.
//
//	client, err := natsclient.NewClient("nats://broker.local:4222",
//	    natsclient.WithMaxReconnects(0),
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// The device runtime owns reconnection, so it disables library reconnects
// with WithMaxReconnects(0) and calls Connect again from its reconnect timer.
package natsclient
