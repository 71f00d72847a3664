// Package retry provides exponential and fixed-interval retry helpers.
//
// The controller uses it to connect to the broker:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Presets: Quick() runs 10 attempts from 50ms to 1s and is the controller
// default. Fixed(interval, n) runs n attempts at a constant interval; sabactl
// uses it for --connect-attempts.
//
// Errors wrapped with NonRetryable end the loop at once. Every wait honours
// context cancellation.
package retry
