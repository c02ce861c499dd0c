// Package retry provides exponential backoff retry logic.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay, used for startup connections
//
// # Usage
//
//	port, err := retry.DoWithResult(ctx, cfg, func() (io.ReadCloser, error) {
//	    return open(device, baud)
//	})
//
// Return retry.Permanent(err) from fn to stop retrying at once, for example
// when an HTTP peer answers 4xx.
package retry
