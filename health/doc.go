// Package health reports whether the relay is usable.
//
// Three states are used:
//   - healthy: serial input connected, subscriber server listening
//   - degraded: the server is listening but an optional part is down, most
//     often the serial device, so subscribers connect but see no blinks
//   - unhealthy: the subscriber server itself is not serving
//
// A Monitor holds one check per component and aggregates them on demand for
// the /health endpoint.
package health
