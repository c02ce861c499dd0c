// Package websocket fans relay messages out to live subscribers.
//
// # Protocol
//
// A subscriber connects to ws://host:8080/ and immediately receives
//
//	{"type":"hello","time":<epoch-ms>}
//
// followed by every blink (and, when raw forwarding is on, every sample)
// broadcast after it joined. Nothing is replayed. Frames sent by the
// subscriber are read and ignored.
//
// # Delivery
//
// Each Session has a bounded outbound queue and one writer goroutine.
// Broadcasting only enqueues, so it never waits on a socket. A subscriber
// whose queue is full misses that frame. If its writer has also been stuck
// on one write for longer than WriteTimeout it is disconnected as a slow
// consumer. A failed write removes the session at once. Neither affects
// other subscribers.
//
// The writer also sends a ping every PingInterval; the reader drops the
// session if nothing, pongs included, arrives within PongWait.
package websocket
