// Package blinkrelay relays blink detections from a serial-attached sensor
// to websocket subscribers.
//
// # Pipeline
//
//	serial device -> input/serial -> processor/relay -> output/websocket -> browsers
//	                                                \-> output/natspub   -> NATS (optional)
//
// input/serial splits the device byte stream into lines. processor/relay
// parses each line (processor/parser), passes trigger samples through a
// debounce gate and stamps accepted ones with a sequence number and capture
// time. Every resulting message is handed to each registered sink. The
// websocket hub fans messages out to all open sessions. A session that cannot
// keep up is dropped without affecting the others.
//
// # Messages
//
//	{"type":"hello","time":1700000000000}
//	{"type":"blink","seq":1,"t_proxy":1700000000123,"t_arduino":84211,"value":0.91}
//	{"type":"sample","t_proxy":1700000000150,"value":0.12,"peak":0}
//
// Samples are only sent when raw forwarding is on.
//
// # Supporting packages
//
//   - config: defaults, JSON file, .env and BLINKRELAY_* environment
//   - errors: classified errors (transient, invalid, fatal)
//   - component, health, metric: lifecycle, /health and /metrics
//   - natsclient: NATS connection with a circuit breaker
//   - advisory: client for the scanning-speed advisory service
//   - pkg/retry, pkg/timestamp: backoff and millisecond clocks
//
// The binary lives in cmd/blinkrelay.
package blinkrelay
