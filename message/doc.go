// Package message defines the JSON messages the relay sends to subscribers.
//
// # Wire format
//
// Every message is a single JSON object in one websocket text frame, with a
// "type" discriminator:
//
//	{"type":"hello","time":1700000000000}
//	{"type":"blink","seq":1,"t_proxy":1700000000350,"t_arduino":1001,"value":0.91}
//	{"type":"blink","seq":2,"t_proxy":1700000000900,"t_arduino":null,"value":0.5}
//	{"type":"sample","t_proxy":1700000000400,"value":0.1,"peak":0}
//
// t_arduino is always present on blink messages and is null when the sensor
// did not send a parseable timestamp. Non-finite values encode as null.
//
// Encode serializes a Message once so the same bytes can be delivered to every
// subscriber and to secondary sinks.
package message
