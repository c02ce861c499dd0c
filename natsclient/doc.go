// Package natsclient wraps a NATS connection with a circuit breaker and
// connection-state tracking for the relay's optional event mirror.
//
// # Circuit Breaker
//
// After a threshold of consecutive connect failures (default 5) the circuit
// opens and Connect fails fast with ErrCircuitOpen. The backoff doubles on
// every round up to the configured maximum; after the backoff elapses the
// client moves back to disconnected and may try again.
//
// # Connection States
//
//	Disconnected → Connecting → Connected → Reconnecting → Connected
//
// Reconnects after the first successful connect are handled by nats.go
// itself; the client only mirrors the state through its handlers.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("blinkrelay"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
//	    logger.Warn("NATS unavailable, mirror disabled", "error", err)
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "blinkrelay.blink", payload)
package natsclient
