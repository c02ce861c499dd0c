// Package serial reads newline-delimited sensor records from a serial device.
//
// The Input opens the device with go.bug.st/serial and publishes each record,
// without its terminator, on the channel returned by Lines:
//
//	in, err := serial.NewInput(serial.DefaultConfig(), serial.Deps{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := in.Start(ctx); err != nil {
//	    return err
//	}
//	for line := range in.Lines() {
//	    relay.Process(ctx, line)
//	}
//
// A device that cannot be opened at Start is not fatal. The input logs the
// failure, reports unhealthy and closes Lines without producing anything.
// A read failure on an open device ends the stream unless Reconnect.MaxAttempts
// is set, in which case the device is reopened with exponential backoff.
package serial
