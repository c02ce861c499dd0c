// Package errors classifies relay failures.
//
// # Classes
//
//   - Transient: serial device unavailable, network timeouts, NATS disconnects.
//     The caller logs and either retries or carries on degraded.
//   - Invalid: a malformed sensor record or advisory reply. The input is dropped.
//   - Fatal: bad configuration or a listen address that cannot be bound.
//     Only these end the process.
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := o.listen(); err != nil {
//	    return errors.WrapFatal(err, "websocket-output", "Start", "bind listener")
//	}
//
// The classified wrappers keep errors.Is and errors.As working through the chain:
//
//	err := errors.WrapTransient(errors.ErrDeviceUnavailable, "serial-input", "open", "open port")
//	errors.Is(err, errors.ErrDeviceUnavailable) // true
//	errors.IsTransient(err)                     // true
package errors
