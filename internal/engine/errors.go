package engine

import "fmt"

// MalformedMessageError is the recoverable case: an unroutable or
// incomplete inbound message. The engine dead-letters it and continues;
// this type exists for logging/metrics, never propagated from Handle.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

// StoreError wraps a RecordStore failure. Always fatal: mutations already
// applied earlier in the same cycle are not rolled back, so the engine
// returns rather than attempting to continue in an inconsistent state.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TimerCallbackError wraps an error returned by a timer callback (i.e.
// publish_manifest). Always fatal.
type TimerCallbackError struct {
	Err error
}

func (e *TimerCallbackError) Error() string {
	return fmt.Sprintf("timer callback error: %v", e.Err)
}

func (e *TimerCallbackError) Unwrap() error { return e.Err }

// TransportError wraps a failure from the transport adapter (ack, reject,
// publish, or the consume loop itself). Always fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
