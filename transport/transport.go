// Package transport defines the framed-message abstraction the port uses
// to send/receive port protocol messages (spec.md §4.5), plus an in-process
// Memory implementation used by tests and the convergence demo.
package transport

// Seq identifies a message's fragmentation state. The port protocol only
// ever uses Single (spec.md §4.4.1).
type Seq uint8

const Single Seq = 0

// RecvFunc is invoked on the transport's single delivery thread for every
// inbound message addressed to a registered port.
type RecvFunc func(portID uint32, seq Seq, portData uint8, payload []byte)

// EventFunc is invoked on the same thread for transport-level events
// (connect/disconnect).
type EventFunc func(kind EventKind)

// EventKind enumerates transport-level events delivered via EventFunc.
type EventKind uint8

const (
	EventConnect EventKind = iota
	EventDisconnect
)

// Transport is the abstraction the port sends/receives framed messages
// through (spec.md §4.5). Implementations deliver Recv/Event asynchronously
// on a single thread.
type Transport interface {
	// Send transmits one single-fragment message. timeoutMs bounds how long
	// the implementation may block; Memory ignores it (it never blocks).
	Send(portID uint32, seq Seq, portData uint8, payload []byte, timeoutMs int) error
	// PortRegister associates portID with recv/event callbacks.
	PortRegister(portID uint32, recv RecvFunc, event EventFunc)
	// EventInject lets a caller synthesize a transport-level event.
	EventInject(kind EventKind)
}

// ErrTransportFull is returned by Send when the implementation cannot
// accept the message right now; the port arms a 2ms Tick and retries
// (spec.md §4.4.7).
type fullError struct{}

func (fullError) Error() string { return "transport: send buffer full" }

// ErrTransportFull is the sentinel fullError value.
var ErrTransportFull error = fullError{}
