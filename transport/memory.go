package transport

import "sync"

type wireMsg struct {
	portID   uint32
	seq      Seq
	portData uint8
	payload  []byte
}

// Memory is an in-process Transport. Two Memory instances created via
// NewMemoryPair are wired so that Send on one delivers to the recv callback
// registered on the other, asynchronously on the receiving instance's own
// dispatcher goroutine (one per direction) — matching the "delivers Recv/Event asynchronously on a single
// thread" contract real transports (UART+framer+datalink) provide.
type Memory struct {
	mu     sync.Mutex
	recv   RecvFunc
	event  EventFunc
	peer   *Memory
	outbox chan wireMsg
	closed chan struct{}
}

// NewMemoryPair builds two linked Memory transports simulating a direct
// connection between two peers, each with its own dispatcher goroutine.
func NewMemoryPair() (a, b *Memory) {
	a = &Memory{outbox: make(chan wireMsg, 64), closed: make(chan struct{})}
	b = &Memory{outbox: make(chan wireMsg, 64), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func (m *Memory) dispatch() {
	for {
		select {
		case msg := <-m.outbox:
			m.mu.Lock()
			recv := m.recv
			m.mu.Unlock()
			if recv != nil {
				recv(msg.portID, msg.seq, msg.portData, msg.payload)
			}
		case <-m.closed:
			return
		}
	}
}

// Send hands payload to the peer's dispatcher without blocking. When the
// peer's 64-entry outbox is full it returns ErrTransportFull, which the
// port handles with its retry-on-Tick path.
func (m *Memory) Send(portID uint32, seq Seq, portData uint8, payload []byte, timeoutMs int) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case m.peer.outbox <- wireMsg{portID: portID, seq: seq, portData: portData, payload: cp}:
		return nil
	default:
		return ErrTransportFull
	}
}

func (m *Memory) PortRegister(portID uint32, recv RecvFunc, event EventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recv = recv
	m.event = event
}

func (m *Memory) EventInject(kind EventKind) {
	m.mu.Lock()
	ev := m.event
	m.mu.Unlock()
	if ev != nil {
		ev(kind)
	}
}

// Close stops m's own dispatcher goroutine; the peer's dispatcher keeps
// running until the peer is closed too.
func (m *Memory) Close() {
	close(m.closed)
}
