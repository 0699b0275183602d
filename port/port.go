package port

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jetperch/fbp/evm"
	"github.com/jetperch/fbp/fbplog"
	"github.com/jetperch/fbp/fsm"
	"github.com/jetperch/fbp/observe"
	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/transport"
	"github.com/jetperch/fbp/value"
)

// Role names which side of the negotiation a Port plays (spec.md §4.4).
type Role uint8

const (
	RoleUpstream Role = iota
	RoleDownstream
)

const protocolVersion = 1
const negotiateTimeoutMs = 1000
const retryTickMs = 2

// Option configures a Port at construction.
type Option func(*Port)

func WithLogger(l fbplog.Logger) Option  { return func(p *Port) { p.logger = l } }
func WithEmitter(e *observe.Emitter) Option { return func(p *Port) { p.emitter = e } }

// Port drives one side of the two-peer synchronization protocol (spec.md
// §4.4). Each Port owns its own fsm.Machine; the two peers' machines are
// independent and only ever communicate through the shared Transport.
type Port struct {
	mu sync.Mutex

	role   Role
	portID uint32
	engine *pubsub.Engine
	tr     transport.Transport
	clock  evm.EventMgr

	logger  fbplog.Logger
	emitter *observe.Emitter

	machine *fsm.Machine

	connCount     uint64
	peerConnCount uint64
	resolution    uint8

	feedbackTopic string
	internalCtx   *int

	pendingPortData uint8
	pendingPayload  []byte

	timeoutID   evm.ID
	hasTimeout  bool
	lastSend    func() error
	tickID      evm.ID
	hasTick     bool

	connectedSeen bool
}

// New builds a Port for role over tr/clock, forwarding decoded publishes
// into engine and publishing engine activity out over tr once Connected.
func New(role Role, portID uint32, engine *pubsub.Engine, tr transport.Transport, clock evm.EventMgr, opts ...Option) *Port {
	p := &Port{
		role:        role,
		portID:      portID,
		engine:      engine,
		tr:          tr,
		clock:       clock,
		logger:      fbplog.Nop{},
		internalCtx: new(int),
	}
	for _, o := range opts {
		o(p)
	}
	table, err := buildTable(p)
	if err != nil {
		panic(err) // table construction is a programming error, not runtime data
	}
	m, err := fsm.NewMachine(table, 16, fsm.WithLogger(p.logger))
	if err != nil {
		panic(err)
	}
	p.machine = m
	tr.PortRegister(portID, p.onTransportRecv, p.onTransportEvent)
	return p
}

// State returns the port's current FSM state.
func (p *Port) State() fsm.StateID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.State()
}

// Connect starts the handshake, as if the transport had just come up.
func (p *Port) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.machine.Reset()
	_ = p.machine.Event(EventTransportConnect)
}

// Disconnect tears the port down immediately (spec.md §5 "Cancellation").
func (p *Port) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.machine.Event(EventDisconnect)
}

func (p *Port) onTransportEvent(kind transport.EventKind) {
	switch kind {
	case transport.EventConnect:
		p.Connect()
	case transport.EventDisconnect:
		p.Disconnect()
	}
}

func (p *Port) onTransportRecv(portID uint32, seq transport.Seq, portData uint8, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingPortData = portData
	p.pendingPayload = payload
	msgType, _ := UnpackPortData(portData)
	if msgType == MsgNegotiate {
		_ = p.machine.Event(EventRecvNegotiate)
	} else {
		_ = p.machine.Event(EventRecv)
	}
}

// --- wire send helpers -----------------------------------------------

func (p *Port) send(msgType MsgType, retain bool, payload []byte) {
	err := p.tr.Send(p.portID, transport.Single, PackPortData(msgType, retain), payload, 0)
	if err != nil {
		p.armTick(func() error { return p.tr.Send(p.portID, transport.Single, PackPortData(msgType, retain), payload, 0) })
		return
	}
	_ = p.machine.Event(EventSent)
}

func (p *Port) sendNegotiate(n NegotiatePayload) {
	n.Version = protocolVersion
	p.send(MsgNegotiate, false, n.Encode())
}

func (p *Port) sendConnected(c ConnectedPayload) {
	p.send(MsgConnected, false, c.Encode())
}

func (p *Port) sendTopicList() {
	p.send(MsgTopicList, false, encodeNulTerminated(p.engine.Prefix()))
}

func (p *Port) sendPublish(path string, v value.Value) {
	pp := PublishPayload{Kind: uint8(v.Kind()), Topic: path, Payload: value.Encode(v)}
	b, err := pp.Encode()
	if err != nil {
		p.logger.Warn("port: dropping oversized publish during replay", "topic", path)
		return
	}
	p.send(MsgPublish, v.Flags().Has(value.Retain), b)
}

// --- timers -------------------------------------------------------------

func (p *Port) armTimeout() {
	if p.hasTimeout {
		p.clock.Cancel(p.timeoutID)
	}
	p.timeoutID = p.clock.Schedule(p.clock.Timestamp()+msToTicks(negotiateTimeoutMs), func(ctx any) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = p.machine.Event(EventTimeout)
	}, nil)
	p.hasTimeout = true
}

func (p *Port) cancelTimeout() {
	if p.hasTimeout {
		p.clock.Cancel(p.timeoutID)
		p.hasTimeout = false
	}
}

func (p *Port) armTick(retry func() error) {
	p.lastSend = retry
	p.tickID = p.clock.Schedule(p.clock.Timestamp()+msToTicks(retryTickMs), func(ctx any) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = p.machine.Event(EventTick)
	}, nil)
	p.hasTick = true
}

const ticksPerSecond = 1 << 30

func msToTicks(ms int64) int64 { return ms * ticksPerSecond / 1000 }

// --- forwarding in Connected ---------------------------------------------

// forwardCbk is the Source.Cbk used both for messages the port injects into
// the local engine (so it can skip its own echo) and for the Connected
// forwarding subscriber (spec.md §4.4.6).
func (p *Port) forwardCbk(ctx any, path string, v value.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.machine.State() != StateConnected {
		return nil
	}
	if strings.HasPrefix(path, "_") {
		switch path {
		case "_/topic/add":
			s, _ := v.AsString()
			p.send(MsgTopicAdd, false, encodeNulTerminated(s))
		case "_/topic/remove":
			s, _ := v.AsString()
			p.send(MsgTopicRemove, false, encodeNulTerminated(s))
		}
		return nil
	}
	p.sendPublish(path, v)
	return nil
}

func (p *Port) portSource() topic.Source {
	return topic.Source{Cbk: p.forwardCbk, Ctx: p.internalCtx}
}
