package port

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jetperch/fbp/fsm"
	"github.com/jetperch/fbp/observe"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
)

// computeResolution implements spec.md §4.4.3's negotiation rule.
func computeResolution(serverConnCount, clientConnCount uint64) uint8 {
	if serverConnCount <= 1 || clientConnCount > serverConnCount {
		return 1 // client wins
	}
	return 0 // server wins
}

func (p *Port) isWinner() bool {
	return (p.resolution == 1 && p.role == RoleUpstream) || (p.resolution == 0 && p.role == RoleDownstream)
}

func buildTable(p *Port) (*fsm.Table, error) {
	states := []fsm.State{
		{ID: StateDisconnected, Name: stateNames[StateDisconnected]},
		{ID: StateNegotiateReq, Name: stateNames[StateNegotiateReq], OnEnter: p.enterNegotiateReq},
		{ID: StateNegotiateRsp, Name: stateNames[StateNegotiateRsp], OnEnter: p.enterNegotiateRsp},
		{ID: StateTopicList, Name: stateNames[StateTopicList], OnEnter: p.enterTopicList},
		{ID: StateUpdateSend, Name: stateNames[StateUpdateSend], OnEnter: p.enterUpdateSend},
		{ID: StateUpdateRecv, Name: stateNames[StateUpdateRecv], OnEnter: p.enterTimedNoSend},
		{ID: StateConnReqSend, Name: stateNames[StateConnReqSend], OnEnter: p.enterConnReqSend},
		{ID: StateConnRspSend, Name: stateNames[StateConnRspSend], OnEnter: p.enterConnRspSend},
		{ID: StateConnRspRecv, Name: stateNames[StateConnRspRecv], OnEnter: p.enterTimedNoSend},
		{ID: StateConnected, Name: stateNames[StateConnected], OnEnter: p.enterConnected, OnExit: p.exitConnected},
	}

	transitions := []fsm.Transition{
		{Current: fsm.Any, Next: StateDisconnected, Event: fsm.Reset, Name: "reset->Disconnected"},
		{Current: fsm.Any, Next: StateDisconnected, Event: EventDisconnect, Handler: p.onDisconnect, Name: "*->Disconnected"},
		{Current: StateDisconnected, Next: StateNegotiateReq, Event: EventTransportConnect, Handler: p.onConnect, Name: "Disconnected->NegotiateReq"},
		{Current: StateNegotiateReq, Next: StateNegotiateRsp, Event: EventRecvNegotiate, Handler: p.onRecvNegotiate, Name: "NegotiateReq->NegotiateRsp"},
		{Current: StateNegotiateRsp, Next: StateTopicList, Event: EventSent, Name: "NegotiateRsp->TopicList"},
		{Current: StateTopicList, Next: StateUpdateSend, Event: EventRecv, Handler: p.onRecvTopicList, Name: "TopicList->Update*"},
		{Current: StateUpdateSend, Next: StateConnReqSend, Event: EventEndTopic, Handler: p.onUpdateSendDone, Name: "UpdateSend->ConnReqSend"},
		{Current: StateUpdateRecv, Next: StateUpdateRecv, Event: EventRecv, Handler: p.onUpdateRecvMessage, Name: "UpdateRecv self/->ConnReqSend"},
		{Current: StateConnReqSend, Next: StateConnRspSend, Event: EventRecv, Handler: p.onConnReq, Name: "ConnReqSend->ConnRspSend"},
		{Current: StateConnRspSend, Next: StateConnRspRecv, Event: EventSent, Name: "ConnRspSend->ConnRspRecv"},
		{Current: StateConnRspRecv, Next: StateConnected, Event: EventRecv, Handler: p.onConnRsp, Name: "ConnRspRecv->Connected"},
		{Current: StateConnected, Next: StateConnected, Event: EventRecv, Handler: p.onConnectedRecv, Name: "Connected self (apply inbound)"},
		{Current: fsm.Any, Next: StateNegotiateReq, Event: EventTimeout, Handler: p.onTimeout, Name: "*->NegotiateReq (timeout)"},
		{Current: fsm.Any, Next: StateDisconnected, Event: EventTick, Handler: p.onTick, Name: "*tick-retry (no transition)"},
	}

	return fsm.NewTable(states, transitions)
}

// --- state enter/exit handlers -------------------------------------------

func (p *Port) enterNegotiateReq(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	if p.role == RoleUpstream {
		p.connCount++
		p.sendNegotiate(NegotiatePayload{MsgSubtype: 0, ClientConnCount: p.connCount})
	}
}

func (p *Port) enterNegotiateRsp(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	if p.role == RoleUpstream {
		// The response already arrived (that's what drove us here); nothing
		// left to send on this side, so synthesize the advance signal the
		// Downstream side gets naturally from its own Sent event.
		_ = m.Event(EventSent)
	}
}

func (p *Port) enterTopicList(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	p.sendTopicList()
}

func (p *Port) enterUpdateSend(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	p.startReplay()
}

func (p *Port) enterTimedNoSend(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
}

func (p *Port) enterConnReqSend(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	p.sendConnected(ConnectedPayload{Phase: 0})
}

func (p *Port) enterConnRspSend(m *fsm.Machine, e fsm.EventID) {
	p.armTimeout()
	p.sendConnected(ConnectedPayload{Phase: 1})
}

func (p *Port) enterConnected(m *fsm.Machine, e fsm.EventID) {
	p.cancelTimeout()
	_ = p.engine.Subscribe("", topic.Pub, p.portSource())
	p.emitter.Emit(observe.TypePortConnected, map[string]any{"role": p.role})
}

func (p *Port) exitConnected(m *fsm.Machine, e fsm.EventID) {
	_ = p.engine.UnsubscribeFromAll(p.portSource())
}

// --- transition handlers --------------------------------------------------

func (p *Port) onDisconnect(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	p.cancelTimeout()
	_ = p.engine.UnsubscribeFromAll(p.portSource())
	p.emitter.Emit(observe.TypePortDisconnect, map[string]any{"role": p.role})
	return fsm.Any
}

func (p *Port) onConnect(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	return fsm.Any
}

func (p *Port) onRecvNegotiate(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msg, err := DecodeNegotiate(p.pendingPayload)
	if err != nil {
		p.logger.Warn("port: malformed Negotiate message", "error", err)
		return fsm.Skip
	}
	if p.role == RoleDownstream {
		if msg.MsgSubtype != 0 {
			return fsm.Skip
		}
		p.connCount++
		p.peerConnCount = msg.ClientConnCount
		p.resolution = computeResolution(p.connCount, msg.ClientConnCount)
		p.sendNegotiate(NegotiatePayload{
			MsgSubtype:      1,
			Resolution:      p.resolution,
			ClientConnCount: msg.ClientConnCount,
			ServerConnCount: p.connCount,
		})
	} else {
		if msg.MsgSubtype != 1 {
			return fsm.Skip
		}
		p.resolution = msg.Resolution
		p.peerConnCount = msg.ServerConnCount
	}
	p.emitter.Emit(observe.TypePortNegotiated, map[string]any{"resolution": p.resolution})
	return fsm.Any
}

func (p *Port) onRecvTopicList(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msgType, _ := UnpackPortData(p.pendingPortData)
	if msgType != MsgTopicList {
		return fsm.Skip
	}
	s, err := decodeNulTerminated(p.pendingPayload)
	if err != nil {
		p.logger.Warn("port: malformed TopicList message", "error", err)
		return fsm.Skip
	}
	for _, prefix := range splitListPayload(s) {
		if prefix != "" {
			p.engine.AddPrefix(prefix)
		}
	}
	if p.isWinner() {
		return StateUpdateSend
	}
	p.engine.ClearRetained()
	return StateUpdateRecv
}

// splitListPayload splits the unit-separator-joined prefix list the wire
// format uses (spec.md §3 "Topic-List").
func splitListPayload(s string) []string {
	return strings.Split(s, unitSep)
}

const unitSep = "\x1f"

func (p *Port) startReplay() {
	if p.feedbackTopic == "" {
		p.feedbackTopic = "_/fb/" + uuid.NewString()
	}
	_ = p.engine.Subscribe(p.feedbackTopic, topic.Pub, topic.Source{Cbk: p.onFeedbackSentinel, Ctx: p.internalCtx})
	p.engine.WalkRetained(func(path string, v value.Value) {
		if path == p.feedbackTopic || strings.HasPrefix(path, "_") || !p.engine.Owns(path) {
			return
		}
		p.sendPublish(path, v)
	})
	sentinel := value.U8(1, value.Retain)
	p.sendPublish(p.feedbackTopic, sentinel)
	_ = p.engine.Publish(p.feedbackTopic, sentinel, p.portSource())
	_ = p.engine.Process()
}

func (p *Port) onFeedbackSentinel(ctx any, path string, v value.Value) error {
	_ = p.machine.Event(EventEndTopic)
	return nil
}

func (p *Port) onUpdateSendDone(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	_ = p.engine.Unsubscribe(p.feedbackTopic, topic.Source{Cbk: p.onFeedbackSentinel, Ctx: p.internalCtx})
	return fsm.Any
}

func (p *Port) onUpdateRecvMessage(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msgType, retain := UnpackPortData(p.pendingPortData)
	if msgType != MsgPublish {
		return fsm.Skip
	}
	pub, err := DecodePublish(p.pendingPayload)
	if err != nil {
		p.logger.Warn("port: malformed Publish message during replay", "error", err)
		return fsm.Skip
	}
	v, err := value.Decode(value.Kind(pub.Kind), retain, pub.Payload)
	if err != nil {
		p.logger.Warn("port: malformed Publish payload during replay", "error", err)
		return fsm.Skip
	}
	if strings.HasPrefix(pub.Topic, "_/fb/") {
		return StateConnReqSend
	}
	_ = p.engine.Publish(pub.Topic, v, p.portSource())
	_ = p.engine.Process()
	return fsm.Null
}

func (p *Port) onConnReq(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msgType, _ := UnpackPortData(p.pendingPortData)
	if msgType != MsgConnected {
		return fsm.Skip
	}
	c, err := DecodeConnected(p.pendingPayload)
	if err != nil || c.Phase != 0 {
		return fsm.Skip
	}
	return fsm.Any
}

func (p *Port) onConnRsp(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msgType, _ := UnpackPortData(p.pendingPortData)
	if msgType != MsgConnected {
		return fsm.Skip
	}
	c, err := DecodeConnected(p.pendingPayload)
	if err != nil || c.Phase != 1 {
		return fsm.Skip
	}
	return fsm.Any
}

// onConnectedRecv applies a wire message received after the handshake
// completes: Publish is forwarded into the local engine, TopicAdd/TopicRemove
// update the ownership list (spec.md §4.4.6). The FSM itself never leaves
// Connected for these; malformed or unknown messages are dropped.
func (p *Port) onConnectedRecv(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	msgType, retain := UnpackPortData(p.pendingPortData)
	switch msgType {
	case MsgPublish:
		pub, err := DecodePublish(p.pendingPayload)
		if err != nil {
			p.logger.Warn("port: malformed Publish message", "error", err)
			return fsm.Skip
		}
		v, err := value.Decode(value.Kind(pub.Kind), retain, pub.Payload)
		if err != nil {
			p.logger.Warn("port: malformed Publish payload", "error", err)
			return fsm.Skip
		}
		_ = p.engine.Publish(pub.Topic, v, p.portSource())
		_ = p.engine.Process()
	case MsgTopicAdd:
		s, err := decodeNulTerminated(p.pendingPayload)
		if err != nil {
			return fsm.Skip
		}
		p.engine.AddPrefix(s)
	case MsgTopicRemove:
		s, err := decodeNulTerminated(p.pendingPayload)
		if err != nil {
			return fsm.Skip
		}
		p.engine.RemovePrefix(s)
	default:
		return fsm.Skip
	}
	return fsm.Null
}

func (p *Port) onTimeout(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	if m.State() == StateConnected || m.State() == StateDisconnected {
		return fsm.Skip
	}
	return fsm.Any
}

func (p *Port) onTick(m *fsm.Machine, e fsm.EventID) fsm.StateID {
	if p.lastSend != nil {
		if err := p.lastSend(); err == nil {
			p.lastSend = nil
		} else {
			p.armTick(p.lastSend)
		}
	}
	return fsm.Null
}
