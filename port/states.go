package port

import "github.com/jetperch/fbp/fsm"

// States from spec.md §4.4.2.
const (
	StateDisconnected fsm.StateID = iota
	StateNegotiateReq
	StateNegotiateRsp
	StateTopicList
	StateUpdateSend
	StateUpdateRecv
	StateConnReqSend
	StateConnRspSend
	StateConnRspRecv
	StateConnected
)

var stateNames = map[fsm.StateID]string{
	StateDisconnected: "Disconnected",
	StateNegotiateReq: "NegotiateReq",
	StateNegotiateRsp: "NegotiateRsp",
	StateTopicList:    "TopicList",
	StateUpdateSend:   "UpdateSend",
	StateUpdateRecv:   "UpdateRecv",
	StateConnReqSend:  "ConnReqSend",
	StateConnRspSend:  "ConnRspSend",
	StateConnRspRecv:  "ConnRspRecv",
	StateConnected:    "Connected",
}

// Events from spec.md §4.4.2.
const (
	EventDisconnect fsm.EventID = iota
	EventTransportConnect
	EventSent
	EventRecv
	EventRecvNegotiate
	EventEndTopic
	EventTick
	EventTimeout
)
