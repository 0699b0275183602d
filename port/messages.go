// Package port implements the two-peer PubSub Port protocol from spec.md
// §4.4: negotiation, topic-list exchange, retained-value replay via a
// feedback sentinel, the Connected handshake, and bidirectional publish
// forwarding — all driven by the generic fsm.Machine.
package port

import (
	"encoding/binary"
	"errors"
)

// MsgType is the low-5-bits message-type discriminator of port_data
// (spec.md §4.4.1).
type MsgType uint8

const (
	MsgNegotiate MsgType = iota
	MsgTopicList
	MsgTopicAdd
	MsgTopicRemove
	MsgPublish
	MsgConnected
)

// retainBit is bit 7 of port_data (spec.md §4.4.1).
const retainBit = 0x80

// ErrProtocolViolation reports a malformed wire message; per spec.md §7 the
// message is logged and dropped, leaving the FSM untouched.
var ErrProtocolViolation = errors.New("port: protocol violation")

// PackPortData combines a MsgType with the Retain bit into the wire byte.
func PackPortData(t MsgType, retain bool) uint8 {
	b := uint8(t) & 0x1f
	if retain {
		b |= retainBit
	}
	return b
}

// UnpackPortData splits the wire byte back into type and Retain bit.
func UnpackPortData(b uint8) (MsgType, bool) {
	return MsgType(b & 0x1f), b&retainBit != 0
}

// NegotiatePayload is the Negotiate message body (spec.md §4.4.1).
type NegotiatePayload struct {
	Version         uint32
	Status          uint8
	Resolution      uint8
	MsgSubtype      uint8 // 0 = request, 1 = response
	ClientConnCount uint64
	ServerConnCount uint64
}

const negotiatePayloadLen = 4 + 1 + 1 + 1 + 1 + 8 + 8

func (p NegotiatePayload) Encode() []byte {
	b := make([]byte, negotiatePayloadLen)
	binary.LittleEndian.PutUint32(b[0:4], p.Version)
	b[4] = p.Status
	b[5] = p.Resolution
	b[6] = p.MsgSubtype
	b[7] = 0
	binary.LittleEndian.PutUint64(b[8:16], p.ClientConnCount)
	binary.LittleEndian.PutUint64(b[16:24], p.ServerConnCount)
	return b
}

func DecodeNegotiate(b []byte) (NegotiatePayload, error) {
	if len(b) < negotiatePayloadLen {
		return NegotiatePayload{}, ErrProtocolViolation
	}
	return NegotiatePayload{
		Version:         binary.LittleEndian.Uint32(b[0:4]),
		Status:          b[4],
		Resolution:      b[5],
		MsgSubtype:      b[6],
		ClientConnCount: binary.LittleEndian.Uint64(b[8:16]),
		ServerConnCount: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// ConnectedPayload is the Connected message body.
type ConnectedPayload struct {
	Status uint8
	Phase  uint8 // 0 = request, 1 = response
}

func (p ConnectedPayload) Encode() []byte { return []byte{p.Status, p.Phase} }

func DecodeConnected(b []byte) (ConnectedPayload, error) {
	if len(b) < 2 {
		return ConnectedPayload{}, ErrProtocolViolation
	}
	return ConnectedPayload{Status: b[0], Phase: b[1]}, nil
}

func encodeNulTerminated(s string) []byte {
	return append([]byte(s), 0)
}

func decodeNulTerminated(b []byte) (string, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return "", ErrProtocolViolation
}

// PublishPayload is the Publish message body (spec.md §4.4.1): "type" here
// is the carried Value's Kind, distinct from the outer port_data MsgType.
// Payload is capped at 255 bytes by the single-byte length prefix.
type PublishPayload struct {
	Kind    uint8
	Topic   string
	Payload []byte
}

func (p PublishPayload) Encode() ([]byte, error) {
	topicBytes := encodeNulTerminated(p.Topic)
	if len(topicBytes) > 255 || len(p.Payload) > 255 {
		return nil, ErrProtocolViolation
	}
	out := make([]byte, 0, 3+len(topicBytes)+len(p.Payload))
	out = append(out, p.Kind, 0, byte(len(topicBytes)))
	out = append(out, topicBytes...)
	out = append(out, byte(len(p.Payload)))
	out = append(out, p.Payload...)
	return out, nil
}

func DecodePublish(b []byte) (PublishPayload, error) {
	if len(b) < 3 {
		return PublishPayload{}, ErrProtocolViolation
	}
	kind := b[0]
	topicLen := int(b[2])
	if len(b) < 3+topicLen+1 {
		return PublishPayload{}, ErrProtocolViolation
	}
	topic, err := decodeNulTerminated(b[3 : 3+topicLen])
	if err != nil {
		return PublishPayload{}, err
	}
	payloadLen := int(b[3+topicLen])
	start := 3 + topicLen + 1
	if len(b) < start+payloadLen {
		return PublishPayload{}, ErrProtocolViolation
	}
	return PublishPayload{Kind: kind, Topic: topic, Payload: b[start : start+payloadLen]}, nil
}
