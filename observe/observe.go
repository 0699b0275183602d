// Package observe provides a CloudEvents-based lifecycle observer for the
// pubsub engine and the port: a side channel that lets tests and the admin
// API watch publish/subscribe/negotiate activity without coupling either
// component to a particular sink.
package observe

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants emitted by the engine and the port.
const (
	TypeEnginePublish   = "fbp.engine.publish"
	TypeEngineSubscribe = "fbp.engine.subscribe"
	TypeEngineDedup     = "fbp.engine.dedup"
	TypeArenaDesync     = "fbp.engine.arena_desync"
	TypePortNegotiated  = "fbp.port.negotiated"
	TypePortConnected   = "fbp.port.connected"
	TypePortDisconnect  = "fbp.port.disconnected"
)

// Sink receives emitted CloudEvents. Tests implement this to observe
// engine/port activity.
type Sink interface {
	Observe(cloudevents.Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(cloudevents.Event)

func (f SinkFunc) Observe(e cloudevents.Event) { f(e) }

// Emitter builds and dispatches CloudEvents to an optional Sink. A nil
// *Emitter, and an Emitter built by New with a nil sink, are valid no-ops, so
// callers that construct an engine/port without observability don't need to
// special-case anything.
type Emitter struct {
	source string
	sink   Sink
}

// New builds an Emitter that tags every event's CloudEvents "source"
// attribute with source (e.g. the engine's topic prefix) and forwards
// completed events to sink. sink may be nil to discard everything.
func New(source string, sink Sink) *Emitter {
	return &Emitter{source: source, sink: sink}
}

// Emit constructs a CloudEvent of the given type carrying data as its JSON
// payload and dispatches it on its own goroutine, mirroring the teacher's
// emitEvent helper: event emission must never block the hot path it
// instruments.
func (e *Emitter) Emit(eventType string, data any) {
	if e == nil || e.sink == nil {
		return
	}
	evt := cloudevents.NewEvent()
	evt.SetID(uuid.NewString())
	evt.SetSource(e.source)
	evt.SetType(eventType)
	evt.SetTime(time.Now())
	evt.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = evt.SetData(cloudevents.ApplicationJSON, data)
	}
	sink := e.sink
	go sink.Observe(evt)
}
