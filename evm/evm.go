// Package evm defines the Timer/EventMgr abstraction the port uses for
// timeouts and ticks (spec.md §4.5), plus a time.Timer-backed
// implementation.
package evm

import "time"

// ID identifies a scheduled event so it can be cancelled.
type ID uint64

// Callback is invoked when a scheduled event fires.
type Callback func(ctx any)

// EventMgr abstracts scheduling so the port never touches time.Timer
// directly; any implementation, not only Wheel, can be handed to the port.
type EventMgr interface {
	// Schedule arms cbk(ctx) to run at absoluteTime (per Timestamp's clock).
	Schedule(absoluteTime int64, cbk Callback, ctx any) ID
	// Cancel cancels a previously scheduled event; canceling an already-fired
	// or unknown ID is a no-op.
	Cancel(id ID)
	// Timestamp returns the current time, ticks of 1/2^30 s per spec.md §4.5.
	Timestamp() int64
}

// ticksPerSecond is the Clock tick resolution from spec.md §4.5.
const ticksPerSecond = 1 << 30

// Wheel is a time.Timer-backed EventMgr for real deployments.
type Wheel struct {
	start  time.Time
	timers map[ID]*time.Timer
	next   ID
}

// NewWheel builds a Wheel whose Timestamp() is zero at construction time.
func NewWheel() *Wheel {
	return &Wheel{start: time.Now(), timers: make(map[ID]*time.Timer)}
}

func (w *Wheel) Timestamp() int64 {
	d := time.Since(w.start)
	return int64(d/time.Second)*ticksPerSecond + int64(d%time.Second)*ticksPerSecond/int64(time.Second)
}

func (w *Wheel) Schedule(absoluteTime int64, cbk Callback, ctx any) ID {
	w.next++
	id := w.next
	delayTicks := absoluteTime - w.Timestamp()
	delay := time.Duration(delayTicks) * time.Second / ticksPerSecond
	if delay < 0 {
		delay = 0
	}
	w.timers[id] = time.AfterFunc(delay, func() { cbk(ctx) })
	return id
}

func (w *Wheel) Cancel(id ID) {
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
}
