// Package topic implements the hierarchical, arena-indexed topic tree from
// spec.md §4.2: retained values, metadata, and subscribers addressed by a
// stable integer handle (TopicId) rather than by pointer (see the "Pointer
// graphs in the topic tree" design note in spec.md §9).
package topic

import (
	"errors"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jetperch/fbp/value"
)

// ID addresses a topic node. The root is always ID 0.
type ID int32

// Invalid is returned by lookups that find nothing.
const Invalid ID = -1

// Root is the ID of the tree's root topic (the empty path).
const Root ID = 0

// Flags are the per-subscriber bits from spec.md §3.
type Flags uint8

const (
	// Pub: receive normal publishes on this subtree.
	Pub Flags = 1 << iota
	// Retain: on subscribe, immediately replay every retained value at or
	// below this topic.
	Retain
	// NoPub: do not receive normal publishes (metadata/request only).
	NoPub
	// Req: root-only; receive metadata requests.
	Req
	// Rsp: root-only; receive metadata responses/errors.
	Rsp
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

var (
	// ErrReqRspRootOnly reports Req/Rsp requested on a non-root topic.
	ErrReqRspRootOnly = errors.New("topic: Req/Rsp flags are only valid on the root topic")
)

// Source identifies the (callback, user-context) pair that originated a
// subscription or a publish, so the engine can skip the source subscriber
// when dispatching (spec.md §3, "Message").
//
// Go closures aren't comparable, so identity is anchored on Ctx (expected to
// be a distinct pointer per subscription, as in idiomatic usage) with the
// callback's code pointer as a secondary check (see funcPointerEqual).
type Source struct {
	Cbk Callback
	Ctx any
}

// Callback is invoked for every value delivered to a subscriber.
type Callback func(ctx any, path string, v value.Value) error

// Equal reports whether two sources refer to the same subscription.
func (s Source) Equal(o Source) bool {
	return s.Ctx == o.Ctx && funcPointerEqual(s.Cbk, o.Cbk)
}

// Subscriber is a registered (Source, Flags) pair attached to a topic.
type Subscriber struct {
	Source Source
	Flags  Flags
}

type node struct {
	name        string
	parent      ID
	children    []ID
	subscribers []Subscriber
	val         value.Value
	retained    bool
	meta        []byte
}

// Tree is the arena-backed topic store. It performs no locking of its own —
// spec.md §4.3.8 describes a single mutex owned by the engine guarding the
// tree, queue, and arena together, so Tree methods assume the caller holds
// whatever lock the engine requires.
type Tree struct {
	nodes     []node
	pathCache *lru.Cache[string, ID]
}

// New creates an empty tree (just a root) with a path-resolution cache of
// the given size (0 disables the cache).
func New(cacheSize int) *Tree {
	t := &Tree{nodes: []node{{name: "", parent: Invalid, val: value.Null()}}}
	if cacheSize > 0 {
		c, err := lru.New[string, ID](cacheSize)
		if err == nil {
			t.pathCache = c
		}
	}
	return t
}

// Find resolves path (already stripped of any reserved suffix) to a
// TopicId, creating missing segments when create is true. The empty path
// always resolves to Root.
func (t *Tree) Find(path string, create bool) (ID, error) {
	if path == "" {
		return Root, nil
	}
	if t.pathCache != nil {
		if id, ok := t.pathCache.Get(path); ok {
			return id, nil
		}
	}
	segs, err := Segments(path)
	if err != nil {
		return Invalid, err
	}
	cur := Root
	for _, seg := range segs {
		next := t.childNamed(cur, seg)
		if next == Invalid {
			if !create {
				return Invalid, nil
			}
			next = t.newChild(cur, seg)
		}
		cur = next
	}
	if t.pathCache != nil {
		t.pathCache.Add(path, cur)
	}
	return cur, nil
}

// FindExistingBase strips a "$", "/$", "#" or "?" suffix from raw (as
// ParseOperand does; other reserved characters are kept), then pops trailing
// segments until the remaining prefix exists, always returning at least
// Root (spec.md §4.2).
func (t *Tree) FindExistingBase(raw string) ID {
	base, _, err := ParseOperand(raw)
	if err != nil {
		return Root
	}
	segs, err := Segments(base)
	if err != nil {
		return Root
	}
	for n := len(segs); n >= 0; n-- {
		id, err := t.Find(strings.Join(segs[:n], "/"), false)
		if err == nil && id != Invalid {
			return id
		}
	}
	return Root
}

func (t *Tree) childNamed(parent ID, name string) ID {
	for _, c := range t.nodes[parent].children {
		if t.nodes[c].name == name {
			return c
		}
	}
	return Invalid
}

func (t *Tree) newChild(parent ID, name string) ID {
	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, node{name: name, parent: parent, val: value.Null()})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// Path reconstructs the full `/`-delimited path for id.
func (t *Tree) Path(id ID) string {
	if id == Root {
		return ""
	}
	var parts []string
	for cur := id; cur != Root; cur = t.nodes[cur].parent {
		parts = append([]string{t.nodes[cur].name}, parts...)
	}
	return strings.Join(parts, "/")
}

// Name returns the short local name of id.
func (t *Tree) Name(id ID) string { return t.nodes[id].name }

// Parent returns id's parent, or Invalid for Root.
func (t *Tree) Parent(id ID) ID { return t.nodes[id].parent }

// Children returns id's children in insertion order.
func (t *Tree) Children(id ID) []ID {
	out := make([]ID, len(t.nodes[id].children))
	copy(out, t.nodes[id].children)
	return out
}

// Value returns id's retained value (Null if none) and whether it is
// currently retained.
func (t *Tree) Value(id ID) (value.Value, bool) {
	return t.nodes[id].val, t.nodes[id].retained
}

// SetValue stores v as id's retained value.
func (t *Tree) SetValue(id ID, v value.Value) {
	t.nodes[id].val = v
	t.nodes[id].retained = true
}

// ClearValue removes id's retained value.
func (t *Tree) ClearValue(id ID) {
	t.nodes[id].val = value.Null()
	t.nodes[id].retained = false
}

// Meta returns id's metadata JSON blob, or nil if none is set.
func (t *Tree) Meta(id ID) []byte { return t.nodes[id].meta }

// SetMeta stores m as id's metadata JSON blob.
func (t *Tree) SetMeta(id ID, m []byte) { t.nodes[id].meta = m }

// AddSubscriber validates and attaches sub to id. id must already exist;
// callers create the topic with Find(path, true) first.
func (t *Tree) AddSubscriber(id ID, sub Subscriber) error {
	if (sub.Flags.Has(Req) || sub.Flags.Has(Rsp)) && id != Root {
		return ErrReqRspRootOnly
	}
	t.nodes[id].subscribers = append(t.nodes[id].subscribers, sub)
	return nil
}

// Subscribers returns a snapshot copy of id's subscriber list — dispatch
// loops range over this copy so a callback may safely unsubscribe (itself
// or another subscriber) mid-dispatch without corrupting iteration, per the
// "intrusive list iteration with removal" design note in spec.md §9.
func (t *Tree) Subscribers(id ID) []Subscriber {
	out := make([]Subscriber, len(t.nodes[id].subscribers))
	copy(out, t.nodes[id].subscribers)
	return out
}

// RemoveSubscriber removes every subscriber on id matching src, returning
// the count removed.
func (t *Tree) RemoveSubscriber(id ID, src Source) int {
	return t.removeFrom(id, src)
}

// RemoveSubscriberFromAll removes every subscriber matching src across the
// whole tree, returning the total count removed.
func (t *Tree) RemoveSubscriberFromAll(src Source) int {
	total := 0
	for id := range t.nodes {
		total += t.removeFrom(ID(id), src)
	}
	return total
}

func (t *Tree) removeFrom(id ID, src Source) int {
	subs := t.nodes[id].subscribers
	kept := subs[:0]
	removed := 0
	for _, s := range subs {
		if s.Source.Equal(src) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	t.nodes[id].subscribers = kept
	return removed
}

// WalkUp returns id and every ancestor up to and including Root, in that
// order — the order spec.md §4.3.3 dispatches normal publishes and §4.3.3
// rule 3 dispatches errors.
func (t *Tree) WalkUp(id ID) []ID {
	out := []ID{id}
	for cur := id; cur != Root; cur = t.nodes[cur].parent {
		out = append(out, t.nodes[cur].parent)
	}
	return out
}

// WalkSubtree returns id and every descendant, in stable pre-order —
// "traverse the subtree ... in stable order" from spec.md §4.3.2.
func (t *Tree) WalkSubtree(id ID) []ID {
	out := []ID{id}
	for _, c := range t.nodes[id].children {
		out = append(out, t.WalkSubtree(c)...)
	}
	return out
}
