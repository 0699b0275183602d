// Package pubsub implements the hierarchical retained-value publish/
// subscribe engine from spec.md §4.3: publish, subscribe, unsubscribe,
// query, and metadata/error dispatch, backed by a topic.Tree and a
// ring-buffer payload arena.
package pubsub

import (
	"fmt"
	"sync"

	"github.com/jetperch/fbp/fbplog"
	"github.com/jetperch/fbp/observe"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger injects a logger; defaults to fbplog.Nop.
func WithLogger(l fbplog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithEmitter injects a lifecycle observer; defaults to a nil Emitter (no-op).
func WithEmitter(em *observe.Emitter) Option { return func(e *Engine) { e.emitter = em } }

// WithWorkPending registers the callback invoked after publish enqueues a
// message, so a host event loop knows to call Process (spec.md §4.3.1). It
// must be safe to call from any thread.
func WithWorkPending(f func()) Option { return func(e *Engine) { e.workPending = f } }

// Engine is a single hierarchical pub/sub bus. It owns a topic.Tree, a
// deferred-publish queue, and a payload arena, all guarded by one mutex
// (spec.md §4.3.8 describes this mutex as optional for a single-threaded
// deployment; this implementation always installs one, since Go programs
// calling Publish from multiple goroutines is the common case and the cost
// of an uncontended mutex is negligible).
type Engine struct {
	mu     sync.Mutex
	tree   *topic.Tree
	queue  queue
	arena  *arena
	prefix string

	logger      fbplog.Logger
	emitter     *observe.Emitter
	workPending func()

	rootCtx *int // identity for the internally-installed root subscriber
}

// New builds an Engine rooted at prefix (e.g. "h/") with arenaSize bytes of
// payload storage. prefix is retained immediately at "_/topic/prefix" and
// seeded into "_/topic/list".
func New(prefix string, arenaSize int, opts ...Option) *Engine {
	e := &Engine{
		tree:    topic.New(1024),
		arena:   newArena(arenaSize),
		prefix:  prefix,
		logger:  fbplog.Nop{},
		rootCtx: new(int),
	}
	for _, o := range opts {
		o(e)
	}
	e.seedReservedTopics()
	e.installInternalSubscribers()
	return e
}

func (e *Engine) seedReservedTopics() {
	v, _ := value.Str([]byte(e.prefix), 0, value.Retain|value.Const)
	e.retainDirect(topicPrefix, v)
	lv, _ := value.Str([]byte(joinPrefixes([]string{e.prefix})), 0, value.Retain|value.Const)
	e.retainDirect(topicList, lv)
}

// retainDirect stores v as path's retained value without going through the
// publish queue/dedup machinery — used only for the bookkeeping topics the
// engine seeds at construction.
func (e *Engine) retainDirect(path string, v value.Value) {
	id, _ := e.tree.Find(path, true)
	e.tree.SetValue(id, v)
}

// installInternalSubscribers attaches the root Req/Rsp subscriber (spec.md
// §9 "root-subscription lifecycle", resolved in SPEC_FULL.md §7: installed
// once at construction, Pub:false NoPub:true Req:true Rsp:true, and never
// removed by UnsubscribeFromAll) plus the "_/topic/add"/"_/topic/remove"
// control-topic handlers.
func (e *Engine) installInternalSubscribers() {
	rootSrc := topic.Source{Cbk: e.rootMetaCallback, Ctx: e.rootCtx}
	_ = e.tree.AddSubscriber(topic.Root, topic.Subscriber{
		Source: rootSrc,
		Flags:  topic.NoPub | topic.Req | topic.Rsp,
	})

	addID, _ := e.tree.Find(topicAdd, true)
	_ = e.tree.AddSubscriber(addID, topic.Subscriber{
		Source: topic.Source{Cbk: e.onTopicAdd, Ctx: e.rootCtx},
		Flags:  topic.Pub,
	})
	remID, _ := e.tree.Find(topicRemove, true)
	_ = e.tree.AddSubscriber(remID, topic.Subscriber{
		Source: topic.Source{Cbk: e.onTopicRemove, Ctx: e.rootCtx},
		Flags:  topic.Pub,
	})
}

// rootMetaCallback is the default handler for the engine's own Req/Rsp root
// subscriber; a bare Engine has nothing further upstream to forward to, so
// it is a no-op. A port attaches its own Req/Rsp subscriber alongside this
// one to actually forward metadata traffic across the wire.
func (e *Engine) rootMetaCallback(ctx any, path string, v value.Value) error { return nil }

func (e *Engine) onTopicAdd(ctx any, path string, v value.Value) error {
	s, err := v.AsString()
	if err != nil {
		return nil
	}
	e.addPrefix(s)
	return nil
}

func (e *Engine) onTopicRemove(ctx any, path string, v value.Value) error {
	s, err := v.AsString()
	if err != nil {
		return nil
	}
	e.removePrefix(s)
	return nil
}

func (e *Engine) addPrefix(prefix string) {
	id, _ := e.tree.Find(topicList, true)
	cur, _ := e.tree.Value(id)
	s, _ := cur.AsString()
	prefixes := splitPrefixes(s)
	for _, p := range prefixes {
		if p == prefix {
			return
		}
	}
	prefixes = append(prefixes, prefix)
	v, _ := value.Str([]byte(joinPrefixes(prefixes)), 0, value.Retain|value.Const)
	e.tree.SetValue(id, v)
}

func (e *Engine) removePrefix(prefix string) {
	id, _ := e.tree.Find(topicList, true)
	cur, _ := e.tree.Value(id)
	s, _ := cur.AsString()
	prefixes := splitPrefixes(s)
	kept := prefixes[:0]
	for _, p := range prefixes {
		if p != prefix {
			kept = append(kept, p)
		}
	}
	v, _ := value.Str([]byte(joinPrefixes(kept)), 0, value.Retain|value.Const)
	e.tree.SetValue(id, v)
}

// Prefix returns the engine's configured topic prefix.
func (e *Engine) Prefix() string { return e.prefix }

// AddPrefix records prefix as one this engine (or a connected peer) owns,
// merging it into "_/topic/list". Used directly by a port replaying a
// peer's TopicList message, and internally by the "_/topic/add" handler.
func (e *Engine) AddPrefix(prefix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addPrefix(prefix)
}

// RemovePrefix is the inverse of AddPrefix.
func (e *Engine) RemovePrefix(prefix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removePrefix(prefix)
}

// WalkRetained calls fn for every topic in the tree that currently has a
// retained value, in stable pre-order. Used by the port's replay-on-connect
// logic (spec.md §4.4.4).
func (e *Engine) WalkRetained(fn func(path string, v value.Value)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.tree.WalkSubtree(topic.Root) {
		if v, retained := e.tree.Value(id); retained {
			fn(e.tree.Path(id), v)
		}
	}
}

// ClearRetained drops every retained value in the tree except the engine's
// own reserved bookkeeping topics ("_/topic/prefix", "_/topic/list"),
// leaving subscribers and the tree shape untouched. Used by the losing peer
// of a port negotiation to match the authoritative side's empty starting
// state (spec.md §4.4.3 "the loser clears its retained set to match") without
// erasing the engine's own identity (spec.md §4.3.5).
func (e *Engine) ClearRetained() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.tree.WalkSubtree(topic.Root) {
		path := e.tree.Path(id)
		if path == topicPrefix || path == topicList {
			continue
		}
		e.tree.ClearValue(id)
	}
}

// Owns reports whether path falls under this engine's configured prefix.
// Used by a port to scope replay to topics it is authoritative for,
// excluding both out-of-prefix and reserved "_"-rooted bookkeeping topics.
func (e *Engine) Owns(path string) bool {
	return e.owns(path)
}

// owns reports whether path falls under this engine's configured prefix.
func (e *Engine) owns(path string) bool {
	if e.prefix == "" {
		return true
	}
	return len(path) >= len(e.prefix) && path[:len(e.prefix)] == e.prefix
}

// Publish enqueues a publish op (spec.md §4.3.1). Non-const variable-length
// payloads are copied into the engine's arena immediately so the caller's
// buffer can be reused/freed before Process runs.
func (e *Engine) Publish(rawPath string, v value.Value, source topic.Source) error {
	if v.Kind().IsVariableLength() && v.Flags().Has(value.Retain) && !v.Flags().Has(value.Const) {
		return ErrRetainNeedsConst
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg := pubMessage{rawPath: rawPath, val: v, source: source}
	if v.Kind().IsVariableLength() && !v.Flags().Has(value.Const) {
		h, cp, err := e.arena.alloc(v.Bytes()[:v.Size()])
		if err != nil {
			return err
		}
		newVal, _ := rebuild(v, cp)
		msg.val = newVal
		msg.hasHandle = true
		msg.handle = h
	}

	e.queue.push(msg)
	e.emitter.Emit(observe.TypeEnginePublish, map[string]string{"topic": rawPath})
	if e.workPending != nil {
		e.workPending()
	}
	return nil
}

// rebuild re-derives a Value of the same kind/flags over replacement bytes.
func rebuild(v value.Value, b []byte) (value.Value, error) {
	switch v.Kind() {
	case value.KindStr:
		return value.Str(b, v.Size(), v.Flags())
	case value.KindJSON:
		return value.JSON(b, v.Size(), v.Flags())
	default:
		return value.Bin(b, v.Size(), v.Flags())
	}
}

// Subscribe attaches cbk/ctx to rawPath with the given flags (spec.md
// §4.3.2). Unlike Publish, Subscribe executes synchronously: the topic is
// created (if missing) and, when flags includes Retain, every retained
// value at or below rawPath is delivered to cbk before Subscribe returns —
// this is the literal invariant from spec.md §8 scenario 3 ("callback fires
// ... before returning from subscribe"), which only holds if subscribe does
// not go through the deferred queue. See DESIGN.md for the full rationale.
func (e *Engine) Subscribe(rawPath string, flags topic.Flags, source topic.Source) error {
	base, kind, err := topic.ParseOperand(rawPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if kind != topic.SuffixNone && kind != topic.SuffixMetaSubtree {
		return fmt.Errorf("%w: subscribe does not accept suffix %v", ErrInvalidParameter, kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.tree.Find(base, true)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if err := e.tree.AddSubscriber(id, topic.Subscriber{Source: source, Flags: flags}); err != nil {
		return err
	}
	e.emitter.Emit(observe.TypeEngineSubscribe, map[string]string{"topic": rawPath})

	if flags.Has(topic.Retain) {
		for _, nid := range e.tree.WalkSubtree(id) {
			v, retained := e.tree.Value(nid)
			if !retained {
				continue
			}
			_ = source.Cbk(source.Ctx, e.tree.Path(nid), v)
		}
	}
	return nil
}

// Unsubscribe removes matching subscribers from rawPath. Immediate, not
// queued (spec.md §4.3.6).
func (e *Engine) Unsubscribe(rawPath string, source topic.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	base, _, err := topic.ParseOperand(rawPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	id, err := e.tree.Find(base, false)
	if err != nil || id == topic.Invalid {
		return ErrTopicNotFound
	}
	if n := e.tree.RemoveSubscriber(id, source); n == 0 {
		return ErrTopicNotFound
	}
	return nil
}

// UnsubscribeFromAll removes every subscriber matching source across the
// whole tree. Immediate, not queued (spec.md §4.3.6).
func (e *Engine) UnsubscribeFromAll(source topic.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.tree.RemoveSubscriberFromAll(source); n == 0 {
		return ErrTopicNotFound
	}
	return nil
}

// Query copies topic's retained value out, failing if the topic doesn't
// exist or has no retained value (spec.md §4.3.7).
func (e *Engine) Query(rawPath string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	base, _, err := topic.ParseOperand(rawPath)
	if err != nil {
		return value.Value{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	id, err := e.tree.Find(base, false)
	if err != nil || id == topic.Invalid {
		return value.Value{}, ErrTopicNotFound
	}
	v, retained := e.tree.Value(id)
	if !retained {
		return value.Value{}, ErrValueNotRetained
	}
	return v, nil
}

// Process drains the publish queue, dispatching each message per spec.md
// §4.3.3. It is the only place subscriber callbacks run for publishes.
func (e *Engine) Process() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		msg, ok := e.queue.pop()
		if !ok {
			return nil
		}
		if err := e.dispatch(msg); err != nil {
			return err
		}
		if msg.hasHandle {
			if err := e.arena.retireOldest(msg.handle); err != nil {
				e.logger.Error("pubsub: arena desync", "error", err)
				e.emitter.Emit(observe.TypeArenaDesync, map[string]string{"topic": msg.rawPath})
				return err
			}
		}
	}
}

func (e *Engine) dispatch(msg pubMessage) error {
	base, kind, err := topic.ParseOperand(msg.rawPath)
	if err != nil {
		e.logger.Warn("pubsub: dropping malformed publish", "topic", msg.rawPath, "error", err)
		return nil
	}
	switch kind {
	case topic.SuffixMeta, topic.SuffixMetaSubtree:
		return e.dispatchMeta(base, kind, msg)
	case topic.SuffixError:
		return e.dispatchError(base, msg)
	case topic.SuffixQuery:
		e.logger.Debug("pubsub: query suffix is a reserved no-op", "topic", msg.rawPath)
		return nil
	default:
		return e.dispatchNormal(base, msg)
	}
}

// dispatchNormal implements spec.md §4.3.3 rule 5: dedup, retain, dispatch
// leaf-to-root skipping NoPub and the source subscriber, then synthesize an
// error publish if any subscriber reported a non-zero status.
func (e *Engine) dispatchNormal(base string, msg pubMessage) error {
	id, err := e.tree.Find(base, true)
	if err != nil {
		return nil
	}

	if existing, retained := e.tree.Value(id); retained && existing.Equal(msg.val) {
		e.emitter.Emit(observe.TypeEngineDedup, map[string]string{"topic": base})
		return nil
	}

	// A retained value is only ever replaced by another Retain publish or
	// erased by a (differing) Null publish; a plain transient publish must
	// leave whatever is already retained at this topic untouched.
	switch {
	case msg.val.Flags().Has(value.Retain):
		e.tree.SetValue(id, msg.val)
	case msg.val.Kind() == value.KindNull:
		e.tree.ClearValue(id)
	}

	var firstStatus int32
	path := e.tree.Path(id)
	for _, ancestor := range e.tree.WalkUp(id) {
		for _, sub := range e.tree.Subscribers(ancestor) {
			if sub.Flags.Has(topic.NoPub) {
				continue
			}
			if sub.Source.Equal(msg.source) {
				continue
			}
			if err := sub.Source.Cbk(sub.Source.Ctx, path, msg.val); err != nil {
				if s := statusOf(err); s != 0 && firstStatus == 0 {
					firstStatus = s
				}
			}
		}
	}

	if firstStatus != 0 {
		errVal := value.I32(firstStatus, 0)
		e.queue.push(pubMessage{rawPath: base + "#", val: errVal, source: msg.source})
	}
	return nil
}

// dispatchError implements spec.md §4.3.3 rule 3: walk from the nearest
// existing base upward to root, delivering to every Rsp-flagged subscriber.
func (e *Engine) dispatchError(base string, msg pubMessage) error {
	startID := e.tree.FindExistingBase(base)
	path := base + "#"
	for _, ancestor := range e.tree.WalkUp(startID) {
		for _, sub := range e.tree.Subscribers(ancestor) {
			if !sub.Flags.Has(topic.Rsp) {
				continue
			}
			if sub.Source.Equal(msg.source) {
				continue
			}
			_ = sub.Source.Cbk(sub.Source.Ctx, path, msg.val)
		}
	}
	return nil
}

// dispatchMeta implements spec.md §4.3.4's three cases.
func (e *Engine) dispatchMeta(base string, kind topic.SuffixKind, msg pubMessage) error {
	switch {
	case kind == topic.SuffixMetaSubtree && base == "":
		// "$" — request for everything this engine owns.
		e.deliverMetaSubtree(topic.Root, msg)
		e.forwardToReqSubscribers(msg.rawPath, msg)
		return nil
	case kind == topic.SuffixMetaSubtree:
		// "prefix/$" — subtree request.
		if e.owns(base) {
			id, err := e.tree.Find(base, false)
			if err == nil && id != topic.Invalid {
				e.deliverMetaSubtree(id, msg)
			}
			return nil
		}
		e.forwardToReqSubscribers(msg.rawPath, msg)
		return nil
	default:
		// "topic$" — metadata publish.
		if e.owns(base) {
			id, err := e.tree.Find(base, true)
			if err != nil {
				return nil
			}
			if msg.val.Kind() == value.KindJSON && msg.val.Flags().Has(value.Const) && msg.val.Flags().Has(value.Retain) {
				e.tree.SetMeta(id, msg.val.Bytes()[:msg.val.Size()])
			}
			e.deliverMetaAt(id, msg)
			return nil
		}
		e.forwardToRspSubscribers(msg.rawPath, msg)
		return nil
	}
}

func (e *Engine) deliverMetaSubtree(root topic.ID, msg pubMessage) {
	for _, id := range e.tree.WalkSubtree(root) {
		e.deliverMetaAt(id, msg)
	}
}

func (e *Engine) deliverMetaAt(id topic.ID, msg pubMessage) {
	m := e.tree.Meta(id)
	if m == nil {
		return
	}
	metaVal, err := value.JSON(m, len(m), value.Const)
	if err != nil {
		return
	}
	path := e.tree.Path(id) + "$"
	for _, ancestor := range e.tree.WalkUp(id) {
		for _, sub := range e.tree.Subscribers(ancestor) {
			if !sub.Flags.Has(topic.Rsp) || sub.Source.Equal(msg.source) {
				continue
			}
			_ = sub.Source.Cbk(sub.Source.Ctx, path, metaVal)
		}
	}
}

func (e *Engine) forwardToReqSubscribers(path string, msg pubMessage) {
	for _, sub := range e.tree.Subscribers(topic.Root) {
		if !sub.Flags.Has(topic.Req) || sub.Source.Equal(msg.source) {
			continue
		}
		_ = sub.Source.Cbk(sub.Source.Ctx, path, msg.val)
	}
}

func (e *Engine) forwardToRspSubscribers(path string, msg pubMessage) {
	for _, sub := range e.tree.Subscribers(topic.Root) {
		if !sub.Flags.Has(topic.Rsp) || sub.Source.Equal(msg.source) {
			continue
		}
		_ = sub.Source.Cbk(sub.Source.Ctx, path, msg.val)
	}
}
