package pubsub

import "errors"

// Caller-visible errors, returned normally per the error-kind table:
// InvalidParameter, TooBig, NotEnoughMemory, NotFound.
var (
	ErrInvalidParameter  = errors.New("pubsub: invalid parameter")
	ErrPayloadTooBig     = errors.New("pubsub: payload exceeds half the arena capacity")
	ErrArenaFull         = errors.New("pubsub: payload arena has no space")
	ErrTopicNotFound     = errors.New("pubsub: topic not found")
	ErrValueNotRetained  = errors.New("pubsub: topic has no retained value")
	ErrRetainNeedsConst  = errors.New("pubsub: variable-length Retain payload must be Const")
)

// ErrArenaDesync is a fatal invariant violation: the arena's FIFO retirement
// order didn't match the message being retired.
var ErrArenaDesync = errors.New("pubsub: payload arena desync on retire")
