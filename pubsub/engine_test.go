package pubsub_test

import (
	"testing"

	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSource() topic.Source {
	return topic.Source{Cbk: func(ctx any, path string, v value.Value) error { return nil }, Ctx: new(int)}
}

// TestSingleEngineRetainQuery is spec.md §8 scenario 1.
func TestSingleEngineRetainQuery(t *testing.T) {
	e := pubsub.New("h/", 4096)
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	v, err := e.Query("h/en")
	require.NoError(t, err)
	n, err := v.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, v.Flags().Has(value.Retain))
}

// TestDedup is spec.md §8 scenario 2.
func TestDedup(t *testing.T) {
	e := pubsub.New("h/", 4096)
	var calls int
	var lastVal value.Value
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		calls++
		lastVal = v
		return nil
	}}
	require.NoError(t, e.Subscribe("h/en", topic.Pub, src))

	other := noopSource()
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), other))
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), other))
	require.NoError(t, e.Process())

	assert.Equal(t, 1, calls)
	n, _ := lastVal.AsInt64()
	assert.Equal(t, int64(1), n)
}

// TestRetainedReplayOnSubscribe is spec.md §8 scenario 3.
func TestRetainedReplayOnSubscribe(t *testing.T) {
	e := pubsub.New("h/", 4096)
	sval, err := value.Str([]byte("x"), 0, value.Retain|value.Const)
	require.NoError(t, err)
	require.NoError(t, e.Publish("h/a", value.U32(7, value.Retain), noopSource()))
	require.NoError(t, e.Publish("h/b/c", sval, noopSource()))
	require.NoError(t, e.Process())

	received := map[string]value.Value{}
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		received[path] = v
		return nil
	}}
	require.NoError(t, e.Subscribe("h/", topic.Retain|topic.Pub, src))

	require.Contains(t, received, "h/a")
	n, _ := received["h/a"].AsInt64()
	assert.Equal(t, int64(7), n)
	require.Contains(t, received, "h/b/c")
	s, _ := received["h/b/c"].AsString()
	assert.Equal(t, "x", s)
}

// TestMetadataRequest is spec.md §8 scenario 5.
func TestMetadataRequest(t *testing.T) {
	e := pubsub.New("h/", 4096)
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	metaVal, err := value.JSON([]byte(`{"dtype":"u32"}`), 0, value.Const|value.Retain)
	require.NoError(t, err)
	require.NoError(t, e.Publish("h/en$", metaVal, noopSource()))
	require.NoError(t, e.Process())

	var gotPath string
	var gotVal value.Value
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		gotPath, gotVal = path, v
		return nil
	}}
	require.NoError(t, e.Subscribe("", topic.Rsp, src))

	require.NoError(t, e.Publish("$", value.Null(), noopSource()))
	require.NoError(t, e.Process())

	assert.Equal(t, "h/en$", gotPath)
	s, err := gotVal.AsString()
	require.NoError(t, err)
	assert.Equal(t, `{"dtype":"u32"}`, s)
}

func TestSourceNeverReceivesOwnPublish(t *testing.T) {
	e := pubsub.New("h/", 4096)
	var calls int
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		calls++
		return nil
	}}
	require.NoError(t, e.Subscribe("h/en", topic.Pub, src))
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), src))
	require.NoError(t, e.Process())

	assert.Equal(t, 0, calls)
}

func TestNoPubSubscriberSkipsNormalPublish(t *testing.T) {
	e := pubsub.New("h/", 4096)
	var calls int
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		calls++
		return nil
	}}
	require.NoError(t, e.Subscribe("h/en", topic.NoPub, src))
	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	assert.Equal(t, 0, calls)
}

func TestNonZeroStatusSynthesizesErrorPublish(t *testing.T) {
	e := pubsub.New("h/", 4096)
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		return pubsub.StatusError{Code: 7}
	}}
	require.NoError(t, e.Subscribe("h/en", topic.Pub, src))

	var errPath string
	var errVal value.Value
	errCtx := new(int)
	errSrc := topic.Source{Ctx: errCtx, Cbk: func(c any, path string, v value.Value) error {
		errPath, errVal = path, v
		return nil
	}}
	require.NoError(t, e.Subscribe("", topic.Rsp, errSrc))

	require.NoError(t, e.Publish("h/en", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	assert.Equal(t, "h/en#", errPath)
	n, err := errVal.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestUnsubscribeFromAll(t *testing.T) {
	e := pubsub.New("h/", 4096)
	var calls int
	ctx := new(int)
	src := topic.Source{Ctx: ctx, Cbk: func(c any, path string, v value.Value) error {
		calls++
		return nil
	}}
	require.NoError(t, e.Subscribe("h/a", topic.Pub, src))
	require.NoError(t, e.Subscribe("h/b", topic.Pub, src))
	require.NoError(t, e.UnsubscribeFromAll(src))

	require.NoError(t, e.Publish("h/a", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Publish("h/b", value.U32(2, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	assert.Equal(t, 0, calls)
}

func TestQueryOnUnknownTopicFails(t *testing.T) {
	e := pubsub.New("h/", 4096)
	_, err := e.Query("h/missing")
	assert.ErrorIs(t, err, pubsub.ErrTopicNotFound)
}

func TestVariableLengthRetainRequiresConst(t *testing.T) {
	// value itself refuses to construct a non-Const Retain variable-length
	// value; the engine-level ErrRetainNeedsConst check in Publish is a
	// second line of defense for Values assembled by other means.
	_, err := value.Str([]byte("x"), 0, value.Retain)
	assert.ErrorIs(t, err, value.ErrRetainRequiresConst)
}

func TestPayloadOverHalfArenaIsRejected(t *testing.T) {
	e := pubsub.New("h/", 16)
	big := make([]byte, 12)
	v, err := value.Bin(big, len(big), 0)
	require.NoError(t, err)
	err = e.Publish("h/big", v, noopSource())
	assert.ErrorIs(t, err, pubsub.ErrPayloadTooBig)
}
