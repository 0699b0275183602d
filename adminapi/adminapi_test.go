package adminapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jetperch/fbp/adminapi"
	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSource() topic.Source {
	return topic.Source{Cbk: func(ctx any, path string, v value.Value) error { return nil }, Ctx: new(int)}
}

func TestHandleTopic(t *testing.T) {
	e := pubsub.New("h/", 4096)
	require.NoError(t, e.Publish("h/en", value.U32(7, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	srv := httptest.NewServer(adminapi.Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/topics/h/en")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "h/en", body["path"])
	assert.Equal(t, float64(7), body["value"])
}

func TestHandleTopicsFilterByPrefix(t *testing.T) {
	e := pubsub.New("h/", 4096)
	require.NoError(t, e.Publish("h/a", value.U32(1, value.Retain), noopSource()))
	require.NoError(t, e.Publish("h/b", value.U32(2, value.Retain), noopSource()))
	require.NoError(t, e.Process())

	srv := httptest.NewServer(adminapi.Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/topics?prefix=h/a")
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "h/a", entries[0]["path"])
}

func TestHandleHealthz(t *testing.T) {
	e := pubsub.New("h/", 4096)
	srv := httptest.NewServer(adminapi.Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
