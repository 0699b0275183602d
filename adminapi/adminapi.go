// Package adminapi exposes a read-only HTTP view over a pubsub.Engine:
// the retained topic tree, a single topic's value, and basic engine
// health — the introspection surface spec.md's own query/topic-list
// machinery doesn't need a network transport to reach a local operator.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jetperch/fbp/value"
)

// Engine is the subset of *pubsub.Engine the admin API depends on.
type Engine interface {
	WalkRetained(fn func(path string, v value.Value))
	Query(path string) (value.Value, error)
	Prefix() string
}

// Router builds a chi.Router serving the admin API over e.
func Router(e Engine) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", handleHealthz)
	r.Get("/topics", handleTopics(e))
	r.Get("/topics/*", handleTopic(e))
	r.Get("/engine/stats", handleStats(e))
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type topicEntry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// handleTopics lists every retained topic, optionally filtered by the
// "prefix" query parameter.
func handleTopics(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		var entries []topicEntry
		e.WalkRetained(func(path string, v value.Value) {
			if prefix != "" && !hasPrefix(path, prefix) {
				return
			}
			entries = append(entries, toEntry(path, v))
		})
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleTopic resolves a single topic's retained value by its path
// (everything after "/topics/").
func handleTopic(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := chi.URLParam(r, "*")
		v, err := e.Query(path)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, toEntry(path, v))
	}
}

func handleStats(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := 0
		e.WalkRetained(func(string, value.Value) { count++ })
		writeJSON(w, http.StatusOK, map[string]any{
			"prefix":        e.Prefix(),
			"retainedCount": count,
		})
	}
}

func toEntry(path string, v value.Value) topicEntry {
	entry := topicEntry{Path: path, Kind: v.Kind().String()}
	switch {
	case v.Kind().IsVariableLength():
		entry.Value = string(v.Bytes()[:v.Size()])
	default:
		if n, err := v.AsInt64(); err == nil {
			entry.Value = n
		} else if f, err := v.AsFloat64(); err == nil {
			entry.Value = f
		}
	}
	return entry
}

func hasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
