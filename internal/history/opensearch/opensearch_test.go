package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murugaratham/dwatch/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var body []byte
	var path, method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "debug-history")
	err := sink.Send(context.Background(), history.NewEvent(history.EventAttach, history.Record{PID: 101, Session: "App - attach"}))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/debug-history/_doc", path)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "attach", got["type"])
	rec := got["record"].(map[string]any)
	assert.Equal(t, float64(101), rec["pid"])
	assert.Equal(t, "App - attach", rec["session"])
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.NewEvent(history.EventDetach, history.Record{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	err := New("http://127.0.0.1:1", "idx").Send(context.Background(), history.NewEvent(history.EventDetach, history.Record{}))
	assert.Error(t, err)
}
