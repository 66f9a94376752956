package snapshot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/protocol"
)

func TestServeKVRendersStringValuesAsUTF8(t *testing.T) {
	kvB := kv.New()
	kvB.Set("greeting", protocol.StringAny("hello"), 0)

	h := New(kvB, queue.New(), pubsub.New(), stream.New())
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kv", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []kvEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "greeting", entries[0].Key)
	require.Equal(t, "string", entries[0].Value.Type)
	require.Equal(t, "hello", entries[0].Value.Data)
}

func TestServeQueueRendersPendingAndDLQ(t *testing.T) {
	queueB := queue.New()
	require.NoError(t, queueB.Create("jobs", queue.Config{MaxRetries: 0}))
	_, err := queueB.Push("jobs", protocol.StringAny("payload"), 1, 0)
	require.NoError(t, err)

	h := New(kv.New(), queueB, pubsub.New(), stream.New())
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueView `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 1)
	require.Len(t, body.Queues[0].Pending, 1)
}

func TestServeStreamRendersPartitionsAndGroups(t *testing.T) {
	streamB := stream.New()
	require.NoError(t, streamB.Create("events", 1, stream.Retention{}, false))
	_, _, err := streamB.Publish("events", protocol.StringAny("x"), "")
	require.NoError(t, err)
	_, err = streamB.Join("events", "g", 1)
	require.NoError(t, err)

	h := New(kv.New(), queue.New(), pubsub.New(), streamB)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var topics []streamTopicView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &topics))
	require.Len(t, topics, 1)
	require.Len(t, topics[0].Partitions[0].Records, 1)
	require.Len(t, topics[0].Groups, 1)
}
