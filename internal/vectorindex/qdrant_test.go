package vectorindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestQdrant(t *testing.T, h http.HandlerFunc) *Qdrant {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	q, err := NewQdrant(QdrantConfig{
		BaseURL:    srv.URL + "/",
		APIKey:     "secret",
		Collection: "workshops",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQdrantValidation(t *testing.T) {
	_, err := NewQdrant(QdrantConfig{Collection: "c"}, nil)
	assert.Error(t, err)
	_, err = NewQdrant(QdrantConfig{BaseURL: "http://localhost:6333"}, nil)
	assert.Error(t, err)
}

func TestQdrantSearch(t *testing.T) {
	var gotBody map[string]any
	q := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collections/workshops/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":[
			{"id":"5c56c793-69f3-4fbf-87e6-c4bf54c28c26","score":0.92,"payload":{"title":"Go"}},
			{"id":17,"score":0.5,"payload":{"title":"Rust"}}
		],"status":"ok","time":0.001}`)
	})

	records, err := q.Search(context.Background(), []float32{0.5, 0.25}, 2)
	require.NoError(t, err)

	assert.Equal(t, float64(2), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])
	assert.Equal(t, []any{0.5, 0.25}, gotBody["vector"])

	require.Len(t, records, 2)
	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", records[0].ID)
	assert.Equal(t, 0.92, records[0].Score)
	assert.JSONEq(t, `{"title":"Go"}`, string(records[0].Payload))
	assert.Equal(t, "17", records[1].ID)
}

func TestQdrantSearchError(t *testing.T) {
	q := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":{"error":"Collection not found"}}`)
	})

	_, err := q.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestQdrantCount(t *testing.T) {
	q := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/workshops/points/count", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, true, body["exact"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":{"count":128},"status":"ok"}`)
	})

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 128, n)
}

func TestQdrantPing(t *testing.T) {
	var unhealthy atomic.Bool
	q := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/workshops", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":{"status":"green"},"status":"ok"}`)
	})

	assert.NoError(t, q.Ping(context.Background()))

	unhealthy.Store(true)
	assert.ErrorIs(t, q.Ping(context.Background()), ErrUnexpectedStatus)
}
