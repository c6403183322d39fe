package es

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
)

// fakeES 记录收到的请求，并按路径返回预设响应。
type fakeES struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
	handler  func(w http.ResponseWriter, r *http.Request, body string)
}

func newFakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) (*fakeES, *VectorStore) {
	t.Helper()
	f := &fakeES{bodies: map[string]string{}, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		key := r.Method + " " + r.URL.Path
		f.requests = append(f.requests, key)
		f.bodies[key] = string(body)
		f.mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		f.handler(w, r, string(body))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	store := NewVectorStore(client, config.IndexConfig{
		Database:    "research",
		Collection:  "embeddings",
		IndexName:   "vector_index",
		TextField:   "text",
		VectorField: "embeddings",
		Timeout:     time.Second,
	}, 3)
	return f, store
}

func TestEnsureIndex_CreatesIndexWithAlias(t *testing.T) {
	f, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	require.NoError(t, store.EnsureIndex(context.Background()))

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.bodies["PUT /research.embeddings"]), &created))
	assert.Contains(t, created["aliases"], "vector_index")
	props := created["mappings"].(map[string]any)["properties"].(map[string]any)
	vector := props["embeddings"].(map[string]any)
	assert.Equal(t, "dense_vector", vector["type"])
	assert.EqualValues(t, 3, vector["dims"])
	assert.Equal(t, "cosine", vector["similarity"])
	assert.Contains(t, props, "text")
}

func TestEnsureIndex_ExistingIndexIsKept(t *testing.T) {
	f, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, store.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"HEAD /research.embeddings"}, f.requests)
}

func TestUpsert_UsesContentKeyAsID(t *testing.T) {
	f, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	records := []model.IndexRecord{
		{ContentKey: "k1", Text: "alpha", Vector: []float32{1, 0, 0}, Source: "a.pdf", Page: 1},
		{ContentKey: "k2", Text: "beta", Vector: []float32{0, 1, 0}, Source: "a.pdf", Page: 2, ChunkIndex: 1},
	}
	require.NoError(t, store.Upsert(context.Background(), records))

	body := f.bodies["POST /research.embeddings/_bulk"]
	require.NotEmpty(t, body)
	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "k1", lines[0]["index"].(map[string]any)["_id"])
	assert.Equal(t, "alpha", lines[1]["text"])
	assert.Len(t, lines[1]["embeddings"], 3)
	assert.Equal(t, "k2", lines[2]["index"].(map[string]any)["_id"])
}

func TestUpsert_ItemFailure(t *testing.T) {
	_, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"dims mismatch"}}}]}`))
	})

	err := store.Upsert(context.Background(), []model.IndexRecord{{ContentKey: "k", Text: "t", Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dims mismatch")
}

func TestSearch_ConvertsScoreToCosine(t *testing.T) {
	f, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"k1","_score":1.0,"_source":{"text":"alpha","embeddings":[1,0,0],"source":"a.pdf","page":1,"chunk_index":0}},
			{"_id":"k2","_score":0.75,"_source":{"text":"beta","embeddings":[0,1,0],"source":"b.pdf","page":3,"chunk_index":7}},
			{"_id":"bad","_score":0.5,"_source":{"embeddings":[0,0,1]}}
		]}}`))
	})

	hits, err := store.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].Record.Text)
	assert.Equal(t, "k1", hits[0].Record.ContentKey)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)
	assert.Equal(t, []float32{0, 1, 0}, hits[1].Record.Vector)
	assert.Equal(t, 7, hits[1].Record.ChunkIndex)

	var query map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.bodies["POST /vector_index/_search"]), &query))
	knn := query["knn"].(map[string]any)
	assert.Equal(t, "embeddings", knn["field"])
	assert.EqualValues(t, 5, knn["k"])
	assert.EqualValues(t, 100, knn["num_candidates"])
}

func TestSearch_ErrorStatus(t *testing.T) {
	_, store := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	})

	_, err := store.Search(context.Background(), []float32{1, 0, 0}, 5)
	assert.Error(t, err)
}
