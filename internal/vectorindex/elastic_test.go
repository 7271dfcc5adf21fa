package vectorindex

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"receipt-rag-go/internal/semantic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestElastic(t *testing.T, handler http.HandlerFunc) *ElasticStore {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewElasticStore(client, "receipts")
}

func TestElasticStore_UpsertWritesBulkWithDeterministicIDs(t *testing.T) {
	var ids []string
	store := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/_bulk"))
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			if line%2 == 0 {
				var meta map[string]map[string]string
				require.NoError(t, json.Unmarshal(scanner.Bytes(), &meta))
				ids = append(ids, meta["index"]["_id"])
			}
			line++
		}
		_, _ = io.WriteString(w, `{"errors":false,"items":[]}`)
	})

	docs := semantic.Build(receipt(7, 5, day(2024, 1, 10)))
	vectors := [][]float32{{1}, {2}, {3}}
	require.NoError(t, store.Upsert(context.Background(), docs, vectors, "m"))
	assert.Equal(t, []string{"receipt:7:summary", "receipt:7:item:0", "receipt:7:item:1"}, ids)
}

func TestElasticStore_UpsertItemErrorFailsBatch(t *testing.T) {
	store := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":true,"items":[{"index":{"_id":"receipt:7:summary","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad dims"}}}]}`)
	})

	docs := semantic.Build(receipt(7, 5, nil))
	err := store.Upsert(context.Background(), docs, [][]float32{{1}, {2}, {3}}, "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad dims")
}

func TestElasticStore_QuerySendsKnnWithFilter(t *testing.T) {
	var body map[string]any
	store := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/receipts/_search"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_score":0.9,"_source":{"doc_id":"receipt:1:item:0","text_content":"Item name: Milk"}},
			{"_score":0.5,"_source":{"doc_id":"receipt:1:summary","text_content":"Store: Fresh Mart"}}
		]}}`)
	})

	expr, err := BuildFilter(RetrievalFilter{UserID: 5})
	require.NoError(t, err)
	docs, err := store.Query(context.Background(), []float32{1, 0}, expr, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Item name: Milk", "Store: Fresh Mart"}, docs)

	knn, ok := body["knn"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), knn["k"])
	assert.Equal(t, map[string]any{"term": map[string]any{"user_id": float64(5)}}, knn["filter"])
}

func TestElasticStore_QueryErrorStatus(t *testing.T) {
	store := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	})

	_, err := store.Query(context.Background(), []float32{1}, Expr{Cond: &Condition{Field: "user_id", Op: OpEq, Value: 1}}, 3)
	assert.Error(t, err)
}
