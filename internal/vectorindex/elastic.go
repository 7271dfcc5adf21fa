package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticStore 基于 Elasticsearch dense_vector 与 kNN 检索实现 Store。
type ElasticStore struct {
	client    *elasticsearch.Client
	indexName string
}

// NewElasticStore 创建一个新的 ElasticStore 实例，索引需已按 es.IndexMapping 创建。
func NewElasticStore(client *elasticsearch.Client, indexName string) *ElasticStore {
	return &ElasticStore{client: client, indexName: indexName}
}

// ElasticFilter 将过滤表达式翻译为 ES query DSL。
// 裸条件直接翻译为 term/range，合取翻译为 bool.filter。
func ElasticFilter(e Expr) map[string]any {
	if e.Cond != nil {
		switch e.Cond.Op {
		case OpEq:
			return map[string]any{"term": map[string]any{e.Cond.Field: e.Cond.Value}}
		case OpGte:
			return map[string]any{"range": map[string]any{e.Cond.Field: map[string]any{"gte": e.Cond.Value}}}
		case OpLte:
			return map[string]any{"range": map[string]any{e.Cond.Field: map[string]any{"lte": e.Cond.Value}}}
		}
	}
	clauses := make([]map[string]any, 0, len(e.And))
	for _, sub := range e.And {
		clauses = append(clauses, ElasticFilter(sub))
	}
	return map[string]any{"bool": map[string]any{"filter": clauses}}
}

// Upsert 使用 bulk index 按 doc_id 覆盖写入并立即 refresh。
// bulk 响应中任一条目失败即整批报错。
func (s *ElasticStore) Upsert(ctx context.Context, docs []model.SemanticDocument, vectors [][]float32, modelVersion string) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d != %d", len(docs), len(vectors))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for n, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": s.indexName, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := enc.Encode(model.NewEsDocument(d, vectors[n], modelVersion)); err != nil {
			return fmt.Errorf("failed to encode es document: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Index:   s.indexName,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ElasticStore] bulk 写入返回错误, status: %s, body: %s", res.Status(), string(body))
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					return fmt.Errorf("bulk item %s failed: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return errors.New("bulk request reported errors")
	}
	return nil
}

// SearchBody 构造带过滤条件的 kNN 检索请求体。
func SearchBody(vector []float32, filter Expr, topK int) map[string]any {
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	return map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
			"filter":         ElasticFilter(filter),
		},
		"_source": []string{"doc_id", "text_content"},
		"size":    topK,
	}
}

func (s *ElasticStore) Query(ctx context.Context, vector []float32, filter Expr, topK int) ([]string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(SearchBody(vector, filter, topK)); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ElasticStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]string, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		out = append(out, hit.Source.TextContent)
	}
	return out, nil
}

func (s *ElasticStore) deleteByQuery(ctx context.Context, query map[string]any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{"query": query}); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		&buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete_by_query returned an error: %s", res.String())
	}
	return nil
}

func (s *ElasticStore) DeleteByUser(ctx context.Context, userID uint) error {
	return s.deleteByQuery(ctx, map[string]any{"term": map[string]any{model.FieldUserID: userID}})
}

func (s *ElasticStore) DeleteAll(ctx context.Context) error {
	return s.deleteByQuery(ctx, map[string]any{"match_all": map[string]any{}})
}
