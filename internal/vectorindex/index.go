package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/pkg/embedding"
	"receipt-rag-go/pkg/log"
)

var (
	// ErrEmbeddingFailure 表示向量化调用失败。
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrIndexFailure 表示向量存储的写入或查询失败。
	ErrIndexFailure = errors.New("index failure")
)

// Store 是最近邻存储的端口。Upsert 按文档 ID 覆盖写入，整批要么全部成功要么返回错误。
type Store interface {
	Upsert(ctx context.Context, docs []model.SemanticDocument, vectors [][]float32, modelVersion string) error
	// Query 返回满足过滤条件的前 topK 个文档文本，按相似度从高到低排列。
	Query(ctx context.Context, vector []float32, filter Expr, topK int) ([]string, error)
	DeleteByUser(ctx context.Context, userID uint) error
	DeleteAll(ctx context.Context) error
}

// Index 组合嵌入模型与最近邻存储。写入与查询必须使用同一个嵌入模型。
type Index struct {
	store    Store
	embedder embedding.Client
}

// NewIndex 创建一个新的 Index 实例。
func NewIndex(store Store, embedder embedding.Client) *Index {
	return &Index{store: store, embedder: embedder}
}

// Upsert 一次批量向量化所有文档文本，然后按确定性 ID 覆盖写入。
func (i *Index) Upsert(ctx context.Context, docs []model.SemanticDocument) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for n, d := range docs {
		texts[n] = d.Text
	}

	vectors, err := i.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailure, len(vectors), len(docs))
	}

	if err := i.store.Upsert(ctx, docs, vectors, i.embedder.ModelVersion()); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexFailure, err)
	}
	log.Infof("[VectorIndex] 写入 %d 个语义文档, first: %s", len(docs), docs[0].ID)
	return nil
}

// EmbedQuery 使用与索引时相同的模型向量化问题。
func (i *Index) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := i.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	return vector, nil
}

// Query 按过滤条件做相似度检索；没有文档满足过滤条件时返回空结果而不是错误。
func (i *Index) Query(ctx context.Context, vector []float32, filter RetrievalFilter, topK int) (model.RetrievalResult, error) {
	expr, err := BuildFilter(filter)
	if err != nil {
		return model.RetrievalResult{}, err
	}
	if topK <= 0 {
		return model.RetrievalResult{Documents: []string{}}, nil
	}

	docs, err := i.store.Query(ctx, vector, expr, topK)
	if err != nil {
		return model.RetrievalResult{}, fmt.Errorf("%w: %w", ErrIndexFailure, err)
	}
	if docs == nil {
		docs = []string{}
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}
	log.Debugf("[VectorIndex] 检索完成, filter: %v, topK: %d, hits: %d", expr.Map(), topK, len(docs))
	return model.RetrievalResult{Documents: docs}, nil
}

// DeleteByUser 删除某个用户的全部语义文档。
func (i *Index) DeleteByUser(ctx context.Context, userID uint) error {
	if err := i.store.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexFailure, err)
	}
	return nil
}

// DeleteAll 清空整个索引。
func (i *Index) DeleteAll(ctx context.Context) error {
	if err := i.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexFailure, err)
	}
	return nil
}
