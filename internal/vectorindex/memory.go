package vectorindex

import (
	"context"
	"fmt"
	"math"
	"receipt-rag-go/internal/model"
	"sort"
	"sync"
)

type memoryEntry struct {
	doc    model.SemanticDocument
	vector []float32
}

// MemoryStore 是进程内的 Store 实现，按余弦相似度暴力检索。用于测试与单机运行。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Len 返回当前存储的文档数量。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Upsert(_ context.Context, docs []model.SemanticDocument, vectors [][]float32, _ string) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d != %d", len(docs), len(vectors))
	}
	// 先校验整批，再一次性写入
	for n, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("empty vector for document %s", docs[n].ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for n, d := range docs {
		vec := make([]float32, len(vectors[n]))
		copy(vec, vectors[n])
		s.entries[d.ID] = memoryEntry{doc: d, vector: vec}
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, filter Expr, topK int) ([]string, error) {
	type scored struct {
		id    string
		text  string
		score float64
	}

	s.mu.RLock()
	candidates := make([]scored, 0, len(s.entries))
	for id, e := range s.entries {
		if !filter.Matches(e.doc.Metadata) {
			continue
		}
		candidates = append(candidates, scored{id: id, text: e.doc.Text, score: cosine(vector, e.vector)})
	}
	s.mu.RUnlock()

	// 分数相同按 ID 排序，保证结果稳定
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]string, len(candidates))
	for n, c := range candidates {
		out[n] = c.text
	}
	return out, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.doc.Metadata.UserID == userID {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	return nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
