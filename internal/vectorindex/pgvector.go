package vectorindex

import (
	"context"
	"fmt"
	"receipt-rag-go/internal/model"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVectorTable 是存放语义文档的表名。
const PGVectorTable = "semantic_documents"

// pgColumns 是允许出现在过滤条件中的字段与列名的映射。
var pgColumns = map[string]string{
	model.FieldUserID:           "user_id",
	model.FieldReceiptID:        "receipt_id",
	model.FieldDateEpochSeconds: "date_epoch_seconds",
}

// PGVectorStore 基于 PostgreSQL + pgvector 实现 Store。
type PGVectorStore struct {
	pool *pgxpool.Pool
	dims int
}

// NewPGVectorStore 创建一个新的 PGVectorStore 实例。
func NewPGVectorStore(pool *pgxpool.Pool, dims int) *PGVectorStore {
	return &PGVectorStore{pool: pool, dims: dims}
}

// EnsureSchema 创建 vector 扩展与文档表（已存在时跳过）。
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text_content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			model_version TEXT,
			user_id BIGINT NOT NULL,
			receipt_id BIGINT NOT NULL,
			date_iso TEXT,
			date_epoch_seconds BIGINT,
			kind TEXT NOT NULL,
			category TEXT,
			item_name TEXT
		)`, PGVectorTable, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_date_idx ON %s (user_id, date_epoch_seconds)`, PGVectorTable, PGVectorTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// PGFilter 将过滤表达式翻译为 SQL WHERE 子句，参数追加到 args 中。
func PGFilter(e Expr, args []any) (string, []any, error) {
	if e.Cond != nil {
		col, ok := pgColumns[e.Cond.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field: %s", e.Cond.Field)
		}
		var op string
		switch e.Cond.Op {
		case OpEq:
			op = "="
		case OpGte:
			op = ">="
		case OpLte:
			op = "<="
		default:
			return "", nil, fmt.Errorf("unsupported filter operator: %s", e.Cond.Op)
		}
		args = append(args, e.Cond.Value)
		return fmt.Sprintf("%s %s $%d", col, op, len(args)), args, nil
	}

	parts := make([]string, 0, len(e.And))
	for _, sub := range e.And {
		clause, next, err := PGFilter(sub, args)
		if err != nil {
			return "", nil, err
		}
		args = next
		parts = append(parts, clause)
	}
	if len(parts) == 0 {
		return "TRUE", args, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", args, nil
}

// Upsert 在单个事务中按 id 覆盖写入整批文档。
func (s *PGVectorStore) Upsert(ctx context.Context, docs []model.SemanticDocument, vectors [][]float32, modelVersion string) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d != %d", len(docs), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for n, d := range docs {
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, text_content, embedding, model_version, user_id, receipt_id, date_iso, date_epoch_seconds, kind, category, item_name)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), NULLIF($11, ''))
			 ON CONFLICT (id) DO UPDATE SET
			   text_content = EXCLUDED.text_content,
			   embedding = EXCLUDED.embedding,
			   model_version = EXCLUDED.model_version,
			   user_id = EXCLUDED.user_id,
			   receipt_id = EXCLUDED.receipt_id,
			   date_iso = EXCLUDED.date_iso,
			   date_epoch_seconds = EXCLUDED.date_epoch_seconds,
			   kind = EXCLUDED.kind,
			   category = EXCLUDED.category,
			   item_name = EXCLUDED.item_name`, PGVectorTable),
			d.ID, d.Text, pgvector.NewVector(vectors[n]), modelVersion,
			int64(d.Metadata.UserID), int64(d.Metadata.ReceiptID),
			d.Metadata.DateISO, d.Metadata.DateEpochSeconds,
			string(d.Metadata.Kind), d.Metadata.Category, d.Metadata.ItemName,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for n := range docs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert document %s: %w", docs[n].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGVectorStore) Query(ctx context.Context, vector []float32, filter Expr, topK int) ([]string, error) {
	where, args, err := PGFilter(filter, []any{pgvector.NewVector(vector)})
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	query := fmt.Sprintf(`SELECT text_content FROM %s WHERE %s ORDER BY embedding <=> $1 LIMIT $%d`, PGVectorTable, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, topK)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

func (s *PGVectorStore) DeleteByUser(ctx context.Context, userID uint) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, PGVectorTable), int64(userID))
	return err
}

func (s *PGVectorStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, PGVectorTable))
	return err
}
