// Package vectorindex 负责语义文档的向量化写入与带元数据过滤的相似度检索。
package vectorindex

import (
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"time"
)

// ErrInvalidDateRange 表示日期范围只给出了一端，或起点晚于终点。
var ErrInvalidDateRange = errors.New("invalid date range")

// Op 是过滤条件的比较操作符。
type Op string

const (
	OpEq  Op = "$eq"
	OpGte Op = "$gte"
	OpLte Op = "$lte"
)

// Condition 是单个字段上的比较条件。
type Condition struct {
	Field string
	Op    Op
	Value int64
}

// Expr 是过滤表达式：要么是一个裸条件，要么是多个子表达式的合取。
// 只有一个条件时必须使用裸形式，不得包装成单元素的 And。
type Expr struct {
	Cond *Condition
	And  []Expr
}

// RetrievalFilter 限定检索范围：UserID 必填，日期范围两端要么都给出要么都不给（闭区间）。
type RetrievalFilter struct {
	UserID uint
	Start  *time.Time
	End    *time.Time
}

// HasDateRange 报告过滤器是否带有日期范围。
func (f RetrievalFilter) HasDateRange() bool {
	return f.Start != nil && f.End != nil
}

// Validate 拒绝只有一端的日期范围以及倒置的范围。
func (f RetrievalFilter) Validate() error {
	if (f.Start == nil) != (f.End == nil) {
		return fmt.Errorf("%w: both start and end are required when filtering by date", ErrInvalidDateRange)
	}
	if f.HasDateRange() && model.DateEpochSeconds(*f.Start) > model.DateEpochSeconds(*f.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidDateRange, model.DateISO(*f.Start), model.DateISO(*f.End))
	}
	return nil
}

// BuildFilter 将检索过滤器翻译为存储无关的过滤表达式。
func BuildFilter(f RetrievalFilter) (Expr, error) {
	if err := f.Validate(); err != nil {
		return Expr{}, err
	}
	userClause := Expr{Cond: &Condition{Field: model.FieldUserID, Op: OpEq, Value: int64(f.UserID)}}
	if !f.HasDateRange() {
		return userClause, nil
	}
	return Expr{And: []Expr{
		userClause,
		{Cond: &Condition{Field: model.FieldDateEpochSeconds, Op: OpGte, Value: model.DateEpochSeconds(*f.Start)}},
		{Cond: &Condition{Field: model.FieldDateEpochSeconds, Op: OpLte, Value: model.DateEpochSeconds(*f.End)}},
	}}, nil
}

// Map 返回表达式的通用文档形式，例如 {"user_id": 5} 或 {"$and": [...]}，用于日志和调试。
func (e Expr) Map() map[string]any {
	if e.Cond != nil {
		if e.Cond.Op == OpEq {
			return map[string]any{e.Cond.Field: e.Cond.Value}
		}
		return map[string]any{e.Cond.Field: map[string]any{string(e.Cond.Op): e.Cond.Value}}
	}
	clauses := make([]map[string]any, 0, len(e.And))
	for _, sub := range e.And {
		clauses = append(clauses, sub.Map())
	}
	return map[string]any{"$and": clauses}
}

// Matches 在内存中对元数据求值。缺失的字段不满足任何条件。
func (e Expr) Matches(meta model.SemanticMetadata) bool {
	if e.Cond != nil {
		v, ok := fieldValue(meta, e.Cond.Field)
		if !ok {
			return false
		}
		switch e.Cond.Op {
		case OpEq:
			return v == e.Cond.Value
		case OpGte:
			return v >= e.Cond.Value
		case OpLte:
			return v <= e.Cond.Value
		default:
			return false
		}
	}
	for _, sub := range e.And {
		if !sub.Matches(meta) {
			return false
		}
	}
	return true
}

func fieldValue(meta model.SemanticMetadata, field string) (int64, bool) {
	switch field {
	case model.FieldUserID:
		return int64(meta.UserID), true
	case model.FieldReceiptID:
		return int64(meta.ReceiptID), true
	case model.FieldDateEpochSeconds:
		if meta.DateEpochSeconds == nil {
			return 0, false
		}
		return *meta.DateEpochSeconds, true
	default:
		return 0, false
	}
}
