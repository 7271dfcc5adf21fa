package model

// DocumentKind 区分摘要文档与商品行文档。
type DocumentKind string

const (
	KindSummary  DocumentKind = "summary"
	KindLineItem DocumentKind = "line_item"
)

// 元数据字段名，过滤表达式与各存储后端共用。
const (
	FieldUserID           = "user_id"
	FieldReceiptID        = "receipt_id"
	FieldDateISO          = "date_iso"
	FieldDateEpochSeconds = "date_epoch_seconds"
	FieldKind             = "kind"
	FieldCategory         = "category"
	FieldItemName         = "item_name"
)

// SemanticMetadata 是随每个语义文档一起索引的元数据。
// DateISO 为空时 DateEpochSeconds 必为 nil，两者总是由同一个日期推导。
type SemanticMetadata struct {
	UserID           uint         `json:"user_id"`
	ReceiptID        uint         `json:"receipt_id"`
	DateISO          string       `json:"date_iso,omitempty"`
	DateEpochSeconds *int64       `json:"date_epoch_seconds,omitempty"`
	Kind             DocumentKind `json:"kind"`
	Category         string       `json:"category,omitempty"`
	ItemName         string       `json:"item_name,omitempty"`
}

// SemanticDocument 是被向量化和索引的最小单元。
type SemanticDocument struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Metadata SemanticMetadata `json:"metadata"`
}

// RetrievalResult 按相似度从高到低排列的文档文本。
type RetrievalResult struct {
	Documents []string `json:"documents"`
}
