package model

// EsDocument 定义了存储在 Elasticsearch 中的语义文档结构。
type EsDocument struct {
	DocID            string       `json:"doc_id"` // 确定性 ID，例如 receipt:7:item:0
	TextContent      string       `json:"text_content"`
	Vector           []float32    `json:"vector"`
	ModelVersion     string       `json:"model_version"`
	UserID           uint         `json:"user_id"`
	ReceiptID        uint         `json:"receipt_id"`
	DateISO          string       `json:"date_iso,omitempty"`
	DateEpochSeconds *int64       `json:"date_epoch_seconds,omitempty"`
	Kind             DocumentKind `json:"kind"`
	Category         string       `json:"category,omitempty"`
	ItemName         string       `json:"item_name,omitempty"`
}

// NewEsDocument 将语义文档与其向量组装为 ES 文档。
func NewEsDocument(doc SemanticDocument, vector []float32, modelVersion string) EsDocument {
	return EsDocument{
		DocID:            doc.ID,
		TextContent:      doc.Text,
		Vector:           vector,
		ModelVersion:     modelVersion,
		UserID:           doc.Metadata.UserID,
		ReceiptID:        doc.Metadata.ReceiptID,
		DateISO:          doc.Metadata.DateISO,
		DateEpochSeconds: doc.Metadata.DateEpochSeconds,
		Kind:             doc.Metadata.Kind,
		Category:         doc.Metadata.Category,
		ItemName:         doc.Metadata.ItemName,
	}
}
