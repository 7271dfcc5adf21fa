// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ReceiptIngestionTask represents one uploaded receipt image waiting for OCR and indexing.
type ReceiptIngestionTask struct {
	TaskID    string `json:"task_id"`
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	UserID    uint   `json:"user_id"`
}
