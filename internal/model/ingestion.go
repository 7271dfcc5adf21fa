package model

import "time"

// TaskState 是异步入库任务的状态。
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskIndexed    TaskState = "indexed"
	// TaskEmpty 表示图片中没有可提取的文字，不算失败。
	TaskEmpty  TaskState = "empty"
	TaskFailed TaskState = "failed"
)

// IngestionStatus 描述一个入库任务的当前状态。
type IngestionStatus struct {
	TaskID    string    `json:"taskId"`
	UserID    uint      `json:"userId"`
	FileName  string    `json:"fileName"`
	Status    TaskState `json:"status"`
	ReceiptID uint      `json:"receiptId,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
