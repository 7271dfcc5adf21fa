package extraction

import (
	"context"
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/pkg/llm"
	"receipt-rag-go/pkg/log"
)

// SystemPrompt 指示模型按 ReceiptSummary schema 输出单个 JSON 对象。
const SystemPrompt = "You are a helpful information extractor. You read receipt_lines extracted from OCR " +
	"and output a single JSON object that matches the ReceiptSummary schema exactly. " +
	"Items with very long names may wrap to the next line. " +
	"For each grocery item also assign one of: essential groceries, feel good groceries, " +
	"clothing, electronics, furniture, or other. If you cannot determine the category, use 'other'. " +
	"Include a confidence_score out of 100 for your extraction of each item. " +
	"Dates must be formatted as DD-MM-YYYY. " +
	"At the end include a confidence_score_ocr out of 100 for your confidence in the correctness " +
	"of OCR extracted input."

// Extractor 将按阅读顺序排列的行转换为结构化小票记录。
// 返回的记录尚未分配 ID 与 UserID，由持久化层补齐。
type Extractor interface {
	Extract(ctx context.Context, lines []string) (*model.Receipt, error)
}

// LLMExtractor 通过带 JSON Schema 约束的 chat completion 完成抽取。
type LLMExtractor struct {
	client llm.Client
	model  string
}

// NewLLMExtractor 创建抽取器；model 为空时使用 LLM 客户端的默认模型。
func NewLLMExtractor(client llm.Client, model string) *LLMExtractor {
	return &LLMExtractor{client: client, model: model}
}

// Extract 调用模型并严格校验输出，任何偏离 schema 的结果都返回 ErrExtractionFailure。
func (e *LLMExtractor) Extract(ctx context.Context, lines []string) (*model.Receipt, error) {
	payload := JoinLines(lines)
	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: payload},
	}
	gen := &llm.GenerationParams{
		Model:       e.model,
		Temperature: llm.Float64(0),
		ResponseFormat: &llm.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &llm.JSONSchema{
				Name:   "ReceiptSummary",
				Schema: ReceiptSchema,
				Strict: true,
			},
		},
	}

	log.Infof("[Extractor] 开始结构化抽取, lines: %d, chars: %d", len(lines), len(payload))
	content, err := e.client.Complete(ctx, messages, gen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}

	summary, err := ParseSummary(content)
	if err != nil {
		log.Warnf("[Extractor] 模型输出不符合 schema: %v", err)
		return nil, err
	}
	receipt, err := summary.ToReceipt(lines)
	if err != nil {
		return nil, err
	}
	log.Infof("[Extractor] 抽取完成, store: %s, items: %d", receipt.StoreName, len(receipt.LineItems))
	return receipt, nil
}
