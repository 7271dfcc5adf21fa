// Package extraction 定义了 OCR 行文本到结构化小票记录的抽取契约。
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"receipt-rag-go/internal/model"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrExtractionFailure 表示抽取服务不可达或返回的数据不符合 schema。
var ErrExtractionFailure = errors.New("extraction failure")

// InputDateLayout 是抽取服务返回日期使用的格式（DD-MM-YYYY）。
const InputDateLayout = "02-01-2006"

// ExtractedLineItem 是抽取服务返回的单个商品行。
type ExtractedLineItem struct {
	Name            *string  `json:"name" validate:"required"`
	Quantity        *float64 `json:"quantity" validate:"omitempty,min=0"`
	PricePerUnit    *float64 `json:"price_per_unit" validate:"omitempty,min=0"`
	TotalPrice      *float64 `json:"total_price" validate:"omitempty,min=0"`
	Category        string   `json:"category" validate:"required,oneof='essential groceries' 'feel good groceries' clothing electronics furniture other"`
	ConfidenceScore *int     `json:"confidence_score" validate:"required,min=0,max=100"`
}

// ReceiptSummary 是抽取服务必须返回的完整 JSON 对象。
type ReceiptSummary struct {
	StoreName          *string             `json:"store_name" validate:"required"`
	StoreAddress       *string             `json:"store_address" validate:"required"`
	StoreNumber        *string             `json:"store_number"`
	Items              []ExtractedLineItem `json:"items" validate:"required,dive"`
	Subtotal           *float64            `json:"subtotal" validate:"omitempty,min=0"`
	Taxes              *float64            `json:"taxes" validate:"required"`
	Total              *float64            `json:"total" validate:"required"`
	Date               *string             `json:"date"`
	PaymentMethod      string              `json:"payment_method" validate:"required,oneof=cash 'credit card' 'debit card' check other"`
	ConfidenceScoreOCR *int                `json:"confidence_score_ocr" validate:"required,min=0,max=100"`
}

// ReceiptSchema 是随请求下发给模型的 JSON Schema，字段与 ReceiptSummary 一一对应。
var ReceiptSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["store_name", "store_address", "store_number", "items", "subtotal", "taxes", "total", "date", "payment_method", "confidence_score_ocr"],
  "properties": {
    "store_name": {"type": "string"},
    "store_address": {"type": "string"},
    "store_number": {"type": ["string", "null"]},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "quantity", "price_per_unit", "total_price", "category", "confidence_score"],
        "properties": {
          "name": {"type": "string"},
          "quantity": {"type": ["number", "null"], "minimum": 0},
          "price_per_unit": {"type": ["number", "null"], "minimum": 0},
          "total_price": {"type": ["number", "null"], "minimum": 0},
          "category": {"type": "string", "enum": ["essential groceries", "feel good groceries", "clothing", "electronics", "furniture", "other"]},
          "confidence_score": {"type": "integer", "minimum": 0, "maximum": 100}
        }
      }
    },
    "subtotal": {"type": ["number", "null"], "minimum": 0},
    "taxes": {"type": "number"},
    "total": {"type": "number"},
    "date": {"type": ["string", "null"], "description": "DD-MM-YYYY"},
    "payment_method": {"type": "string", "enum": ["cash", "credit card", "debit card", "check", "other"]},
    "confidence_score_ocr": {"type": "integer", "minimum": 0, "maximum": 100}
  }
}`)

var validate = validator.New()

// ParseSummary 严格解析模型输出：未知字段、缺失必填字段、枚举越界都视为失败，不做部分修复。
func ParseSummary(content string) (*ReceiptSummary, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var summary ReceiptSummary
	if err := dec.Decode(&summary); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrExtractionFailure, err)
	}
	// 对象之后不允许再有其他内容
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after receipt object", ErrExtractionFailure)
	}
	if err := validate.Struct(&summary); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}
	return &summary, nil
}

// ToReceipt 将校验通过的抽取结果转换为待持久化的小票记录，raw_text 为按行拼接的原始文本。
func (s *ReceiptSummary) ToReceipt(lines []string) (*model.Receipt, error) {
	receipt := &model.Receipt{
		StoreName:          *s.StoreName,
		StoreAddress:       *s.StoreAddress,
		StoreNumber:        nonBlank(s.StoreNumber),
		Subtotal:           s.Subtotal,
		Taxes:              *s.Taxes,
		Total:              *s.Total,
		PaymentMethod:      s.PaymentMethod,
		ConfidenceScoreOCR: *s.ConfidenceScoreOCR,
		RawText:            JoinLines(lines),
	}

	if d := nonBlank(s.Date); d != nil {
		parsed, err := time.Parse(InputDateLayout, *d)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q is not DD-MM-YYYY: %w", ErrExtractionFailure, *d, err)
		}
		receipt.Date = &parsed
	}

	receipt.LineItems = make([]model.LineItem, 0, len(s.Items))
	for i, item := range s.Items {
		receipt.LineItems = append(receipt.LineItems, model.LineItem{
			Position:        i,
			Name:            *item.Name,
			Quantity:        item.Quantity,
			PricePerUnit:    item.PricePerUnit,
			TotalPrice:      item.TotalPrice,
			Category:        item.Category,
			ConfidenceScore: *item.ConfidenceScore,
		})
	}
	return receipt, nil
}

// JoinLines 以换行符拼接重建出的行，作为抽取服务的输入文本。
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
