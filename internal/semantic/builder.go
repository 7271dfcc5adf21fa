// Package semantic 将已持久化的小票转换为可向量化、可检索的语义文档。
package semantic

import (
	"fmt"
	"receipt-rag-go/internal/model"
	"strconv"
)

// NotAvailable 是缺失字段在文档文本中的占位符。
const NotAvailable = "N/A"

// 文本模板的字段顺序会影响嵌入结果，修改即意味着需要全量重建索引。
const (
	summaryTemplate = "Store: %s; Store Address: %s; Store Number: %s; Date: %s; Payment: %s; Total (incl. taxes): %s; Taxes: %s"
	itemTemplate    = "Item name: %s; Quantity: %s; Unit Price: %s; Total Price: %s; Category: %s"
)

// SummaryID 返回小票摘要文档的确定性 ID。
func SummaryID(receiptID uint) string {
	return fmt.Sprintf("receipt:%d:summary", receiptID)
}

// ItemID 返回第 index 个商品行文档的确定性 ID。
func ItemID(receiptID uint, index int) string {
	return fmt.Sprintf("receipt:%d:item:%d", receiptID, index)
}

// Build 为一张小票生成一个摘要文档，以及按原始顺序每个商品行一个文档。
// 对同一张小票重复调用得到完全相同的 ID 与文本。
func Build(receipt *model.Receipt) []model.SemanticDocument {
	base := model.SemanticMetadata{
		UserID:    receipt.UserID,
		ReceiptID: receipt.ID,
	}
	dateText := NotAvailable
	if receipt.Date != nil {
		base.DateISO = model.DateISO(*receipt.Date)
		epoch := model.DateEpochSeconds(*receipt.Date)
		base.DateEpochSeconds = &epoch
		dateText = base.DateISO
	}

	docs := make([]model.SemanticDocument, 0, len(receipt.LineItems)+1)

	summaryMeta := base
	summaryMeta.Kind = model.KindSummary
	docs = append(docs, model.SemanticDocument{
		ID: SummaryID(receipt.ID),
		Text: fmt.Sprintf(summaryTemplate,
			orNA(receipt.StoreName),
			orNA(receipt.StoreAddress),
			strOrNA(receipt.StoreNumber),
			dateText,
			orNA(receipt.PaymentMethod),
			money(receipt.Total),
			money(receipt.Taxes),
		),
		Metadata: summaryMeta,
	})

	for i, item := range receipt.LineItems {
		meta := base
		meta.Kind = model.KindLineItem
		meta.Category = item.Category
		meta.ItemName = item.Name
		docs = append(docs, model.SemanticDocument{
			ID: ItemID(receipt.ID, i),
			Text: fmt.Sprintf(itemTemplate,
				orNA(item.Name),
				quantity(item.Quantity),
				moneyOrNA(item.PricePerUnit),
				moneyOrNA(item.TotalPrice),
				orNA(item.Category),
			),
			Metadata: meta,
		})
	}
	return docs
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

func strOrNA(s *string) string {
	if s == nil {
		return NotAvailable
	}
	return orNA(*s)
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func moneyOrNA(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return money(*v)
}

func quantity(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
