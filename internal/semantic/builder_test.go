package semantic

import (
	"testing"
	"time"

	"receipt-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func sampleReceipt() *model.Receipt {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	store := "042"
	return &model.Receipt{
		ID:            7,
		UserID:        5,
		StoreName:     "Fresh Mart",
		StoreAddress:  "1 Main St",
		StoreNumber:   &store,
		Date:          &date,
		PaymentMethod: model.PaymentCreditCard,
		Total:         12.5,
		Taxes:         0.75,
		LineItems: []model.LineItem{
			{Name: "Milk", Quantity: f64(2), PricePerUnit: f64(1.25), TotalPrice: f64(2.5), Category: model.CategoryEssentialGroceries},
			{Name: "Chocolate", TotalPrice: f64(10), Category: model.CategoryFeelGoodGroceries},
		},
	}
}

func TestBuild_IDsForReceiptWithTwoItems(t *testing.T) {
	docs := Build(sampleReceipt())

	require.Len(t, docs, 3)
	assert.Equal(t, "receipt:7:summary", docs[0].ID)
	assert.Equal(t, "receipt:7:item:0", docs[1].ID)
	assert.Equal(t, "receipt:7:item:1", docs[2].ID)
}

func TestBuild_SummaryText(t *testing.T) {
	docs := Build(sampleReceipt())

	assert.Equal(t,
		"Store: Fresh Mart; Store Address: 1 Main St; Store Number: 042; Date: 2024-03-15; Payment: credit card; Total (incl. taxes): 12.50; Taxes: 0.75",
		docs[0].Text)
	assert.Equal(t, model.KindSummary, docs[0].Metadata.Kind)
	assert.Empty(t, docs[0].Metadata.Category)
}

func TestBuild_ItemTextAndMetadata(t *testing.T) {
	docs := Build(sampleReceipt())

	assert.Equal(t, "Item name: Milk; Quantity: 2; Unit Price: 1.25; Total Price: 2.50; Category: essential groceries", docs[1].Text)
	assert.Equal(t, "Item name: Chocolate; Quantity: N/A; Unit Price: N/A; Total Price: 10.00; Category: feel good groceries", docs[2].Text)

	meta := docs[2].Metadata
	assert.Equal(t, model.KindLineItem, meta.Kind)
	assert.Equal(t, uint(5), meta.UserID)
	assert.Equal(t, uint(7), meta.ReceiptID)
	assert.Equal(t, "Chocolate", meta.ItemName)
	assert.Equal(t, model.CategoryFeelGoodGroceries, meta.Category)
}

func TestBuild_DateFieldsConsistent(t *testing.T) {
	for _, doc := range Build(sampleReceipt()) {
		require.NotNil(t, doc.Metadata.DateEpochSeconds)
		assert.Equal(t, "2024-03-15", doc.Metadata.DateISO)
		assert.Equal(t, int64(1710460800), *doc.Metadata.DateEpochSeconds)
	}
}

func TestBuild_MissingOptionalFields(t *testing.T) {
	r := &model.Receipt{ID: 9, UserID: 1, StoreName: "Corner", PaymentMethod: model.PaymentCash, Total: 3}
	docs := Build(r)

	require.Len(t, docs, 1)
	assert.Equal(t, "Store: Corner; Store Address: N/A; Store Number: N/A; Date: N/A; Payment: cash; Total (incl. taxes): 3.00; Taxes: 0.00", docs[0].Text)
	assert.Empty(t, docs[0].Metadata.DateISO)
	assert.Nil(t, docs[0].Metadata.DateEpochSeconds)
}

func TestBuild_Deterministic(t *testing.T) {
	assert.Equal(t, Build(sampleReceipt()), Build(sampleReceipt()))
}
