// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 商品分类枚举，与结构化抽取 schema 保持一致。
const (
	CategoryEssentialGroceries = "essential groceries"
	CategoryFeelGoodGroceries  = "feel good groceries"
	CategoryClothing           = "clothing"
	CategoryElectronics        = "electronics"
	CategoryFurniture          = "furniture"
	CategoryOther              = "other"
)

// 支付方式枚举。
const (
	PaymentCash       = "cash"
	PaymentCreditCard = "credit card"
	PaymentDebitCard  = "debit card"
	PaymentCheck      = "check"
	PaymentOther      = "other"
)

// Categories 按固定顺序列出所有合法的商品分类。
var Categories = []string{
	CategoryEssentialGroceries,
	CategoryFeelGoodGroceries,
	CategoryClothing,
	CategoryElectronics,
	CategoryFurniture,
	CategoryOther,
}

// PaymentMethods 按固定顺序列出所有合法的支付方式。
var PaymentMethods = []string{
	PaymentCash,
	PaymentCreditCard,
	PaymentDebitCard,
	PaymentCheck,
	PaymentOther,
}

// Receipt 对应于数据库中的 receipts 表。
// 一旦写入并完成向量化即视为不可变，重新上传会生成新的记录。
type Receipt struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             uint       `gorm:"index;not null" json:"userId"`
	StoreName          string     `gorm:"type:varchar(255);not null" json:"storeName"`
	StoreAddress       string     `gorm:"type:varchar(512)" json:"storeAddress"`
	StoreNumber        *string    `gorm:"type:varchar(64)" json:"storeNumber"`
	Date               *time.Time `gorm:"type:date" json:"date"`
	Subtotal           *float64   `json:"subtotal"`
	Taxes              float64    `gorm:"not null" json:"taxes"`
	Total              float64    `gorm:"not null" json:"total"`
	PaymentMethod      string     `gorm:"type:varchar(32);not null" json:"paymentMethod"`
	ConfidenceScoreOCR int        `gorm:"not null;column:confidence_score_ocr" json:"confidenceScoreOcr"`
	RawText            string     `gorm:"type:text" json:"rawText"`
	ImageKey           string     `gorm:"type:varchar(512)" json:"-"`
	LineItems          []LineItem `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE" json:"lineItems"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Receipt) TableName() string {
	return "receipts"
}

// LineItem 对应于数据库中的 line_items 表，Position 保存小票上的原始顺序。
type LineItem struct {
	ID              uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceiptID       uint     `gorm:"index;not null" json:"receiptId"`
	Position        int      `gorm:"not null" json:"position"`
	Name            string   `gorm:"type:varchar(255);not null" json:"name"`
	Quantity        *float64 `json:"quantity"`
	PricePerUnit    *float64 `json:"pricePerUnit"`
	TotalPrice      *float64 `json:"totalPrice"`
	Category        string   `gorm:"type:varchar(32);not null" json:"category"`
	ConfidenceScore int      `gorm:"not null" json:"confidenceScore"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (LineItem) TableName() string {
	return "line_items"
}
