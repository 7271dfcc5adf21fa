package repository

import (
	"context"
	"receipt-rag-go/internal/model"

	"gorm.io/gorm"
)

// ReceiptRepository 定义了小票及其商品行的持久化操作。
type ReceiptRepository interface {
	// Create 在一个事务中写入小票和全部商品行，成功后 receipt.ID 即为稳定的标识。
	Create(ctx context.Context, receipt *model.Receipt) error
	FindByID(ctx context.Context, id uint) (*model.Receipt, error)
	FindByUser(ctx context.Context, userID uint, offset, limit int) ([]model.Receipt, int64, error)
	// FindIDs 返回全部小票 ID；userID 非 nil 时只返回该用户的。
	FindIDs(ctx context.Context, userID *uint) ([]uint, error)
	DeleteByUser(ctx context.Context, userID uint) (int64, error)
	Truncate(ctx context.Context) error
}

type receiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository 创建一个新的 ReceiptRepository 实例。
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{db: db}
}

func (r *receiptRepository) Create(ctx context.Context, receipt *model.Receipt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := receipt.LineItems
		receipt.LineItems = nil
		if err := tx.Create(receipt).Error; err != nil {
			receipt.LineItems = items
			return err
		}
		for i := range items {
			items[i].ReceiptID = receipt.ID
			items[i].Position = i
		}
		receipt.LineItems = items
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&receipt.LineItems).Error
	})
}

func (r *receiptRepository) FindByID(ctx context.Context, id uint) (*model.Receipt, error) {
	var receipt model.Receipt
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&receipt, id).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) FindByUser(ctx context.Context, userID uint, offset, limit int) ([]model.Receipt, int64, error) {
	var receipts []model.Receipt
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Receipt{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("id DESC").Offset(offset).Limit(limit).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Find(&receipts).Error
	if err != nil {
		return nil, 0, err
	}
	return receipts, total, nil
}

func (r *receiptRepository) FindIDs(ctx context.Context, userID *uint) ([]uint, error) {
	var ids []uint
	db := r.db.WithContext(ctx).Model(&model.Receipt{})
	if userID != nil {
		db = db.Where("user_id = ?", *userID)
	}
	err := db.Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (r *receiptRepository) DeleteByUser(ctx context.Context, userID uint) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&model.Receipt{}).Select("id").Where("user_id = ?", userID)
		if err := tx.Where("receipt_id IN (?)", sub).Delete(&model.LineItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("user_id = ?", userID).Delete(&model.Receipt{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// Truncate 清空商品行与小票表，用户表保留。
func (r *receiptRepository) Truncate(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.LineItem{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Receipt{}).Error
	})
}
