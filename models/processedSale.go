package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ProcessedSaleCap bounds the dedup ledger; once exceeded, the oldest
// entries are evicted so only the most recent cap remain.
const ProcessedSaleCap = 1000

// ProcessedSale is one dedup-ledger entry: a sale id this system has already
// provisioned. Lookups go through the unique index.
type ProcessedSale struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	SaleId    string    `gorm:"size:128;uniqueIndex;not null" json:"sale_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func IsSaleProcessed(ctx context.Context, db *gorm.DB, saleId string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&ProcessedSale{}).Where("sale_id = ?", saleId).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordProcessedSale appends saleId and trims the ledger back to the cap,
// oldest first. Recording an already-present id is a no-op.
func RecordProcessedSale(ctx context.Context, db *gorm.DB, saleId string) error {
	seen, err := IsSaleProcessed(ctx, db, saleId)
	if err != nil {
		return err
	}
	if !seen {
		if err := db.WithContext(ctx).Create(&ProcessedSale{SaleId: saleId}).Error; err != nil {
			return err
		}
	}

	var count int64
	if err := db.WithContext(ctx).Model(&ProcessedSale{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= ProcessedSaleCap {
		return nil
	}

	surplus := int(count - ProcessedSaleCap)
	var stale []ProcessedSale
	if err := db.WithContext(ctx).Order("id asc").Limit(surplus).Find(&stale).Error; err != nil {
		return err
	}
	ids := make([]uint, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	return db.WithContext(ctx).Where("id IN ?", ids).Delete(&ProcessedSale{}).Error
}

func ForgetProcessedSale(ctx context.Context, db *gorm.DB, saleId string) error {
	return db.WithContext(ctx).Where("sale_id = ?", saleId).Delete(&ProcessedSale{}).Error
}

func DeleteAllProcessedSales(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Where("1 = 1").Delete(&ProcessedSale{}).Error
}
