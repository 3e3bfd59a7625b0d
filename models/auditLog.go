package models

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Audit entry types. The payload carries the structured detail of whatever
// condition triggered the entry.
const (
	AuditUserCreated      = "User created"
	AuditRolesUpdated     = "User roles updated"
	AuditSaleSkipped      = "Sale skipped"
	AuditSaleReprocessed  = "Sale re-processed"
	AuditSaleError        = "Sale error"
	AuditRefundProcessed  = "Refund processed"
	AuditRefundSkipped    = "Refund skipped"
	AuditSubscriptionEnd  = "Subscription ended"
	AuditSubscriptionSkip = "Subscription skipped"
	AuditSyncCompleted    = "Sync completed"
	AuditSyncError        = "Sync error"
	AuditWarning          = "Warning"
)

type AuditLogEntry struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	Type        string    `gorm:"size:64;index;not null" json:"type"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AppendAuditLog writes one entry and applies both retention rules: entries
// older than rotationDays are dropped, then the count is trimmed back to
// limit, oldest first. Both run on every append.
func AppendAuditLog(ctx context.Context, db *gorm.DB, entryType string, payload any, limit int, rotationDays int) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(&AuditLogEntry{
		Type:        entryType,
		PayloadJSON: payloadJSON,
	}).Error; err != nil {
		return err
	}

	if rotationDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -rotationDays)
		if err := db.WithContext(ctx).
			Where("created_at < ?", cutoff).
			Delete(&AuditLogEntry{}).Error; err != nil {
			return err
		}
	}

	if limit > 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&AuditLogEntry{}).Count(&count).Error; err != nil {
			return err
		}
		if count > int64(limit) {
			surplus := int(count - int64(limit))
			var stale []AuditLogEntry
			if err := db.WithContext(ctx).Order("id asc").Limit(surplus).Find(&stale).Error; err != nil {
				return err
			}
			ids := make([]uint, 0, len(stale))
			for _, s := range stale {
				ids = append(ids, s.ID)
			}
			if err := db.WithContext(ctx).Where("id IN ?", ids).Delete(&AuditLogEntry{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// ListAuditLog returns entries newest-first.
func ListAuditLog(ctx context.Context, db *gorm.DB, page int, perPage int) ([]AuditLogEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	if err := db.WithContext(ctx).Model(&AuditLogEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []AuditLogEntry
	err := db.WithContext(ctx).
		Order("id desc").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func CountAuditLogByType(ctx context.Context, db *gorm.DB, entryType string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&AuditLogEntry{}).Where("type = ?", entryType).Count(&count).Error
	return count, err
}

func ClearAuditLog(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Where("1 = 1").Delete(&AuditLogEntry{}).Error
}
