package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
)

// GumroadConnection is the single row holding the API credential and the
// operator-editable provisioning settings blob. Settings are decoded into an
// immutable value at the start of every reconciliation pass.
type GumroadConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AccessToken       string     `gorm:"type:text" json:"-"`
	AccountLabel      string     `gorm:"size:255" json:"account_label"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	LastPassAt        *time.Time `json:"last_pass_at"`
	LastSuccessPassAt *time.Time `json:"last_success_pass_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetGumroadConnection returns the connection row, or (nil, nil) when none
// has been created yet.
func GetGumroadConnection(ctx context.Context, db *gorm.DB) (*GumroadConnection, error) {
	var conn GumroadConnection
	err := db.WithContext(ctx).Order("id").Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func SaveGumroadConnection(ctx context.Context, db *gorm.DB, conn *GumroadConnection) error {
	return db.WithContext(ctx).Save(conn).Error
}

func UpdateGumroadConnection(ctx context.Context, db *gorm.DB, id uint, updates map[string]interface{}) error {
	return db.WithContext(ctx).Model(&GumroadConnection{}).Where("id = ?", id).Updates(updates).Error
}

func DeleteGumroadConnection(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Where("1 = 1").Delete(&GumroadConnection{}).Error
}
