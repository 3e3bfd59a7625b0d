package models

import "gorm.io/gorm"

// MigrateTable runs AutoMigrate for every table this service owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&MemberAccount{},
		&GumroadConnection{},
		&ProvisionRecord{},
		&ProcessedSale{},
		&AuditLogEntry{},
	)
}
