package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// ProvisionRecord carries the Gumroad-origin metadata for one provisioned
// account: which sale created it, which roles this system granted, and the
// chronological purchase history. The account row itself is owned by the
// identity store; this record is the plugin-owned sidecar.
type ProvisionRecord struct {
	ID                  uint       `gorm:"primary_key" json:"id"`
	AccountId           uint       `gorm:"uniqueIndex;not null" json:"account_id"`
	Email               string     `gorm:"size:100;index;not null" json:"email"`
	OriginSaleId        string     `gorm:"size:128;index" json:"origin_sale_id"`
	OriginProductId     string     `gorm:"size:128" json:"origin_product_id"`
	OriginProductName   string     `gorm:"size:255" json:"origin_product_name"`
	AssignedRolesJSON   []byte     `gorm:"type:json" json:"assigned_roles"`
	PurchaseHistoryJSON []byte     `gorm:"type:json" json:"purchase_history"`
	RawPayloadJSON      []byte     `gorm:"type:json" json:"raw_payload"`
	WelcomeSent         *bool      `json:"welcome_sent"`
	WelcomeSentAt       *time.Time `json:"welcome_sent_at"`
	Refunded            bool       `gorm:"default:false" json:"refunded"`
	RefundedAt          *time.Time `json:"refunded_at"`
	SubscriptionId      string     `gorm:"size:128" json:"subscription_id"`
	SubscriptionStatus  string     `gorm:"size:20" json:"subscription_status"`
	SubscriptionEndedAt *time.Time `json:"subscription_ended_at"`
	LastSaleId          string     `gorm:"size:128;index" json:"last_sale_id"`
	LastProductId       string     `gorm:"size:128" json:"last_product_id"`
	LastProductName     string     `gorm:"size:255" json:"last_product_name"`
	LastPurchaseAt      *time.Time `json:"last_purchase_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseHistoryEntry is one element of the ordered purchase history.
type PurchaseHistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	ProductId   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	SaleId      string    `json:"sale_id"`
	Price       string    `json:"price,omitempty"`
	RolesAdded  []string  `json:"roles_added"`
}

func (r *ProvisionRecord) AssignedRoles() []string {
	if len(r.AssignedRolesJSON) == 0 {
		return nil
	}
	var roles []string
	if err := json.Unmarshal(r.AssignedRolesJSON, &roles); err != nil {
		return nil
	}
	return roles
}

func (r *ProvisionRecord) SetAssignedRoles(roles []string) {
	b, _ := json.Marshal(roles)
	r.AssignedRolesJSON = b
}

func (r *ProvisionRecord) PurchaseHistory() []PurchaseHistoryEntry {
	if len(r.PurchaseHistoryJSON) == 0 {
		return nil
	}
	var history []PurchaseHistoryEntry
	if err := json.Unmarshal(r.PurchaseHistoryJSON, &history); err != nil {
		return nil
	}
	return history
}

func (r *ProvisionRecord) AppendPurchase(entry PurchaseHistoryEntry) {
	history := append(r.PurchaseHistory(), entry)
	b, _ := json.Marshal(history)
	r.PurchaseHistoryJSON = b
}

func GetProvisionRecordByEmail(ctx context.Context, db *gorm.DB, email string) (*ProvisionRecord, error) {
	var rec ProvisionRecord
	err := db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func GetProvisionRecordByAccountId(ctx context.Context, db *gorm.DB, accountId uint) (*ProvisionRecord, error) {
	var rec ProvisionRecord
	err := db.WithContext(ctx).Where("account_id = ?", accountId).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// FindProvisionRecordForSale locates the record whose account the given sale
// contributed to: either the origin sale or any later purchase recorded in
// the history.
func FindProvisionRecordForSale(ctx context.Context, db *gorm.DB, saleId string) (*ProvisionRecord, error) {
	var rec ProvisionRecord
	pattern := `%"sale_id":"` + saleId + `"%`
	err := db.WithContext(ctx).
		Where("origin_sale_id = ? OR last_sale_id = ? OR purchase_history_json LIKE ?", saleId, saleId, pattern).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func GetProvisionRecordBySubscriptionId(ctx context.Context, db *gorm.DB, subscriptionId string) (*ProvisionRecord, error) {
	var rec ProvisionRecord
	err := db.WithContext(ctx).Where("subscription_id = ?", subscriptionId).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func CreateProvisionRecord(ctx context.Context, db *gorm.DB, rec *ProvisionRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

func SaveProvisionRecord(ctx context.Context, db *gorm.DB, rec *ProvisionRecord) error {
	return db.WithContext(ctx).Save(rec).Error
}

func DeleteProvisionRecordByAccountId(ctx context.Context, db *gorm.DB, accountId uint) error {
	return db.WithContext(ctx).Where("account_id = ?", accountId).Delete(&ProvisionRecord{}).Error
}

func DeleteAllProvisionRecords(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Where("1 = 1").Delete(&ProvisionRecord{}).Error
}

// ProvisionRecordFilter narrows the provisioned-accounts listing. String
// fields are substring matches.
type ProvisionRecordFilter struct {
	Email    string
	Product  string
	SaleId   string
	Role     string
	DateFrom *time.Time
	DateTo   *time.Time
}

func ListProvisionRecords(ctx context.Context, db *gorm.DB, filter ProvisionRecordFilter, page int, perPage int) ([]ProvisionRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	q := db.WithContext(ctx).Model(&ProvisionRecord{})
	if filter.Email != "" {
		q = q.Where("email LIKE ?", "%"+filter.Email+"%")
	}
	if filter.Product != "" {
		like := "%" + filter.Product + "%"
		q = q.Where("origin_product_id LIKE ? OR origin_product_name LIKE ? OR last_product_id LIKE ? OR last_product_name LIKE ?",
			like, like, like, like)
	}
	if filter.SaleId != "" {
		like := "%" + filter.SaleId + "%"
		q = q.Where("origin_sale_id LIKE ? OR last_sale_id LIKE ?", like, like)
	}
	if filter.Role != "" {
		q = q.Where("assigned_roles_json LIKE ?", `%"`+filter.Role+`"%`)
	}
	if filter.DateFrom != nil {
		q = q.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("created_at <= ?", *filter.DateTo)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []ProvisionRecord
	err := q.Order("id desc").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
