package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sinanisler/gumroad-api/utils"
	"gorm.io/gorm"
)

// MemberAccount is the local identity-store entity. Roles are an ordered
// list; the first entry is the primary role.
type MemberAccount struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Email     string    `gorm:"size:100;not null;unique" json:"email"`
	Name      string    `gorm:"size:100" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	RolesJSON []byte    `gorm:"type:json" json:"roles"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMemberAccount struct {
	Username string
	Email    string
	Name     string
	Password string // already hashed by the caller
	Roles    []string
}

func (a *MemberAccount) Roles() []string {
	if len(a.RolesJSON) == 0 {
		return nil
	}
	var roles []string
	if err := json.Unmarshal(a.RolesJSON, &roles); err != nil {
		return nil
	}
	return roles
}

func (a *MemberAccount) setRoles(roles []string) {
	b, _ := json.Marshal(roles)
	a.RolesJSON = b
}

func (a *MemberAccount) HasRole(role string) bool {
	for _, r := range a.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

func GetMemberAccountByEmail(ctx context.Context, db *gorm.DB, email string) (*MemberAccount, error) {
	var account MemberAccount
	err := db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func GetMemberAccountByUsername(ctx context.Context, db *gorm.DB, username string) (*MemberAccount, error) {
	var account MemberAccount
	err := db.WithContext(ctx).Where("username = ?", username).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func GetMemberAccountByID(ctx context.Context, db *gorm.DB, id uint) (*MemberAccount, error) {
	var account MemberAccount
	err := db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func CreateMemberAccount(ctx context.Context, db *gorm.DB, input *NewMemberAccount) (*MemberAccount, error) {
	account := MemberAccount{
		Username: input.Username,
		Email:    input.Email,
		Name:     input.Name,
		Password: input.Password,
		IsActive: utils.NewTrue(),
	}
	account.setRoles(input.Roles)
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// SetMemberAccountPrimaryRole moves role to the front of the list, inserting
// it when absent.
func SetMemberAccountPrimaryRole(ctx context.Context, db *gorm.DB, id uint, role string) error {
	return mutateMemberAccountRoles(ctx, db, id, func(roles []string) []string {
		out := []string{role}
		for _, r := range roles {
			if r != role {
				out = append(out, r)
			}
		}
		return out
	})
}

// AddMemberAccountRole appends role when not already present.
func AddMemberAccountRole(ctx context.Context, db *gorm.DB, id uint, role string) error {
	return mutateMemberAccountRoles(ctx, db, id, func(roles []string) []string {
		for _, r := range roles {
			if r == role {
				return roles
			}
		}
		return append(roles, role)
	})
}

// RemoveMemberAccountRole removes role; removing an absent role is a no-op.
func RemoveMemberAccountRole(ctx context.Context, db *gorm.DB, id uint, role string) error {
	return mutateMemberAccountRoles(ctx, db, id, func(roles []string) []string {
		out := roles[:0]
		for _, r := range roles {
			if r != role {
				out = append(out, r)
			}
		}
		return out
	})
}

func mutateMemberAccountRoles(ctx context.Context, db *gorm.DB, id uint, fn func([]string) []string) error {
	account, err := GetMemberAccountByID(ctx, db, id)
	if err != nil {
		return err
	}
	if account == nil {
		return utils.ErrorRecordNotFound
	}
	account.setRoles(fn(account.Roles()))
	return db.WithContext(ctx).Model(&MemberAccount{}).
		Where("id = ?", id).
		Update("roles_json", account.RolesJSON).Error
}

// DeleteMemberAccount removes the account row. Deleting an already-deleted
// account is treated as success.
func DeleteMemberAccount(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&MemberAccount{}).Error
}
