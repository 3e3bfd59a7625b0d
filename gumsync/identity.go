package gumsync

import (
	"context"
	"errors"

	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
	"gorm.io/gorm"
)

// GormIdentityStore backs the IdentityStore contract with the member_accounts
// table.
type GormIdentityStore struct {
	DB *gorm.DB
}

func NewGormIdentityStore(db *gorm.DB) *GormIdentityStore {
	return &GormIdentityStore{DB: db}
}

func (s *GormIdentityStore) LookupByEmail(ctx context.Context, email string) (*Account, error) {
	acc, err := models.GetMemberAccountByEmail(ctx, s.DB, email)
	if err != nil {
		return nil, err
	}
	return toAccount(acc), nil
}

func (s *GormIdentityStore) LookupByUsername(ctx context.Context, username string) (*Account, error) {
	acc, err := models.GetMemberAccountByUsername(ctx, s.DB, username)
	if err != nil {
		return nil, err
	}
	return toAccount(acc), nil
}

func (s *GormIdentityStore) CreateAccount(ctx context.Context, input NewAccount) (*Account, error) {
	acc, err := models.CreateMemberAccount(ctx, s.DB, &models.NewMemberAccount{
		Username: input.Username,
		Email:    input.Email,
		Name:     input.Name,
		Password: input.Password,
		Roles:    input.Roles,
	})
	if err != nil {
		return nil, err
	}
	return toAccount(acc), nil
}

func (s *GormIdentityStore) SetPrimaryRole(ctx context.Context, accountId uint, role string) error {
	return translateNotFound(models.SetMemberAccountPrimaryRole(ctx, s.DB, accountId, role))
}

func (s *GormIdentityStore) AddRole(ctx context.Context, accountId uint, role string) error {
	return translateNotFound(models.AddMemberAccountRole(ctx, s.DB, accountId, role))
}

func (s *GormIdentityStore) RemoveRole(ctx context.Context, accountId uint, role string) error {
	return translateNotFound(models.RemoveMemberAccountRole(ctx, s.DB, accountId, role))
}

func (s *GormIdentityStore) DeleteAccount(ctx context.Context, accountId uint) error {
	return models.DeleteMemberAccount(ctx, s.DB, accountId)
}

func translateNotFound(err error) error {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return ErrAccountNotFound
	}
	return err
}

func toAccount(acc *models.MemberAccount) *Account {
	if acc == nil {
		return nil
	}
	return &Account{
		ID:       acc.ID,
		Username: acc.Username,
		Email:    acc.Email,
		Roles:    acc.Roles(),
	}
}
