package gumsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
	"gorm.io/gorm"
)

type provisionOutcome int

const (
	outcomeCreated provisionOutcome = iota
	outcomeRolesUpdated
	outcomeNoop
)

// provisionSale ensures the buyer has a local account carrying the policy's
// roles. New buyers get a fresh account plus welcome mail; returning buyers
// get any missing roles added without touching what they already have.
func provisionSale(ctx context.Context, db *gorm.DB, identity IdentityStore, notifier Notifier, settings Settings, sale gumroad.Sale, policy Policy) (provisionOutcome, error) {
	email := utils.NormalizeEmail(sale.Email)
	if !utils.IsValidEmail(email) {
		return outcomeNoop, ErrInvalidEmail
	}

	account, err := identity.LookupByEmail(ctx, email)
	if err != nil {
		return outcomeNoop, err
	}
	if account == nil {
		return createAccountForSale(ctx, db, identity, notifier, settings, sale, email, policy.Roles)
	}
	return convergeRoles(ctx, db, identity, settings, sale, account, policy.Roles)
}

func createAccountForSale(ctx context.Context, db *gorm.DB, identity IdentityStore, notifier Notifier, settings Settings, sale gumroad.Sale, email string, roles []string) (provisionOutcome, error) {
	username, err := pickUsername(ctx, identity, email)
	if err != nil {
		return outcomeNoop, err
	}

	password, err := utils.GeneratePassword(0)
	if err != nil {
		return outcomeNoop, err
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return outcomeNoop, err
	}

	account, err := identity.CreateAccount(ctx, NewAccount{
		Username: username,
		Email:    email,
		Name:     utils.DisplayNameFromEmail(email),
		Password: string(hashed),
		Roles:    roles,
	})
	if err != nil {
		return outcomeNoop, err
	}

	purchasedAt := parseTimeOrNow(sale.CreatedAt)
	rec := &models.ProvisionRecord{
		AccountId:         account.ID,
		Email:             email,
		OriginSaleId:      sale.ID,
		OriginProductId:   sale.ProductId,
		OriginProductName: sale.ProductName,
		RawPayloadJSON:    sale.Raw,
		LastSaleId:        sale.ID,
		LastProductId:     sale.ProductId,
		LastProductName:   sale.ProductName,
		LastPurchaseAt:    &purchasedAt,
	}
	if sale.SubscriptionId != "" {
		rec.SubscriptionId = sale.SubscriptionId
		rec.SubscriptionStatus = models.SubscriptionStatusActive
	}
	rec.SetAssignedRoles(roles)
	rec.AppendPurchase(models.PurchaseHistoryEntry{
		Timestamp:   purchasedAt,
		ProductId:   sale.ProductId,
		ProductName: sale.ProductName,
		SaleId:      sale.ID,
		Price:       priceString(sale),
		RolesAdded:  roles,
	})

	if settings.SendWelcomeEmail && notifier != nil {
		sent := notifier.SendWelcome(ctx, WelcomeMail{
			To:          email,
			Username:    username,
			Password:    password,
			ProductName: sale.ProductName,
			Subject:     settings.EmailSubject,
			Template:    settings.EmailTemplate,
		})
		// The attempt is recorded whether or not the mail went out.
		now := time.Now()
		rec.WelcomeSent = utils.NewFalse()
		if sent {
			rec.WelcomeSent = utils.NewTrue()
		}
		rec.WelcomeSentAt = &now
	}

	if err := models.CreateProvisionRecord(ctx, db, rec); err != nil {
		return outcomeNoop, err
	}

	_ = appendAudit(ctx, db, settings, models.AuditUserCreated, map[string]interface{}{
		"sale_id":  sale.ID,
		"email":    email,
		"username": username,
		"product":  sale.ProductName,
		"roles":    roles,
	})
	return outcomeCreated, nil
}

func convergeRoles(ctx context.Context, db *gorm.DB, identity IdentityStore, settings Settings, sale gumroad.Sale, account *Account, roles []string) (provisionOutcome, error) {
	have := map[string]bool{}
	for _, r := range account.Roles {
		have[r] = true
	}
	var missing []string
	for _, r := range roles {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		return outcomeNoop, nil
	}

	for _, r := range missing {
		if err := identity.AddRole(ctx, account.ID, r); err != nil {
			return outcomeNoop, err
		}
	}

	purchasedAt := parseTimeOrNow(sale.CreatedAt)
	rec, err := models.GetProvisionRecordByAccountId(ctx, db, account.ID)
	if err != nil {
		return outcomeNoop, err
	}
	if rec == nil {
		// Account existed before any tracked sale; start a record at this one.
		rec = &models.ProvisionRecord{
			AccountId:         account.ID,
			Email:             account.Email,
			OriginSaleId:      sale.ID,
			OriginProductId:   sale.ProductId,
			OriginProductName: sale.ProductName,
			RawPayloadJSON:    sale.Raw,
		}
	}
	rec.SetAssignedRoles(mergeRoles(rec.AssignedRoles(), missing))
	rec.AppendPurchase(models.PurchaseHistoryEntry{
		Timestamp:   purchasedAt,
		ProductId:   sale.ProductId,
		ProductName: sale.ProductName,
		SaleId:      sale.ID,
		Price:       priceString(sale),
		RolesAdded:  missing,
	})
	rec.LastSaleId = sale.ID
	rec.LastProductId = sale.ProductId
	rec.LastProductName = sale.ProductName
	rec.LastPurchaseAt = &purchasedAt
	if sale.SubscriptionId != "" {
		rec.SubscriptionId = sale.SubscriptionId
		rec.SubscriptionStatus = models.SubscriptionStatusActive
		rec.SubscriptionEndedAt = nil
	}
	if err := models.SaveProvisionRecord(ctx, db, rec); err != nil {
		return outcomeNoop, err
	}

	_ = appendAudit(ctx, db, settings, models.AuditRolesUpdated, map[string]interface{}{
		"sale_id":     sale.ID,
		"email":       account.Email,
		"username":    account.Username,
		"product":     sale.ProductName,
		"roles_added": missing,
	})
	return outcomeRolesUpdated, nil
}

// pickUsername uses the full purchase email, falling back to a numeric
// suffix when another account already holds it.
func pickUsername(ctx context.Context, identity IdentityStore, email string) (string, error) {
	existing, err := identity.LookupByUsername(ctx, email)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return email, nil
	}
	for i := 1; i <= 100; i++ {
		candidate := fmt.Sprintf("%s%d", email, i)
		existing, err := identity.LookupByUsername(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", errors.New("could not find a free username for " + email)
}

func mergeRoles(existing []string, added []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(existing)+len(added))
	for _, r := range append(append([]string{}, existing...), added...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func priceString(sale gumroad.Sale) string {
	d := sale.PriceDecimal()
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}

func parseTimeOrNow(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Now()
}

func appendAudit(ctx context.Context, db *gorm.DB, settings Settings, entryType string, payload interface{}) error {
	return models.AppendAuditLog(ctx, db, entryType, payload, settings.LogLimit, settings.LogRotationDays)
}
