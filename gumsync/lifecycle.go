package gumsync

import (
	"context"
	"errors"
	"time"

	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
	"gorm.io/gorm"
)

// handleRefund applies the configured refund action to the account the sale
// provisioned. Remediation is never deduplicated; it runs every time the
// flag appears, but a record already stamped refunded is skipped. The bool
// reports whether the action was actually applied.
func handleRefund(ctx context.Context, db *gorm.DB, identity IdentityStore, settings Settings, sale gumroad.Sale) (bool, error) {
	rec, err := models.FindProvisionRecordForSale(ctx, db, sale.ID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		if email := utils.NormalizeEmail(sale.Email); utils.IsValidEmail(email) {
			rec, err = models.GetProvisionRecordByEmail(ctx, db, email)
			if err != nil {
				return false, err
			}
		}
	}
	if rec == nil {
		return false, appendAudit(ctx, db, settings, models.AuditRefundSkipped, map[string]interface{}{
			"sale_id": sale.ID,
			"email":   sale.Email,
			"reason":  "no provisioned account for this sale",
		})
	}
	if rec.Refunded {
		return false, appendAudit(ctx, db, settings, models.AuditRefundSkipped, map[string]interface{}{
			"sale_id": sale.ID,
			"email":   rec.Email,
			"reason":  "refund already processed",
		})
	}

	detail, err := applyRemediation(ctx, db, identity, settings, settings.RefundAction, rec)
	if err != nil {
		return false, err
	}

	if settings.RefundAction != ActionDeleteAccount {
		now := time.Now()
		rec.Refunded = true
		rec.RefundedAt = &now
		if err := models.SaveProvisionRecord(ctx, db, rec); err != nil {
			return false, err
		}
	}

	return true, appendAudit(ctx, db, settings, models.AuditRefundProcessed, map[string]interface{}{
		"sale_id": sale.ID,
		"email":   rec.Email,
		"action":  settings.RefundAction,
		"detail":  detail,
	})
}

// handleSubscriptionEnd applies the cancellation action when a subscription
// sale arrives cancelled or ended. The bool reports whether the action was
// actually applied.
func handleSubscriptionEnd(ctx context.Context, db *gorm.DB, identity IdentityStore, settings Settings, sale gumroad.Sale) (bool, error) {
	rec, err := models.GetProvisionRecordBySubscriptionId(ctx, db, sale.SubscriptionId)
	if err != nil {
		return false, err
	}
	if rec == nil {
		rec, err = models.FindProvisionRecordForSale(ctx, db, sale.ID)
		if err != nil {
			return false, err
		}
	}
	if rec == nil {
		return false, appendAudit(ctx, db, settings, models.AuditSubscriptionSkip, map[string]interface{}{
			"sale_id":         sale.ID,
			"subscription_id": sale.SubscriptionId,
			"reason":          "no provisioned account for this subscription",
		})
	}
	if rec.SubscriptionStatus == models.SubscriptionStatusCancelled {
		return false, appendAudit(ctx, db, settings, models.AuditSubscriptionSkip, map[string]interface{}{
			"sale_id":         sale.ID,
			"subscription_id": sale.SubscriptionId,
			"email":           rec.Email,
			"reason":          "cancellation already processed",
		})
	}

	detail, err := applyRemediation(ctx, db, identity, settings, settings.SubscriptionCancellationAction, rec)
	if err != nil {
		return false, err
	}

	if settings.SubscriptionCancellationAction != ActionDeleteAccount {
		now := time.Now()
		rec.SubscriptionStatus = models.SubscriptionStatusCancelled
		rec.SubscriptionEndedAt = &now
		if err := models.SaveProvisionRecord(ctx, db, rec); err != nil {
			return false, err
		}
	}

	return true, appendAudit(ctx, db, settings, models.AuditSubscriptionEnd, map[string]interface{}{
		"sale_id":         sale.ID,
		"subscription_id": sale.SubscriptionId,
		"email":           rec.Email,
		"action":          settings.SubscriptionCancellationAction,
		"detail":          detail,
	})
}

// applyRemediation removes what this system granted. remove_roles strips only
// the roles recorded as assigned; delete_account drops the account and its
// record. An account that already disappeared is reported, not failed.
func applyRemediation(ctx context.Context, db *gorm.DB, identity IdentityStore, settings Settings, action string, rec *models.ProvisionRecord) (string, error) {
	account, err := identity.LookupByEmail(ctx, rec.Email)
	if err != nil {
		return "", err
	}
	if account == nil {
		_ = appendAudit(ctx, db, settings, models.AuditWarning, map[string]interface{}{
			"email":  rec.Email,
			"reason": "account no longer exists",
		})
		return "account no longer exists", nil
	}

	if action == ActionDeleteAccount {
		if err := identity.DeleteAccount(ctx, account.ID); err != nil {
			return "", err
		}
		if err := models.DeleteProvisionRecordByAccountId(ctx, db, account.ID); err != nil {
			return "", err
		}
		return "account deleted", nil
	}

	assigned := rec.AssignedRoles()
	if len(assigned) == 0 {
		_ = appendAudit(ctx, db, settings, models.AuditWarning, map[string]interface{}{
			"email":  rec.Email,
			"reason": "no assigned roles recorded, nothing removed",
		})
		return "no roles removed", nil
	}
	for _, role := range assigned {
		if err := identity.RemoveRole(ctx, account.ID, role); err != nil {
			// Account vanished between lookup and removal.
			if errors.Is(err, ErrAccountNotFound) {
				_ = appendAudit(ctx, db, settings, models.AuditWarning, map[string]interface{}{
					"email":  rec.Email,
					"reason": "account no longer exists",
				})
				return "account no longer exists", nil
			}
			return "", err
		}
	}
	rec.SetAssignedRoles(nil)
	return "roles removed", nil
}
