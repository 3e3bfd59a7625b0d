package gumsync

import (
	"context"

	"github.com/sinanisler/gumroad-api/models"
	"gorm.io/gorm"
)

type ledgerDecision int

const (
	// ProcessNew means the sale has never been seen.
	ProcessNew ledgerDecision = iota
	// SkipDuplicate means the sale was processed and its account still exists.
	SkipDuplicate
	// Reprocess means the sale was processed but the provisioned account has
	// since disappeared, so the ledger entry was evicted.
	Reprocess
)

// checkLedger decides whether a sale should be processed, skipped, or
// reprocessed after drift. Reprocessing forgets the stale ledger entry so
// the normal provisioning path runs again.
func checkLedger(ctx context.Context, db *gorm.DB, identity IdentityStore, saleId string, email string) (ledgerDecision, error) {
	processed, err := models.IsSaleProcessed(ctx, db, saleId)
	if err != nil {
		return ProcessNew, err
	}
	if !processed {
		return ProcessNew, nil
	}

	rec, err := models.FindProvisionRecordForSale(ctx, db, saleId)
	if err != nil {
		return SkipDuplicate, err
	}
	if rec != nil {
		acc, err := identity.LookupByEmail(ctx, rec.Email)
		if err != nil {
			return SkipDuplicate, err
		}
		if acc != nil {
			return SkipDuplicate, nil
		}
	} else if email != "" {
		// No provision record survived; fall back to the sale's own email.
		acc, err := identity.LookupByEmail(ctx, email)
		if err != nil {
			return SkipDuplicate, err
		}
		if acc != nil {
			return SkipDuplicate, nil
		}
	}

	if err := models.ForgetProcessedSale(ctx, db, saleId); err != nil {
		return SkipDuplicate, err
	}
	return Reprocess, nil
}
