package gumsync

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Syncer runs one reconciliation pass: fetch recent sales, dispatch each
// event in feed order, summarize.
type Syncer struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Source   EventSource
	Identity IdentityStore
	Notifier Notifier
}

// PassStats aggregates one pass for the summary audit entry.
type PassStats struct {
	Total         int             `json:"total"`
	Provisioned   int             `json:"provisioned"`
	RolesUpdated  int             `json:"rolesUpdated"`
	Refunds       int             `json:"refunds"`
	Subscriptions int             `json:"subscriptions"`
	Skipped       int             `json:"skipped"`
	Errors        int             `json:"errors"`
	Revenue       decimal.Decimal `json:"revenue"`
}

// RunPass executes a single sequential reconciliation pass. A fetch failure
// aborts the whole pass without touching any state; per-event failures are
// logged and the batch continues.
func (s *Syncer) RunPass(ctx context.Context, settings Settings) (PassStats, error) {
	stats := PassStats{Revenue: decimal.Zero}

	sales, err := s.Source.FetchRecentSales(ctx, settings.SalesLimit)
	if err != nil {
		config.LogError(s.Logger, "gumsync", "RunPass", "sales fetch failed", nil, err)
		_ = appendAudit(ctx, s.DB, settings, models.AuditSyncError, map[string]interface{}{
			"error": err.Error(),
		})
		return stats, err
	}

	for _, sale := range sales {
		stats.Total++
		if err := s.dispatch(ctx, settings, sale, &stats); err != nil {
			stats.Errors++
			config.LogError(s.Logger, "gumsync", "RunPass", "sale processing failed", map[string]interface{}{"sale_id": sale.ID}, err)
			_ = appendAudit(ctx, s.DB, settings, models.AuditSaleError, map[string]interface{}{
				"sale_id": sale.ID,
				"email":   sale.Email,
				"error":   err.Error(),
			})
		}
	}

	_ = appendAudit(ctx, s.DB, settings, models.AuditSyncCompleted, stats)
	return stats, nil
}

// dispatch routes one sale: remediation triggers first, then the dedup and
// provisioning path. Remediation events never enter the ledger.
func (s *Syncer) dispatch(ctx context.Context, settings Settings, sale gumroad.Sale, stats *PassStats) error {
	if settings.HandleRefunds && sale.IsRefund() {
		applied, err := handleRefund(ctx, s.DB, s.Identity, settings, sale)
		if err != nil {
			return err
		}
		if applied {
			stats.Refunds++
		} else {
			stats.Skipped++
		}
		return nil
	}
	if settings.HandleSubscriptions && sale.IsSubscriptionTermination() {
		applied, err := handleSubscriptionEnd(ctx, s.DB, s.Identity, settings, sale)
		if err != nil {
			return err
		}
		if applied {
			stats.Subscriptions++
		} else {
			stats.Skipped++
		}
		return nil
	}

	decision, err := checkLedger(ctx, s.DB, s.Identity, sale.ID, utils.NormalizeEmail(sale.Email))
	if err != nil {
		return err
	}
	switch decision {
	case SkipDuplicate:
		stats.Skipped++
		return nil
	case Reprocess:
		_ = appendAudit(ctx, s.DB, settings, models.AuditSaleReprocessed, map[string]interface{}{
			"sale_id": sale.ID,
			"email":   sale.Email,
			"reason":  "account no longer exists",
		})
	}

	policy, err := ResolvePolicy(settings, sale.ProductId)
	if err != nil {
		if errors.Is(err, ErrPolicyDisabled) || errors.Is(err, ErrNoRolesConfigured) {
			stats.Skipped++
			return appendAudit(ctx, s.DB, settings, models.AuditSaleSkipped, map[string]interface{}{
				"sale_id": sale.ID,
				"product": sale.ProductName,
				"reason":  err.Error(),
			})
		}
		return err
	}

	outcome, err := provisionSale(ctx, s.DB, s.Identity, s.Notifier, settings, sale, policy)
	if err != nil {
		return err
	}
	switch outcome {
	case outcomeCreated:
		stats.Provisioned++
		stats.Revenue = stats.Revenue.Add(sale.PriceDecimal())
	case outcomeRolesUpdated:
		stats.RolesUpdated++
		stats.Revenue = stats.Revenue.Add(sale.PriceDecimal())
	}

	return models.RecordProcessedSale(ctx, s.DB, sale.ID)
}
