package gumsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/gumsync"
	"github.com/sinanisler/gumroad-api/models"
)

func TestRunPass_CreatesAccountAndWelcomeMail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.sales = []gumroad.Sale{mkSale("S1", "buyer@example.com", "P1")}

	stats, err := h.syncer.RunPass(ctx, testSettings())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Provisioned != 1 || stats.Total != 1 {
		t.Fatalf("stats = %+v, want 1 provisioned of 1", stats)
	}

	acc, err := h.identity.LookupByEmail(ctx, "buyer@example.com")
	if err != nil || acc == nil {
		t.Fatalf("account lookup: %v, %v", acc, err)
	}
	if acc.Username != "buyer@example.com" {
		t.Fatalf("username = %q, want full email", acc.Username)
	}
	if len(acc.Roles) != 2 || acc.Roles[0] != "member" {
		t.Fatalf("roles = %v, want member first", acc.Roles)
	}

	if len(h.notifier.calls) != 1 {
		t.Fatalf("welcome mails = %d, want 1", len(h.notifier.calls))
	}
	if h.notifier.calls[0].Password == "" {
		t.Fatal("welcome mail carries no credential")
	}

	rec, err := models.GetProvisionRecordByEmail(ctx, h.db, "buyer@example.com")
	if err != nil || rec == nil {
		t.Fatalf("provision record: %v, %v", rec, err)
	}
	if rec.OriginSaleId != "S1" {
		t.Fatalf("origin sale = %q", rec.OriginSaleId)
	}
	if rec.WelcomeSent == nil || !*rec.WelcomeSent {
		t.Fatal("welcome send not recorded")
	}
	if got := len(rec.PurchaseHistory()); got != 1 {
		t.Fatalf("history entries = %d, want 1", got)
	}
	if auditCount(t, h.db, models.AuditUserCreated) != 1 {
		t.Fatal("expected one user-created audit entry")
	}
}

func TestRunPass_IdempotentRefetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.sales = []gumroad.Sale{mkSale("S1", "buyer@example.com", "P1")}
	settings := testSettings()

	if _, err := h.syncer.RunPass(ctx, settings); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	stats, err := h.syncer.RunPass(ctx, settings)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Provisioned != 0 || stats.Skipped != 1 {
		t.Fatalf("second pass stats = %+v, want skip", stats)
	}

	var accounts int64
	if err := h.db.Model(&models.MemberAccount{}).Count(&accounts).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if accounts != 1 {
		t.Fatalf("accounts = %d, want exactly 1", accounts)
	}
	if auditCount(t, h.db, models.AuditUserCreated) != 1 {
		t.Fatal("user-created audit entry duplicated")
	}
	if len(h.notifier.calls) != 1 {
		t.Fatalf("welcome mails = %d, want exactly 1", len(h.notifier.calls))
	}
}

func TestRunPass_DriftRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.sales = []gumroad.Sale{mkSale("S123", "drift@example.com", "P1")}
	settings := testSettings()

	if _, err := h.syncer.RunPass(ctx, settings); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// Simulate an operator deleting the account out from under the ledger.
	acc, _ := h.identity.LookupByEmail(ctx, "drift@example.com")
	if err := h.identity.DeleteAccount(ctx, acc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := models.DeleteProvisionRecordByAccountId(ctx, h.db, acc.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	stats, err := h.syncer.RunPass(ctx, settings)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Provisioned != 1 {
		t.Fatalf("stats = %+v, want one reprovision", stats)
	}
	if auditCount(t, h.db, models.AuditSaleReprocessed) != 1 {
		t.Fatal("expected a re-processed audit entry")
	}
	fresh, err := h.identity.LookupByEmail(ctx, "drift@example.com")
	if err != nil || fresh == nil {
		t.Fatalf("recreated account missing: %v", err)
	}
}

func TestRunPass_PolicyGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	settings := testSettings()
	settings.ProductRoles["P2"] = gumsync.ProductPolicy{AutoProvision: false, Roles: []string{"member"}}

	h.source.sales = []gumroad.Sale{
		mkSale("S1", "one@example.com", "P2"),      // configured but disabled
		mkSale("S2", "two@example.com", "UNKNOWN"), // not configured at all
	}

	stats, err := h.syncer.RunPass(ctx, settings)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Provisioned != 0 || stats.Skipped != 2 {
		t.Fatalf("stats = %+v, want 2 skipped", stats)
	}
	var accounts int64
	if err := h.db.Model(&models.MemberAccount{}).Count(&accounts).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if accounts != 0 {
		t.Fatal("gated products must never create accounts")
	}
	if auditCount(t, h.db, models.AuditSaleSkipped) != 2 {
		t.Fatal("expected skip audit entries")
	}
}

func TestRunPass_InvalidEmailIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.sales = []gumroad.Sale{
		mkSale("S1", "not-an-email", "P1"),
		mkSale("S2", "good@example.com", "P1"),
	}

	stats, err := h.syncer.RunPass(ctx, testSettings())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Errors != 1 || stats.Provisioned != 1 {
		t.Fatalf("stats = %+v, want one error and one provision", stats)
	}
	if auditCount(t, h.db, models.AuditSaleError) != 1 {
		t.Fatal("expected a sale-error audit entry")
	}
}

func TestRunPass_FetchFailureIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.err = errors.New("upstream 500")

	stats, err := h.syncer.RunPass(ctx, testSettings())
	if err == nil {
		t.Fatal("expected error")
	}
	if stats.Total != 0 {
		t.Fatalf("stats = %+v, want empty", stats)
	}
	if auditCount(t, h.db, models.AuditSyncError) != 1 {
		t.Fatal("expected a sync-error audit entry")
	}
	var ledger int64
	if err := h.db.Model(&models.ProcessedSale{}).Count(&ledger).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if ledger != 0 {
		t.Fatal("fetch failure must not touch the ledger")
	}
}

func TestRunPass_SummaryEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.sales = []gumroad.Sale{mkSale("S1", "buyer@example.com", "P1")}

	if _, err := h.syncer.RunPass(ctx, testSettings()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if auditCount(t, h.db, models.AuditSyncCompleted) != 1 {
		t.Fatal("expected exactly one summary entry per pass")
	}
}
