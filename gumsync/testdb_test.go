package gumsync_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/gumsync"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSource struct {
	sales []gumroad.Sale
	err   error
}

func (f *fakeSource) FetchRecentSales(ctx context.Context, limit int) ([]gumroad.Sale, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.sales) > limit {
		return f.sales[:limit], nil
	}
	return f.sales, nil
}

type fakeNotifier struct {
	calls []gumsync.WelcomeMail
	ok    bool
}

func (f *fakeNotifier) SendWelcome(ctx context.Context, mail gumsync.WelcomeMail) bool {
	f.calls = append(f.calls, mail)
	return f.ok
}

type harness struct {
	db       *gorm.DB
	syncer   *gumsync.Syncer
	source   *fakeSource
	notifier *fakeNotifier
	identity gumsync.IdentityStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	source := &fakeSource{}
	notifier := &fakeNotifier{ok: true}
	identity := gumsync.NewGormIdentityStore(db)
	return &harness{
		db:       db,
		source:   source,
		notifier: notifier,
		identity: identity,
		syncer: &gumsync.Syncer{
			DB:       db,
			Logger:   log,
			Source:   source,
			Identity: identity,
			Notifier: notifier,
		},
	}
}

// testSettings configures product P1 to auto-provision the member role.
func testSettings() gumsync.Settings {
	s := gumsync.DefaultSettings()
	s.ProductRoles = map[string]gumsync.ProductPolicy{
		"P1": {AutoProvision: true, Roles: []string{"member", "downloads"}},
	}
	return s
}

func mkSale(id string, email string, productId string) gumroad.Sale {
	s := gumroad.Sale{
		ID:          id,
		Email:       email,
		ProductId:   productId,
		ProductName: "Product " + productId,
		Price:       json.Number("1500"),
		CreatedAt:   "2026-08-01T10:00:00Z",
	}
	raw, _ := json.Marshal(map[string]string{"id": id, "email": email})
	s.Raw = raw
	return s
}

func auditCount(t *testing.T, db *gorm.DB, entryType string) int64 {
	t.Helper()
	count, err := models.CountAuditLogByType(context.Background(), db, entryType)
	if err != nil {
		t.Fatalf("count audit %q: %v", entryType, err)
	}
	return count
}
