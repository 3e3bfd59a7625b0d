package gumsync_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/gumsync"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
)

// newAPIRouter mounts handlers against the harness database with an
// authenticated operator, the way the service wires them.
func newAPIRouter(t *testing.T, h *harness, authenticated bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.SetDB(h.db)
	t.Cleanup(func() { config.SetDB(nil) })

	r := gin.New()
	if authenticated {
		r.Use(func(c *gin.Context) {
			c.Request = c.Request.WithContext(utils.SetOperatorInContext(c.Request.Context(), "operator"))
			c.Next()
		})
	}
	r.POST("/purge", gumsync.PurgeHandler())
	return r
}

// seedPluginState provisions one account and stores a connection so every
// plugin-owned table has at least one row.
func seedPluginState(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()

	h.source.sales = []gumroad.Sale{mkSale("S1", "buyer@example.com", "P1")}
	if _, err := h.syncer.RunPass(ctx, testSettings()); err != nil {
		t.Fatalf("seed pass: %v", err)
	}

	conn := &models.GumroadConnection{
		Status:       models.ConnectionStatusConnected,
		AccessToken:  "tok",
		SettingsJSON: gumsync.EncodeSettings(testSettings()),
	}
	if err := models.SaveGumroadConnection(ctx, h.db, conn); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
}

func postJSON(r *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPurge_RejectsWrongConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedPluginState(t, h)
	r := newAPIRouter(t, h, true)

	for _, body := range []string{
		`{"confirm":"delete all gumroad data"}`, // wrong case
		`{"confirm":"DELETE"}`,
		`{}`,
		``,
	} {
		if w := postJSON(r, "/purge", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, w.Code)
		}
	}

	// Nothing was touched.
	rec, err := models.GetProvisionRecordByEmail(ctx, h.db, "buyer@example.com")
	if err != nil || rec == nil {
		t.Fatalf("provision record gone after rejected purge: %v, %v", rec, err)
	}
	seen, err := models.IsSaleProcessed(ctx, h.db, "S1")
	if err != nil || !seen {
		t.Fatalf("ledger entry gone after rejected purge: %v, %v", seen, err)
	}
	conn, err := models.GetGumroadConnection(ctx, h.db)
	if err != nil || conn == nil {
		t.Fatalf("connection gone after rejected purge: %v, %v", conn, err)
	}
	var audits int64
	if err := h.db.Model(&models.AuditLogEntry{}).Count(&audits).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if audits == 0 {
		t.Fatal("audit log emptied after rejected purge")
	}
}

func TestPurge_WipesPluginStateButKeepsAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedPluginState(t, h)
	r := newAPIRouter(t, h, true)

	w := postJSON(r, "/purge", `{"confirm":"DELETE ALL GUMROAD DATA"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	rec, err := models.GetProvisionRecordByEmail(ctx, h.db, "buyer@example.com")
	if err != nil || rec != nil {
		t.Fatalf("provision record survived purge: %v, %v", rec, err)
	}
	seen, err := models.IsSaleProcessed(ctx, h.db, "S1")
	if err != nil || seen {
		t.Fatalf("ledger entry survived purge: %v, %v", seen, err)
	}
	conn, err := models.GetGumroadConnection(ctx, h.db)
	if err != nil || conn != nil {
		t.Fatalf("connection survived purge: %v, %v", conn, err)
	}
	var audits int64
	if err := h.db.Model(&models.AuditLogEntry{}).Count(&audits).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if audits != 0 {
		t.Fatalf("audit entries = %d, want 0", audits)
	}

	// The member account itself is not plugin-owned.
	acc, err := h.identity.LookupByEmail(ctx, "buyer@example.com")
	if err != nil || acc == nil {
		t.Fatalf("member account must survive a purge: %v, %v", acc, err)
	}
}

func TestPurge_RequiresOperator(t *testing.T) {
	h := newHarness(t)
	seedPluginState(t, h)
	r := newAPIRouter(t, h, false)

	if w := postJSON(r, "/purge", `{"confirm":"DELETE ALL GUMROAD DATA"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
