package gumsync

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
	"github.com/xuri/excelize/v2"
)

// PurgeConfirmation is the exact confirmation string required to wipe all
// plugin-owned state.
const PurgeConfirmation = "DELETE ALL GUMROAD DATA"

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		db := config.GetDB()

		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Status:   models.ConnectionStatusDisconnected,
				Settings: DefaultSettings(),
			})
			return
		}

		c.JSON(http.StatusOK, StatusResponse{
			Status:            conn.Status,
			AccountLabel:      conn.AccountLabel,
			LastPassAt:        formatTime(conn.LastPassAt),
			LastSuccessPassAt: formatTime(conn.LastSuccessPassAt),
			Settings:          DecodeSettings(conn.SettingsJSON),
		})
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		token := strings.TrimSpace(req.AccessToken)
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accessToken is required"})
			return
		}

		client, err := gumroad.NewClient(token)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		label, err := client.VerifyToken(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "token verification failed: " + err.Error()})
			return
		}

		db := config.GetDB()
		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if conn == nil {
			conn = &models.GumroadConnection{
				Status:       models.ConnectionStatusConnected,
				AccessToken:  token,
				AccountLabel: label,
				SettingsJSON: EncodeSettings(DefaultSettings()),
			}
			if err := models.SaveGumroadConnection(c.Request.Context(), db, conn); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":        models.ConnectionStatusConnected,
				"access_token":  token,
				"account_label": label,
				"updated_at":    time.Now(),
			}
			if len(conn.SettingsJSON) == 0 {
				update["settings_json"] = EncodeSettings(DefaultSettings())
			}
			if err := models.UpdateGumroadConnection(c.Request.Context(), db, conn.ID, update); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		_ = config.RemoveRedisKey(productCacheKey)
		c.JSON(http.StatusOK, gin.H{"success": true, "accountLabel": label})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		db := config.GetDB()

		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := models.UpdateGumroadConnection(c.Request.Context(), db, conn.ID, map[string]interface{}{
			"status":       models.ConnectionStatusDisconnected,
			"access_token": "",
			"updated_at":   time.Now(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(productCacheKey)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TestConnectionHandler re-verifies the stored token against the API.
func TestConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		conn, client, ok := requireConnectedClient(c)
		if !ok {
			return
		}
		label, err := client.VerifyToken(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if label != conn.AccountLabel {
			_ = models.UpdateGumroadConnection(c.Request.Context(), config.GetDB(), conn.ID, map[string]interface{}{
				"account_label": label,
			})
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "accountLabel": label})
	}
}

// productCacheKey holds the product listing for a few minutes so the
// settings UI does not hammer the API.
const productCacheKey = "gumroad:products"

func ProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var cached []gumroad.Product
		if hit, err := config.GetRedisObject(productCacheKey, &cached); err == nil && hit {
			c.JSON(http.StatusOK, gin.H{"products": cached})
			return
		}

		_, client, ok := requireConnectedClient(c)
		if !ok {
			return
		}
		products, err := client.FetchProducts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		_ = config.SetRedisObject(productCacheKey, products, 5*time.Minute)
		c.JSON(http.StatusOK, gin.H{"products": products})
	}
}

func GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		db := config.GetDB()
		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, DefaultSettings())
			return
		}
		c.JSON(http.StatusOK, DecodeSettings(conn.SettingsJSON))
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var req Settings
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		req = NormalizeSettings(req)
		if err := ValidateSettings(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		db := config.GetDB()
		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		encoded := EncodeSettings(req)
		if conn == nil {
			conn = &models.GumroadConnection{
				Status:       models.ConnectionStatusDisconnected,
				SettingsJSON: encoded,
			}
			if err := models.SaveGumroadConnection(c.Request.Context(), db, conn); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := models.UpdateGumroadConnection(c.Request.Context(), db, conn.ID, map[string]interface{}{
				"settings_json": encoded,
				"updated_at":    time.Now(),
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TriggerSyncHandler kicks off a pass immediately. A 409 means one is
// already running.
func TriggerSyncHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		db := config.GetDB()
		conn, err := models.GetGumroadConnection(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "gumroad is not connected"})
			return
		}

		if !scheduler.TriggerPass(c.Request.Context()) {
			c.JSON(http.StatusConflict, gin.H{"error": "a pass is already running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func LogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		page, perPage := pagination(c)

		entries, total, err := models.ListAuditLog(c.Request.Context(), config.GetDB(), page, perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":   entries,
			"total":   total,
			"page":    page,
			"perPage": perPage,
		})
	}
}

func ClearLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		if err := models.ClearAuditLog(c.Request.Context(), config.GetDB()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func AccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		page, perPage := pagination(c)
		filter := accountsFilter(c)

		records, total, err := models.ListProvisionRecords(c.Request.Context(), config.GetDB(), filter, page, perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":   records,
			"total":   total,
			"page":    page,
			"perPage": perPage,
		})
	}
}

// ExportAccountsHandler streams the provisioned accounts as an xlsx workbook.
func ExportAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		filter := accountsFilter(c)

		records, _, err := models.ListProvisionRecords(c.Request.Context(), config.GetDB(), filter, 1, 10000)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"
		f.SetCellValue(sheet, "A1", "Email")
		f.SetCellValue(sheet, "B1", "OriginSaleId")
		f.SetCellValue(sheet, "C1", "OriginProduct")
		f.SetCellValue(sheet, "D1", "Roles")
		f.SetCellValue(sheet, "E1", "Refunded")
		f.SetCellValue(sheet, "F1", "SubscriptionStatus")
		f.SetCellValue(sheet, "G1", "CreatedAt")

		for i, rec := range records {
			row := i + 2
			f.SetCellValue(sheet, "A"+fmt.Sprint(row), rec.Email)
			f.SetCellValue(sheet, "B"+fmt.Sprint(row), rec.OriginSaleId)
			f.SetCellValue(sheet, "C"+fmt.Sprint(row), rec.OriginProductName)
			f.SetCellValue(sheet, "D"+fmt.Sprint(row), strings.Join(rec.AssignedRoles(), ", "))
			f.SetCellValue(sheet, "E"+fmt.Sprint(row), rec.Refunded)
			f.SetCellValue(sheet, "F"+fmt.Sprint(row), rec.SubscriptionStatus)
			f.SetCellValue(sheet, "G"+fmt.Sprint(row), rec.CreatedAt.UTC().Format(time.RFC3339))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=gumroad-accounts.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}

// PurgeHandler irreversibly deletes all plugin-owned state: provision
// records, the dedup ledger, the audit log, and the connection. Member
// accounts themselves are left untouched.
func PurgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var req PurgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.Confirm != PurgeConfirmation {
			c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation string does not match"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB()
		if err := models.DeleteAllProvisionRecords(ctx, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := models.DeleteAllProcessedSales(ctx, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := models.ClearAuditLog(ctx, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := models.DeleteGumroadConnection(ctx, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(productCacheKey)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func requireOperator(c *gin.Context) bool {
	operator, ok := utils.GetOperatorFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(operator) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func requireConnectedClient(c *gin.Context) (*models.GumroadConnection, *gumroad.Client, bool) {
	conn, err := models.GetGumroadConnection(c.Request.Context(), config.GetDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	if conn == nil || conn.Status != models.ConnectionStatusConnected || conn.AccessToken == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "gumroad is not connected"})
		return nil, nil, false
	}
	client, err := gumroad.NewClient(conn.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return conn, client, true
}

func pagination(c *gin.Context) (int, int) {
	page := 1
	perPage := 20
	if v := strings.TrimSpace(c.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(c.Query("perPage")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			perPage = n
		}
	}
	return page, perPage
}

func accountsFilter(c *gin.Context) models.ProvisionRecordFilter {
	filter := models.ProvisionRecordFilter{
		Email:   strings.TrimSpace(c.Query("email")),
		Product: strings.TrimSpace(c.Query("product")),
		SaleId:  strings.TrimSpace(c.Query("saleId")),
		Role:    strings.TrimSpace(c.Query("role")),
	}
	if v := strings.TrimSpace(c.Query("dateFrom")); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateFrom = &t
		}
	}
	if v := strings.TrimSpace(c.Query("dateTo")); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateTo = &t
		}
	}
	return filter
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
