package mockapi

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Collection names
const (
	Dealers           = "dealers"
	Accounts          = "accounts"
	JournalEntries    = "journal-entries"
	Payments          = "payments"
	Stock             = "stock"
	Adjustments       = "adjustments"
	ProductionBatches = "production-batches"
	PurchaseOrders    = "purchase-orders"
)

func dealerLedger(id string) string  { return "dealer-ledger:" + id }
func accountLedger(id string) string { return "account-ledger:" + id }

func defaultSettings() map[string]any {
	return map[string]any{
		"companyName":     "Demo Manufacturing Co.",
		"currency":        "USD",
		"timezone":        "UTC",
		"fiscalYearStart": "01-01",
		"mfaRequired":     false,
	}
}

func (s *Server) resourceRoutes(r *gin.RouterGroup) {
	r.GET("/dealers", s.list(Dealers))
	r.POST("/dealers", s.idempotent(s.createDealer))
	r.GET("/dealers/:id", s.get(Dealers, "Dealer not found"))
	r.GET("/dealers/:id/ledger", s.ledger(Dealers, dealerLedger))

	r.GET("/accounting/accounts", s.list(Accounts))
	r.GET("/accounting/accounts/:id/ledger", s.ledger(Accounts, accountLedger))
	r.GET("/accounting/journal-entries", s.list(JournalEntries))
	r.POST("/accounting/journal-entries", s.idempotent(s.createJournalEntry))
	r.POST("/accounting/journal-entries/:id/reverse", s.idempotent(s.reverseJournalEntry))
	r.GET("/accounting/payments", s.list(Payments))
	r.POST("/accounting/payments", s.idempotent(s.createPayment))

	r.GET("/inventory/stock", s.list(Stock))
	r.POST("/inventory/adjustments", s.idempotent(s.createAdjustment))
	r.GET("/factory/production-batches", s.list(ProductionBatches))
	r.POST("/factory/production-batches", s.idempotent(s.createBatch))

	r.GET("/purchasing/orders", s.list(PurchaseOrders))
	r.POST("/purchasing/orders", s.idempotent(s.createPurchaseOrder))

	r.GET("/admin/settings", s.getSettings)
	r.PUT("/admin/settings", s.updateSettings)
}

// Insert adds a record to a collection, assigning an id when missing
func (s *Server) Insert(collection string, record map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(collection, record)
}

func (s *Server) insertLocked(collection string, record map[string]any) map[string]any {
	if _, ok := record["id"]; !ok {
		record["id"] = newID()
	}
	if _, ok := record["createdAt"]; !ok {
		record["createdAt"] = time.Now().UTC().Format(time.RFC3339)
	}
	s.collections[collection] = append(s.collections[collection], record)
	return maps.Clone(record)
}

// Count returns the number of records in a collection
func (s *Server) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

func (s *Server) findLocked(collection, id string) map[string]any {
	for _, rec := range s.collections[collection] {
		if rec["id"] == id {
			return rec
		}
	}
	return nil
}

// idempotent replays the stored response when an Idempotency-Key repeats
func (s *Server) idempotent(create func(c *gin.Context) (int, any, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key != "" {
			s.mu.Lock()
			cached, seen := s.replays[key]
			s.mu.Unlock()
			if seen {
				c.Header("Idempotent-Replayed", "true")
				success(c, cached.status, cached.body)
				return
			}
		}

		status, body, ok := create(c)
		if !ok {
			return
		}
		if key != "" {
			s.mu.Lock()
			s.replays[key] = cachedResponse{status: status, body: body}
			s.mu.Unlock()
		}
		success(c, status, body)
	}
}

func (s *Server) list(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}
		search := strings.ToLower(c.Query("search"))

		s.mu.Lock()
		var matched []map[string]any
		for _, rec := range s.collections[collection] {
			if search == "" || matches(rec, search) {
				matched = append(matched, maps.Clone(rec))
			}
		}
		s.mu.Unlock()

		total := len(matched)
		start := min((page-1)*pageSize, total)
		end := min(start+pageSize, total)
		items := matched[start:end]
		if items == nil {
			items = []map[string]any{}
		}
		totalPages := (total + pageSize - 1) / pageSize

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    items,
			"meta": gin.H{
				"total":       total,
				"page":        page,
				"page_size":   pageSize,
				"total_pages": totalPages,
			},
			"timestamp": timestamp(),
		})
	}
}

func matches(rec map[string]any, search string) bool {
	for _, field := range []string{"name", "code", "sku", "number", "reference"} {
		if v, ok := rec[field].(string); ok && strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}

func (s *Server) get(collection, notFound string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		rec := maps.Clone(s.findLocked(collection, c.Param("id")))
		s.mu.Unlock()
		if rec == nil {
			fail(c, http.StatusNotFound, CodeNotFound, notFound)
			return
		}
		success(c, http.StatusOK, rec)
	}
}

func (s *Server) ledger(owner string, ledgerOf func(string) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		s.mu.Lock()
		found := s.findLocked(owner, id) != nil
		entries := append([]map[string]any{}, s.collections[ledgerOf(id)]...)
		s.mu.Unlock()
		if !found {
			fail(c, http.StatusNotFound, CodeNotFound, "Not found")
			return
		}
		success(c, http.StatusOK, entries)
	}
}

func bindRecord(c *gin.Context) (map[string]any, bool) {
	var rec map[string]any
	if err := c.ShouldBindJSON(&rec); err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "Request body must be a JSON object")
		return nil, false
	}
	return rec, true
}

func requireFields(c *gin.Context, rec map[string]any, fields ...string) bool {
	for _, f := range fields {
		if v, ok := rec[f]; !ok || v == nil || v == "" {
			fail(c, http.StatusBadRequest, CodeValidation, fmt.Sprintf("%s is required", f))
			return false
		}
	}
	return true
}

// toDecimal accepts both quoted and bare JSON numbers
func toDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(n)
	default:
		return decimal.Zero
	}
}

func (s *Server) createDealer(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "code", "name") {
		return 0, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections[Dealers] {
		if strings.EqualFold(fmt.Sprint(existing["code"]), fmt.Sprint(rec["code"])) {
			fail(c, http.StatusConflict, CodeConflict, "Dealer code already exists")
			return 0, nil, false
		}
	}
	rec["balance"] = decimal.Zero.StringFixed(2)
	rec["active"] = true
	return http.StatusCreated, s.insertLocked(Dealers, rec), true
}

func (s *Server) createJournalEntry(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "date", "lines") {
		return 0, nil, false
	}
	lines, _ := rec["lines"].([]any)
	if len(lines) < 2 {
		fail(c, http.StatusBadRequest, CodeValidation, "A journal entry needs at least two lines")
		return 0, nil, false
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, l := range lines {
		line, _ := l.(map[string]any)
		debits = debits.Add(toDecimal(line["debit"]))
		credits = credits.Add(toDecimal(line["credit"]))
	}
	if !debits.Equal(credits) {
		fail(c, http.StatusUnprocessableEntity, CodeUnbalanced,
			fmt.Sprintf("Debits %s do not equal credits %s", debits.StringFixed(2), credits.StringFixed(2)))
		return 0, nil, false
	}

	rec["status"] = "POSTED"
	s.mu.Lock()
	defer s.mu.Unlock()
	return http.StatusCreated, s.insertLocked(JournalEntries, rec), true
}

func (s *Server) reverseJournalEntry(c *gin.Context) (int, any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original := s.findLocked(JournalEntries, c.Param("id"))
	if original == nil {
		fail(c, http.StatusNotFound, CodeNotFound, "Journal entry not found")
		return 0, nil, false
	}
	if original["status"] == "REVERSED" {
		fail(c, http.StatusConflict, CodeConflict, "Journal entry already reversed")
		return 0, nil, false
	}

	lines, _ := original["lines"].([]any)
	reversed := make([]any, 0, len(lines))
	for _, l := range lines {
		line, _ := l.(map[string]any)
		reversed = append(reversed, map[string]any{
			"accountId":   line["accountId"],
			"debit":       line["credit"],
			"credit":      line["debit"],
			"description": line["description"],
		})
	}
	original["status"] = "REVERSED"
	reversal := s.insertLocked(JournalEntries, map[string]any{
		"date":       time.Now().UTC().Format("2006-01-02"),
		"reference":  fmt.Sprintf("REV-%v", original["reference"]),
		"memo":       fmt.Sprintf("Reversal of %v", original["id"]),
		"status":     "POSTED",
		"reversalOf": original["id"],
		"lines":      reversed,
	})
	return http.StatusCreated, reversal, true
}

func (s *Server) createPayment(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "dealerId", "amount", "method") {
		return 0, nil, false
	}
	amount := toDecimal(rec["amount"])
	if !amount.IsPositive() {
		fail(c, http.StatusBadRequest, CodeValidation, "amount must be positive")
		return 0, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dealer := s.findLocked(Dealers, fmt.Sprint(rec["dealerId"]))
	if dealer == nil {
		fail(c, http.StatusNotFound, CodeNotFound, "Dealer not found")
		return 0, nil, false
	}
	balance := toDecimal(dealer["balance"]).Sub(amount)
	dealer["balance"] = balance.StringFixed(2)
	s.insertLocked(dealerLedger(fmt.Sprint(dealer["id"])), map[string]any{
		"date":        time.Now().UTC().Format("2006-01-02"),
		"reference":   rec["reference"],
		"description": "Payment received",
		"debit":       decimal.Zero.StringFixed(2),
		"credit":      amount.StringFixed(2),
		"balance":     balance.StringFixed(2),
	})
	rec["amount"] = amount.StringFixed(2)
	return http.StatusCreated, s.insertLocked(Payments, rec), true
}

func (s *Server) createAdjustment(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "sku", "warehouse", "delta", "reason") {
		return 0, nil, false
	}
	delta := toDecimal(rec["delta"])

	s.mu.Lock()
	defer s.mu.Unlock()
	var item map[string]any
	for _, it := range s.collections[Stock] {
		if it["sku"] == rec["sku"] && it["warehouse"] == rec["warehouse"] {
			item = it
			break
		}
	}
	if item == nil {
		fail(c, http.StatusNotFound, CodeNotFound, "Stock item not found")
		return 0, nil, false
	}
	qty := toDecimal(item["quantity"]).Add(delta)
	if qty.IsNegative() {
		fail(c, http.StatusUnprocessableEntity, CodeValidation, "Adjustment would make stock negative")
		return 0, nil, false
	}
	item["quantity"] = qty.String()
	rec["delta"] = delta.String()
	rec["resultingQuantity"] = qty.String()
	return http.StatusCreated, s.insertLocked(Adjustments, rec), true
}

func (s *Server) createBatch(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "productSku", "quantity") {
		return 0, nil, false
	}
	rec["status"] = "PLANNED"
	s.mu.Lock()
	defer s.mu.Unlock()
	return http.StatusCreated, s.insertLocked(ProductionBatches, rec), true
}

func (s *Server) createPurchaseOrder(c *gin.Context) (int, any, bool) {
	rec, ok := bindRecord(c)
	if !ok || !requireFields(c, rec, "supplierName", "lines") {
		return 0, nil, false
	}
	lines, _ := rec["lines"].([]any)
	total := decimal.Zero
	for _, l := range lines {
		line, _ := l.(map[string]any)
		total = total.Add(toDecimal(line["quantity"]).Mul(toDecimal(line["unitPrice"])))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec["number"] = fmt.Sprintf("PO-%05d", len(s.collections[PurchaseOrders])+1)
	rec["status"] = "DRAFT"
	rec["total"] = total.StringFixed(2)
	return http.StatusCreated, s.insertLocked(PurchaseOrders, rec), true
}

func (s *Server) getSettings(c *gin.Context) {
	s.mu.Lock()
	out := make(map[string]any, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	s.mu.Unlock()
	success(c, http.StatusOK, out)
}

func (s *Server) updateSettings(c *gin.Context) {
	if !slices.Contains(currentUser(c).Roles, "admin") {
		fail(c, http.StatusForbidden, "FORBIDDEN", "Administrator role required")
		return
	}
	rec, ok := bindRecord(c)
	if !ok {
		return
	}
	s.mu.Lock()
	for k, v := range rec {
		s.settings[k] = v
	}
	s.mu.Unlock()
	s.getSettings(c)
}
