package mockapi

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
)

var chartOfAccounts = []struct {
	code, name, kind string
}{
	{"1000", "Cash", "ASSET"},
	{"1100", "Accounts Receivable", "ASSET"},
	{"1200", "Inventory", "ASSET"},
	{"2000", "Accounts Payable", "LIABILITY"},
	{"3000", "Owner's Equity", "EQUITY"},
	{"4000", "Sales Revenue", "REVENUE"},
	{"5000", "Cost of Goods Sold", "EXPENSE"},
}

// seed fills the collections with data generated from a fixed seed, so
// the same seed always yields the same dataset.
func (s *Server) seed(seed uint64, dealers int) {
	f := gofakeit.New(seed)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range chartOfAccounts {
		acct := s.insertLocked(Accounts, map[string]any{
			"code":    a.code,
			"name":    a.name,
			"type":    a.kind,
			"balance": decimal.Zero.StringFixed(2),
		})
		if a.kind == "ASSET" {
			s.insertLocked(accountLedger(acct["id"].(string)), map[string]any{
				"date":        "2026-01-01",
				"reference":   "OPENING",
				"description": "Opening balance",
				"debit":       decimal.Zero.StringFixed(2),
				"credit":      decimal.Zero.StringFixed(2),
				"balance":     decimal.Zero.StringFixed(2),
			})
		}
	}

	for i := range dealers {
		limit := decimal.NewFromInt(int64(f.Number(10, 500)) * 1000)
		dealer := s.insertLocked(Dealers, map[string]any{
			"code":        fmt.Sprintf("DLR-%04d", i+1),
			"name":        f.Company(),
			"region":      f.State(),
			"email":       f.Email(),
			"creditLimit": limit.StringFixed(2),
			"active":      true,
		})

		balance := decimal.Zero
		id := dealer["id"].(string)
		for j := range 3 {
			amount := decimal.NewFromFloat(f.Price(100, 5000)).Round(2)
			balance = balance.Add(amount)
			s.insertLocked(dealerLedger(id), map[string]any{
				"date":        time.Date(2026, time.January, 10*(j+1), 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
				"reference":   fmt.Sprintf("INV-%04d-%d", i+1, j+1),
				"description": "Invoice",
				"debit":       amount.StringFixed(2),
				"credit":      decimal.Zero.StringFixed(2),
				"balance":     balance.StringFixed(2),
			})
		}
		s.setLocked(Dealers, id, "balance", balance.StringFixed(2))
	}

	for i := range 5 {
		s.insertLocked(Stock, map[string]any{
			"sku":       fmt.Sprintf("SKU-%03d", i+1),
			"name":      f.ProductName(),
			"warehouse": "MAIN",
			"quantity":  decimal.NewFromInt(int64(f.Number(0, 1000))).String(),
			"unit":      "pcs",
		})
	}
}

func (s *Server) setLocked(collection, id, field string, value any) {
	if rec := s.findLocked(collection, id); rec != nil {
		rec[field] = value
	}
}
