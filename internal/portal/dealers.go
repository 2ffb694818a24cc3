package portal

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Dealer is a customer account in the dealer network
type Dealer struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Region      string          `json:"region,omitempty"`
	Email       string          `json:"email,omitempty"`
	CreditLimit decimal.Decimal `json:"creditLimit"`
	Balance     decimal.Decimal `json:"balance"`
	Active      bool            `json:"active"`
	CreatedAt   string          `json:"createdAt,omitempty"`
}

// AvailableCredit is the credit limit minus the outstanding balance
func (d Dealer) AvailableCredit() decimal.Decimal {
	return d.CreditLimit.Sub(d.Balance)
}

// NewDealer is the create-dealer form
type NewDealer struct {
	Code        string          `json:"code" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Region      string          `json:"region,omitempty"`
	Email       string          `json:"email,omitempty" validate:"omitempty,email"`
	CreditLimit decimal.Decimal `json:"creditLimit"`
}

// LedgerLine is one posting in a dealer or account ledger
type LedgerLine struct {
	Date        string          `json:"date"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

// ListDealers returns one page of dealers
func (s *Service) ListDealers(ctx context.Context, params ListParams) (Page[Dealer], error) {
	return list[Dealer](ctx, s.client, "/dealers", params)
}

// GetDealer returns one dealer
func (s *Service) GetDealer(ctx context.Context, id string) (Dealer, error) {
	return get[Dealer](ctx, s.client, "/dealers/"+url.PathEscape(id))
}

// CreateDealer registers a dealer
func (s *Service) CreateDealer(ctx context.Context, d NewDealer) (Dealer, error) {
	if err := s.validate(d); err != nil {
		return Dealer{}, err
	}
	return send[Dealer](ctx, s.client, http.MethodPost, "/dealers", d, "")
}

// DealerLedger returns the dealer's postings, oldest first
func (s *Service) DealerLedger(ctx context.Context, id string) ([]LedgerLine, error) {
	return get[[]LedgerLine](ctx, s.client, "/dealers/"+url.PathEscape(id)+"/ledger")
}
