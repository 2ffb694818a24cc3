package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnbalanced means total debits differ from total credits
var ErrUnbalanced = errors.New("journal entry is not balanced")

// Account is a chart-of-accounts entry
type Account struct {
	ID      string          `json:"id"`
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

// JournalLine is one debit or credit of a journal entry
type JournalLine struct {
	AccountID   string          `json:"accountId" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// JournalEntry is a posted journal entry
type JournalEntry struct {
	ID         string        `json:"id"`
	Date       string        `json:"date"`
	Reference  string        `json:"reference"`
	Memo       string        `json:"memo,omitempty"`
	Status     string        `json:"status"`
	ReversalOf string        `json:"reversalOf,omitempty"`
	Lines      []JournalLine `json:"lines"`
	CreatedAt  string        `json:"createdAt,omitempty"`
}

// NewJournalEntry is the post-entry form. IdempotencyKey, when set, is
// reused if the caller retries the same submission.
type NewJournalEntry struct {
	Date           string        `json:"date" validate:"required,datetime=2006-01-02"`
	Reference      string        `json:"reference,omitempty"`
	Memo           string        `json:"memo,omitempty"`
	Lines          []JournalLine `json:"lines" validate:"min=2,dive"`
	IdempotencyKey string        `json:"-"`
}

// Totals returns the summed debits and credits
func (e NewJournalEntry) Totals() (debits, credits decimal.Decimal) {
	for _, l := range e.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// Payment is money received from a dealer
type Payment struct {
	ID        string          `json:"id"`
	DealerID  string          `json:"dealerId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// NewPayment is the record-payment form
type NewPayment struct {
	DealerID       string          `json:"dealerId" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"required,oneof=CASH BANK_TRANSFER CHEQUE CARD"`
	Reference      string          `json:"reference,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// ListAccounts returns one page of the chart of accounts
func (s *Service) ListAccounts(ctx context.Context, params ListParams) (Page[Account], error) {
	return list[Account](ctx, s.client, "/accounting/accounts", params)
}

// AccountLedger returns the postings of one account
func (s *Service) AccountLedger(ctx context.Context, accountID string) ([]LedgerLine, error) {
	return get[[]LedgerLine](ctx, s.client, "/accounting/accounts/"+url.PathEscape(accountID)+"/ledger")
}

// ListJournalEntries returns one page of journal entries
func (s *Service) ListJournalEntries(ctx context.Context, params ListParams) (Page[JournalEntry], error) {
	return list[JournalEntry](ctx, s.client, "/accounting/journal-entries", params)
}

// PostJournalEntry posts a balanced entry. Unbalanced entries are
// rejected locally with ErrUnbalanced.
func (s *Service) PostJournalEntry(ctx context.Context, e NewJournalEntry) (JournalEntry, error) {
	if err := s.validate(e); err != nil {
		return JournalEntry{}, err
	}
	debits, credits := e.Totals()
	if !debits.Equal(credits) || debits.IsZero() {
		return JournalEntry{}, fmt.Errorf("%w: debits %s, credits %s", ErrUnbalanced, debits.StringFixed(2), credits.StringFixed(2))
	}
	for i, l := range e.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return JournalEntry{}, fmt.Errorf("%w: line %d has a negative amount", ErrInvalidInput, i+1)
		}
	}

	entry, err := send[JournalEntry](ctx, s.client, http.MethodPost, "/accounting/journal-entries", e, e.IdempotencyKey)
	if err != nil {
		return JournalEntry{}, err
	}
	s.logger.Info("journal entry posted", zap.String("id", entry.ID), zap.String("amount", debits.StringFixed(2)))
	return entry, nil
}

// ReverseJournalEntry posts the mirror image of an entry and marks the
// original reversed
func (s *Service) ReverseJournalEntry(ctx context.Context, id string) (JournalEntry, error) {
	return send[JournalEntry](ctx, s.client, http.MethodPost, "/accounting/journal-entries/"+url.PathEscape(id)+"/reverse", nil, "")
}

// ListPayments returns one page of payments
func (s *Service) ListPayments(ctx context.Context, params ListParams) (Page[Payment], error) {
	return list[Payment](ctx, s.client, "/accounting/payments", params)
}

// RecordPayment records a dealer payment
func (s *Service) RecordPayment(ctx context.Context, p NewPayment) (Payment, error) {
	if err := s.validate(p); err != nil {
		return Payment{}, err
	}
	if !p.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return send[Payment](ctx, s.client, http.MethodPost, "/accounting/payments", p, p.IdempotencyKey)
}
