package portal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// StockItem is the on-hand quantity of a SKU in a warehouse
type StockItem struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Warehouse string          `json:"warehouse"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
}

// Adjustment is a manual stock correction
type Adjustment struct {
	ID                string          `json:"id,omitempty"`
	SKU               string          `json:"sku" validate:"required"`
	Warehouse         string          `json:"warehouse" validate:"required"`
	Delta             decimal.Decimal `json:"delta"`
	Reason            string          `json:"reason" validate:"required"`
	ResultingQuantity decimal.Decimal `json:"resultingQuantity,omitzero"`
}

// ProductionBatch is a planned or running factory batch
type ProductionBatch struct {
	ID         string          `json:"id,omitempty"`
	ProductSKU string          `json:"productSku" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	PlannedFor string          `json:"plannedFor,omitempty"`
	Status     string          `json:"status,omitempty"`
}

// PurchaseOrderLine is one ordered SKU
type PurchaseOrderLine struct {
	SKU       string          `json:"sku" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Amount is quantity times unit price
func (l PurchaseOrderLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// PurchaseOrder is an order placed with a supplier
type PurchaseOrder struct {
	ID           string              `json:"id,omitempty"`
	Number       string              `json:"number,omitempty"`
	SupplierName string              `json:"supplierName" validate:"required"`
	Status       string              `json:"status,omitempty"`
	Lines        []PurchaseOrderLine `json:"lines" validate:"min=1,dive"`
	Total        decimal.Decimal     `json:"total,omitzero"`
	CreatedAt    string              `json:"createdAt,omitempty"`
}

// ListStock returns one page of stock levels
func (s *Service) ListStock(ctx context.Context, params ListParams) (Page[StockItem], error) {
	return list[StockItem](ctx, s.client, "/inventory/stock", params)
}

// AdjustStock applies a signed quantity change. The server refuses
// adjustments that would take stock below zero.
func (s *Service) AdjustStock(ctx context.Context, a Adjustment) (Adjustment, error) {
	if err := s.validate(a); err != nil {
		return Adjustment{}, err
	}
	if a.Delta.IsZero() {
		return Adjustment{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidInput)
	}
	a.ID = ""
	a.ResultingQuantity = decimal.Decimal{}
	return send[Adjustment](ctx, s.client, http.MethodPost, "/inventory/adjustments", a, "")
}

// ListProductionBatches returns one page of production batches
func (s *Service) ListProductionBatches(ctx context.Context, params ListParams) (Page[ProductionBatch], error) {
	return list[ProductionBatch](ctx, s.client, "/factory/production-batches", params)
}

// PlanProductionBatch schedules a batch
func (s *Service) PlanProductionBatch(ctx context.Context, b ProductionBatch) (ProductionBatch, error) {
	if err := s.validate(b); err != nil {
		return ProductionBatch{}, err
	}
	if !b.Quantity.IsPositive() {
		return ProductionBatch{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	b.ID, b.Status = "", ""
	return send[ProductionBatch](ctx, s.client, http.MethodPost, "/factory/production-batches", b, "")
}

// ListPurchaseOrders returns one page of purchase orders
func (s *Service) ListPurchaseOrders(ctx context.Context, params ListParams) (Page[PurchaseOrder], error) {
	return list[PurchaseOrder](ctx, s.client, "/purchasing/orders", params)
}

// CreatePurchaseOrder drafts a purchase order; the server assigns the
// number and computes the total
func (s *Service) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	if err := s.validate(po); err != nil {
		return PurchaseOrder{}, err
	}
	for i, l := range po.Lines {
		if !l.Quantity.IsPositive() || l.UnitPrice.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d needs a positive quantity and a non-negative price", ErrInvalidInput, i+1)
		}
	}
	po.ID, po.Number, po.Status, po.Total = "", "", "", decimal.Decimal{}
	return send[PurchaseOrder](ctx, s.client, http.MethodPost, "/purchasing/orders", po, "")
}
