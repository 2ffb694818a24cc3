// Package portal exposes the ERP domain endpoints (dealers, accounting,
// inventory, factory, purchasing, admin) as typed calls through the API
// client. Money and quantities are decimals.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/erp/portal/internal/client"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrInvalidInput wraps local validation failures; nothing is sent
var ErrInvalidInput = errors.New("invalid input")

// Meta is the pagination block of a list response
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// Page is one page of a list endpoint
type Page[T any] struct {
	Items []T
	Meta  Meta
}

// HasNext reports whether a later page exists
func (p Page[T]) HasNext() bool {
	return p.Meta.Page < p.Meta.TotalPages
}

// ListParams are the common list query parameters. Zero values are omitted.
type ListParams struct {
	Page     int
	PageSize int
	Search   string
}

// Values encodes the parameters as a query string
func (p ListParams) Values() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	return q
}

// Service groups the domain endpoints
type Service struct {
	client    *client.Client
	logger    *zap.Logger
	validator *validator.Validate
}

// New creates the domain service
func New(c *client.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    c,
		logger:    logger.Named("portal"),
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) validate(v any) error {
	if err := s.validator.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// list fetches one page of path and decodes items and meta. A bare array
// response is accepted as a single page.
func list[T any](ctx context.Context, c *client.Client, path string, params ListParams) (Page[T], error) {
	var page Page[T]
	resp, err := c.Do(ctx, client.Request{Method: http.MethodGet, Path: path, Query: params.Values()})
	if err != nil {
		return page, err
	}
	items, err := client.UnwrapInto[[]T](resp.Body)
	if err != nil {
		return page, err
	}
	page.Items = items

	var envelope struct {
		Meta *Meta `json:"meta"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.Meta != nil {
		page.Meta = *envelope.Meta
	} else {
		page.Meta = Meta{Total: int64(len(items)), Page: 1, PageSize: len(items), TotalPages: 1}
	}
	return page, nil
}

func get[T any](ctx context.Context, c *client.Client, path string) (T, error) {
	return client.Call[T](ctx, c, client.Request{Method: http.MethodGet, Path: path})
}

func send[T any](ctx context.Context, c *client.Client, method, path string, body any, idempotencyKey string) (T, error) {
	return client.Call[T](ctx, c, client.Request{
		Method:         method,
		Path:           path,
		Body:           body,
		IdempotencyKey: idempotencyKey,
	})
}
