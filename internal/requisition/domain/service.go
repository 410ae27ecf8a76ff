package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
)

type CreateLineItemRequest struct {
	Street string          `json:"street"`
	MassKg decimal.Decimal `json:"mass_kg"`
}

type CreateRequisitionRequest struct {
	Number        string                  `json:"number"`
	CostCenterRef string                  `json:"cost_center_ref"`
	LineItems     []CreateLineItemRequest `json:"line_items"`
}

type ListRequisitionRequest struct {
	PageToken string
	PageSize  int32
}

type ListRequisitionResponse struct {
	pagination.PageInfo
	Requisitions []Requisition `json:"requisitions"`
}

type Service interface {
	Create(context.Context, CreateRequisitionRequest) (Requisition, error)
	GetByID(ctx context.Context, id string) (Requisition, error)
	List(context.Context, ListRequisitionRequest) (ListRequisitionResponse, error)
	// ResolveTotalMass returns the requisition's total mass in tons.
	ResolveTotalMass(ctx context.Context, id string) (decimal.Decimal, error)
}

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidNumber    = errors.New("invalid_number")
	ErrInvalidLineItems = errors.New("invalid_line_items")
	ErrInvalidMass      = errors.New("invalid_mass")
	ErrDuplicateNumber  = errors.New("duplicate_requisition_number")
	ErrNotFound         = errors.New("requisition_not_found")
)
