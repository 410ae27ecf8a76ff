package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/pavetrack/internal/allocation/domain"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
)

type createRequisitionRequest struct {
	Number        string `json:"number"`
	CostCenterRef string `json:"cost_center_ref"`
	LineItems     []struct {
		Street string          `json:"street"`
		MassKg decimal.Decimal `json:"mass_kg"`
	} `json:"line_items"`
}

func (s *Server) CreateRequisition(c *gin.Context) {
	var req createRequisitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]requisitiondomain.CreateLineItemRequest, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, requisitiondomain.CreateLineItemRequest{
			Street: strings.TrimSpace(item.Street),
			MassKg: item.MassKg,
		})
	}

	resp, err := s.requisitionSvc.Create(c.Request.Context(), requisitiondomain.CreateRequisitionRequest{
		Number:        strings.TrimSpace(req.Number),
		CostCenterRef: strings.TrimSpace(req.CostCenterRef),
		LineItems:     items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRequisitions(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requisitionSvc.List(c.Request.Context(), requisitiondomain.ListRequisitionRequest{
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Requisitions,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetRequisitionByID(c *gin.Context) {
	resp, err := s.requisitionSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRequisitionProgress(c *gin.Context) {
	snapshot, err := s.allocationSvc.ComputeProgress(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

func (s *Server) ListSchedulableRequisitions(c *gin.Context) {
	items, err := s.allocationSvc.ListSchedulable(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []allocationdomain.SchedulableRequisition{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

type allocateCommitmentRequest struct {
	MassTons     decimal.Decimal `json:"mass_tons"`
	TruckRef     string          `json:"truck_ref"`
	CrewRef      string          `json:"crew_ref"`
	Street       string          `json:"street"`
	DeliveryDate string          `json:"delivery_date"`
}

func (s *Server) AllocateCommitment(c *gin.Context) {
	var req allocateCommitmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deliveryDate, err := parseOptionalTime(req.DeliveryDate)
	if err != nil {
		AbortWithError(c, newValidationError("delivery_date", "invalid_delivery_date", "invalid delivery_date"))
		return
	}

	commitment, err := s.allocationSvc.Allocate(c.Request.Context(), strings.TrimSpace(c.Param("id")), allocationdomain.AllocateRequest{
		MassTons:     req.MassTons,
		TruckRef:     strings.TrimSpace(req.TruckRef),
		CrewRef:      strings.TrimSpace(req.CrewRef),
		Street:       strings.TrimSpace(req.Street),
		DeliveryDate: deliveryDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": commitment})
}

func (s *Server) ListRequisitionCommitments(c *gin.Context) {
	commitments, err := s.deliverySvc.ListByRequisition(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commitments})
}
