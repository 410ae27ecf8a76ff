package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
)

func (s *Server) GetCommitmentByID(c *gin.Context) {
	commitment, err := s.deliverySvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commitment})
}

func (s *Server) GetCommitmentHistory(c *gin.Context) {
	history, err := s.deliverySvc.History(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

// GetCancellationDecision answers whether the caller may cancel the commitment right now.
func (s *Server) GetCancellationDecision(c *gin.Context) {
	decision, err := s.deliverySvc.CanCancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) CancelCommitment(c *gin.Context) {
	commitment, err := s.deliverySvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commitment})
}

type registerLoadRequest struct {
	OutWeightKg decimal.Decimal     `json:"out_weight_kg"`
	InWeightKg  decimal.NullDecimal `json:"in_weight_kg"`
	LoadedAt    string              `json:"loaded_at"`
}

func (s *Server) RegisterLoad(c *gin.Context) {
	var req registerLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	loadedAt, err := parseOptionalTime(req.LoadedAt)
	if err != nil {
		AbortWithError(c, newValidationError("loaded_at", "invalid_loaded_at", "invalid loaded_at"))
		return
	}

	ticket, err := s.deliverySvc.RegisterLoad(c.Request.Context(), strings.TrimSpace(c.Param("id")), deliverydomain.RegisterLoadRequest{
		OutWeightKg: req.OutWeightKg,
		InWeightKg:  req.InWeightKg,
		LoadedAt:    loadedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": ticket})
}
