package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
)

type recordApplicationRequest struct {
	Sequence  int             `json:"sequence"`
	MassTons  decimal.Decimal `json:"mass_tons"`
	Street    string          `json:"street"`
	AppliedAt string          `json:"applied_at"`
}

func (s *Server) RecordApplication(c *gin.Context) {
	var req recordApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	appliedAt, err := parseOptionalTime(req.AppliedAt)
	if err != nil {
		AbortWithError(c, newValidationError("applied_at", "invalid_applied_at", "invalid applied_at"))
		return
	}

	record, err := s.applicationSvc.Record(c.Request.Context(), strings.TrimSpace(c.Param("id")), fieldapplicationdomain.RecordRequest{
		Sequence:  req.Sequence,
		MassTons:  req.MassTons,
		Street:    strings.TrimSpace(req.Street),
		AppliedAt: appliedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": record})
}

func (s *Server) ListApplications(c *gin.Context) {
	records, err := s.applicationSvc.ListByCommitment(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) DeleteApplication(c *gin.Context) {
	if err := s.applicationSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RunStatusIntegrity(c *gin.Context) {
	report, err := s.applicationSvc.CheckAndFix(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
