package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/pavetrack/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/authorization"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var massErr *allocationdomain.InsufficientMassError
	if errors.As(err, &massErr) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "insufficient available mass",
			Reason:  allocationdomain.ErrInsufficientAvailableMass.Error(),
			Details: map[string]any{
				"requested_tons": massErr.Requested.String(),
				"available_tons": massErr.Available.String(),
			},
		}
	}

	var deniedErr *deliverydomain.DeniedError
	if errors.As(err, &deniedErr) {
		status := http.StatusConflict
		if deniedErr.Reason == deliverydomain.ReasonNotPermitted {
			status = http.StatusForbidden
		}
		if deniedErr.Reason == deliverydomain.ReasonAuthenticationRequired {
			status = http.StatusUnauthorized
		}
		return status, errorPayload{
			Type:    "cancellation_denied",
			Message: "cancellation denied",
			Reason:  deniedErr.Reason,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Reason:  conflictReason(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	requisitiondomain.ErrInvalidID,
	requisitiondomain.ErrInvalidNumber,
	requisitiondomain.ErrInvalidLineItems,
	requisitiondomain.ErrInvalidMass,
	deliverydomain.ErrInvalidID,
	deliverydomain.ErrInvalidWeight,
	allocationdomain.ErrInvalidID,
	allocationdomain.ErrInvalidMass,
	fieldapplicationdomain.ErrInvalidID,
	fieldapplicationdomain.ErrInvalidMass,
	fieldapplicationdomain.ErrInvalidSequence,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidAction,
}

func isValidationError(err error) bool {
	return validationErrorCode(err) != ""
}

func isConflictError(err error) bool {
	return errors.Is(err, ErrConflict) || conflictReason(err) != ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, requisitiondomain.ErrNotFound),
		errors.Is(err, deliverydomain.ErrNotFound),
		errors.Is(err, fieldapplicationdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// conflictReason exposes the domain sentinel code, never the wrapped message.
func conflictReason(err error) string {
	for _, sentinel := range []error{
		requisitiondomain.ErrDuplicateNumber,
		deliverydomain.ErrInvalidTransition,
		deliverydomain.ErrLoadAlreadyRegistered,
		deliverydomain.ErrConcurrentStatusChange,
		allocationdomain.ErrInsufficientAvailableMass,
		allocationdomain.ErrConcurrentAllocation,
		fieldapplicationdomain.ErrDuplicateSequence,
		fieldapplicationdomain.ErrExceedsCommitment,
		fieldapplicationdomain.ErrCommitmentNotDispatched,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code recorded on request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Reason
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = payload.Type
	}
	return payload.Type, code
}
