package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
	gatewaydomain "github.com/credgate/credgate/internal/gateway/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	"github.com/credgate/credgate/internal/provider"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
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
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
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
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	if icErr, ok := ledgerdomain.IsInsufficientCredits(err); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
			Details: map[string]any{
				"balance":  icErr.Balance,
				"required": icErr.Required,
			},
		}
	}

	var exceeded *budgetdomain.ExceededError
	if errors.As(err, &exceeded) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "budget_exceeded",
			Message: "budget exceeded",
			Details: map[string]any{
				"budget_id":    exceeded.BudgetID.String(),
				"budget_name":  exceeded.BudgetName,
				"period":       string(exceeded.Period),
				"credit_limit": exceeded.CreditLimit,
				"spent":        exceeded.Spent,
				"requested":    exceeded.Requested,
			},
		}
	}

	var violation *policydomain.ViolationError
	if errors.As(err, &violation) {
		return http.StatusForbidden, errorPayload{
			Type:    "policy_violation",
			Message: violation.Reason,
		}
	}

	var forbidden *gatewaydomain.ForbiddenError
	if errors.As(err, &forbidden) {
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: forbidden.Reason,
		}
	}

	var provErr *provider.Error
	if errors.As(err, &provErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "upstream provider error",
			Details: map[string]any{
				"provider":    provErr.Provider,
				"status_code": provErr.StatusCode,
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, hierarchydomain.ErrSlugTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "slug already in use",
		}
	case errors.Is(err, gatewaydomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
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

// classifyErrorForLog feeds the request logger a stable type/code pair
// without rendering a response.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidRequest):
		return true
	case errors.Is(err, hierarchydomain.ErrInvalidName),
		errors.Is(err, hierarchydomain.ErrInvalidSlug),
		errors.Is(err, hierarchydomain.ErrInvalidParent),
		errors.Is(err, hierarchydomain.ErrInvalidTarget),
		errors.Is(err, hierarchydomain.ErrInvalidStatus),
		errors.Is(err, hierarchydomain.ErrInvalidAgent):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidType),
		errors.Is(err, ledgerdomain.ErrInvalidIdempotencyKey):
		return true
	case errors.Is(err, apikeydomain.ErrInvalidAgent),
		errors.Is(err, apikeydomain.ErrInvalidName):
		return true
	case errors.Is(err, policydomain.ErrInvalidName),
		errors.Is(err, policydomain.ErrInvalidTarget),
		errors.Is(err, policydomain.ErrInvalidLimit):
		return true
	case errors.Is(err, budgetdomain.ErrInvalidName),
		errors.Is(err, budgetdomain.ErrInvalidTarget),
		errors.Is(err, budgetdomain.ErrInvalidPeriod),
		errors.Is(err, budgetdomain.ErrInvalidLimit):
		return true
	case errors.Is(err, pricingdomain.ErrInvalidProvider),
		errors.Is(err, pricingdomain.ErrInvalidModel),
		errors.Is(err, pricingdomain.ErrInvalidCost):
		return true
	case errors.Is(err, credentialdomain.ErrInvalidOrganization),
		errors.Is(err, credentialdomain.ErrInvalidProvider),
		errors.Is(err, credentialdomain.ErrInvalidKey):
		return true
	case errors.Is(err, usagedomain.ErrInvalidRequestID),
		errors.Is(err, usagedomain.ErrInvalidAgent),
		errors.Is(err, usagedomain.ErrInvalidStatus):
		return true
	case errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, hierarchydomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, policydomain.ErrNotFound),
		errors.Is(err, budgetdomain.ErrNotFound),
		errors.Is(err, pricingdomain.ErrNotFound),
		errors.Is(err, credentialdomain.ErrNotFound),
		errors.Is(err, provider.ErrUnknownModel),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
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
