package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	currencydomain "github.com/smallbiznis/storefront/internal/currency/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	invoicedomain "github.com/smallbiznis/storefront/internal/invoice/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/storefront/internal/pricing/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

// ErrorHandlingMiddleware translates domain sentinels into HTTP
// responses after the handler chain runs.
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

func mapError(err error) (int, errorPayload) {
	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isPaymentError(err):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_error",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, cartdomain.ErrCartNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, discountdomain.ErrDiscountNotFound),
		errors.Is(err, pricingdomain.ErrPriceNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrCollectionNotFound),
		errors.Is(err, paymentdomain.ErrSessionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, cartdomain.ErrMissingRegion),
		errors.Is(err, cartdomain.ErrMissingAddresses),
		errors.Is(err, cartdomain.ErrEmptyCart),
		errors.Is(err, currencydomain.ErrInvalidCurrency),
		errors.Is(err, currencydomain.ErrRateNotFound),
		errors.Is(err, discountdomain.ErrDiscountDisabled),
		errors.Is(err, discountdomain.ErrDiscountNotActive),
		errors.Is(err, discountdomain.ErrDiscountLimitReached),
		errors.Is(err, invoicedomain.ErrNoLineItems),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, cartdomain.ErrCartCompleted),
		errors.Is(err, invoicedomain.ErrInvoiceNotOpen),
		errors.Is(err, invoicedomain.ErrStaleLineItems),
		errors.Is(err, accountdomain.ErrMultipleActiveAccounts),
		errors.Is(err, paymentdomain.ErrSessionNotSelected):
		return true
	default:
		return false
	}
}

func isPaymentError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrInsufficientCredit),
		errors.Is(err, accountdomain.ErrNoActiveAccount),
		errors.Is(err, accountdomain.ErrAccountInactive),
		errors.Is(err, paymentdomain.ErrCaptureFailed):
		return true
	default:
		return false
	}
}
