package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

var notFoundErrors = []error{
	structuredomain.ErrCustomerNotFound,
	structuredomain.ErrProjectNotFound,
	structuredomain.ErrUserNotFound,
	catalogdomain.ErrOfferingNotFound,
	catalogdomain.ErrCategoryNotFound,
	catalogdomain.ErrPlanNotFound,
	catalogdomain.ErrComponentNotFound,
	orderdomain.ErrOrderNotFound,
	orderdomain.ErrOrderItemNotFound,
	resourcedomain.ErrResourceNotFound,
	invoicingdomain.ErrInvoiceNotFound,
	invoicingdomain.ErrItemNotFound,
	quotadomain.ErrQuotaNotFound,
	quotadomain.ErrUsageNotFound,
}

var conflictErrors = []error{
	catalogdomain.ErrInvalidTransition,
	orderdomain.ErrInvalidTransition,
	resourcedomain.ErrInvalidTransition,
	structuredomain.ErrCustomerBlocked,
	orderdomain.ErrPlanCapacityReached,
	catalogdomain.ErrPlanCapacityReached,
	quotadomain.ErrLimitExceeded,
}

// respondError writes the domain error with its HTTP status. Unknown
// errors are reported as an internal failure without leaking details.
func respondError(c *gin.Context, err error) {
	var moveErr *resourcedomain.MoveResourceError
	if errors.As(err, &moveErr) {
		c.JSON(http.StatusConflict, errorResponse{Error: moveErr.Error()})
		return
	}

	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
	}

	switch {
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

var validationErrors = []error{
	structuredomain.ErrInvalidCustomer,
	structuredomain.ErrInvalidProject,
	catalogdomain.ErrInvalidOffering,
	catalogdomain.ErrInvalidCategory,
	catalogdomain.ErrInvalidPlan,
	catalogdomain.ErrInvalidComponent,
	catalogdomain.ErrLimitsNotSupported,
	catalogdomain.ErrUnknownLimitKey,
	catalogdomain.ErrLimitOutOfBounds,
	catalogdomain.ErrDuplicateComponent,
	orderdomain.ErrInvalidOrder,
	orderdomain.ErrInvalidOrderItem,
	orderdomain.ErrInvalidProject,
	orderdomain.ErrInvalidOffering,
	orderdomain.ErrInvalidPlan,
	orderdomain.ErrInvalidUser,
	orderdomain.ErrEmptyOrder,
	orderdomain.ErrMixedItemTypes,
	orderdomain.ErrOfferingNotOrdered,
	orderdomain.ErrResourceRequired,
	orderdomain.ErrPlanRequired,
	resourcedomain.ErrInvalidResource,
	resourcedomain.ErrPlanRequired,
	quotadomain.ErrInvalidResource,
	quotadomain.ErrInvalidComponent,
	quotadomain.ErrInvalidAmount,
	invoicingdomain.ErrInvalidInvoice,
	invoicingdomain.ErrInvalidInvoiceItem,
	invoicingdomain.ErrInvalidQuantity,
	invoicingdomain.ErrNotUsageBased,
	invoicingdomain.ErrResourceNotFound,
	invoicingdomain.ErrComponentNotFound,
	invoicingdomain.ErrUsageNotFound,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
