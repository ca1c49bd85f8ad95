package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	orderdomain "github.com/stackbay/agora/internal/order/domain"
)

var (
	ErrInvalidResource   = errors.New("invalid_resource")
	ErrResourceNotFound  = errors.New("resource_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrPlanRequired      = errors.New("plan_required")
)

// MoveResourceError aborts a resource move that would split an order or
// touch a finalized invoice.
type MoveResourceError struct {
	Reason string
	// OrderID is set when a shared order blocks the move.
	OrderID snowflake.ID
	// InvoiceID is set when a non-pending invoice blocks the move.
	InvoiceID snowflake.ID
}

func (e *MoveResourceError) Error() string {
	return fmt.Sprintf("cannot move resource: %s", e.Reason)
}

type ImportResourceRequest struct {
	CustomerID   snowflake.ID
	ProjectID    snowflake.ID
	OfferingID   snowflake.ID
	PlanID       *snowflake.ID
	Name         string
	BackendID    string
	BackendState BackendState
	Attributes   map[string]any
	Metadata     map[string]any
}

type Service interface {
	// CreateFromOrderItem materializes a resource for a create item and
	// opens its quota ledger from the requested limits.
	CreateFromOrderItem(ctx context.Context, item orderdomain.OrderItem, name string) (Resource, error)

	// ImportResource materializes a resource already existing on a
	// backend, mapping its backend state onto the local state machine.
	ImportResource(ctx context.Context, req ImportResourceRequest) (Resource, error)

	GetResource(ctx context.Context, resourceID snowflake.ID) (Resource, error)
	ListResources(ctx context.Context, projectID snowflake.ID) ([]Resource, error)

	SetStateOK(ctx context.Context, resourceID snowflake.ID) error
	SetStateErred(ctx context.Context, resourceID snowflake.ID) error
	SetStateUpdating(ctx context.Context, resourceID snowflake.ID) error
	SetStateTerminating(ctx context.Context, resourceID snowflake.ID) error
	// SetStateTerminated also closes the open plan period.
	SetStateTerminated(ctx context.Context, resourceID snowflake.ID) error

	// SetPlan switches the resource onto a plan, closing the previous
	// plan period and opening a new one.
	SetPlan(ctx context.Context, resourceID, planID snowflake.ID) error

	// UpdateBackendMetadata merges reported backend facts onto the resource.
	UpdateBackendMetadata(ctx context.Context, resourceID snowflake.ID, metadata map[string]any) error

	// MoveResource relocates a resource with its orders and pending
	// invoice lines to another project, all or nothing.
	MoveResource(ctx context.Context, resourceID, targetProjectID snowflake.ID) error

	// ScheduleExpired submits one termination order per resource whose
	// end date has passed, on behalf of the system robot account.
	// Returns how many orders were created.
	ScheduleExpired(ctx context.Context, now time.Time) (int, error)

	// ScheduleTerminationForProject submits termination orders for
	// every live resource of a project.
	ScheduleTerminationForProject(ctx context.Context, projectID snowflake.ID) (int, error)
}
