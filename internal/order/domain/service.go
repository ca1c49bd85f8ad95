package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/stackbay/agora/pkg/db/pagination"
)

var (
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInvalidOrderItem    = errors.New("invalid_order_item")
	ErrInvalidProject      = errors.New("invalid_project")
	ErrInvalidOffering     = errors.New("invalid_offering")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderItemNotFound   = errors.New("order_item_not_found")
	ErrEmptyOrder          = errors.New("empty_order")
	ErrMixedItemTypes      = errors.New("mixed_item_types")
	ErrOfferingNotOrdered  = errors.New("offering_not_orderable")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrResourceRequired    = errors.New("resource_required")
	ErrPlanRequired        = errors.New("plan_required")
	ErrPlanCapacityReached = errors.New("plan_capacity_reached")
)

type SubmitOrderItemRequest struct {
	OfferingID string           `json:"offering_id"`
	PlanID     string           `json:"plan_id,omitempty"`
	ResourceID string           `json:"resource_id,omitempty"`
	Type       OrderItemType    `json:"type"`
	Limits     map[string]int64 `json:"limits,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

type SubmitOrderRequest struct {
	ProjectID string                   `json:"project_id"`
	CreatedBy string                   `json:"created_by"`
	Items     []SubmitOrderItemRequest `json:"items"`
}

type SubmitOrderResponse struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}

type ApproveOrderRequest struct {
	OrderID    string `json:"order_id"`
	ApprovedBy string `json:"approved_by"`
}

type RejectOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	pagination.Pagination

	ProjectID snowflake.ID `form:"project_id"`
	State     OrderState   `form:"state"`
}

type ListOrdersResponse struct {
	Orders   []Order              `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type FailOrderItemRequest struct {
	ItemID    snowflake.ID
	Message   string
	Traceback string
}

type Service interface {
	Submit(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResponse, error)
	Approve(ctx context.Context, req ApproveOrderRequest) error
	Reject(ctx context.Context, req RejectOrderRequest) error
	Terminate(ctx context.Context, orderID snowflake.ID) error
	Fail(ctx context.Context, orderID snowflake.ID) error

	GetOrder(ctx context.Context, orderID snowflake.ID) (Order, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (ListOrdersResponse, error)
	GetItem(ctx context.Context, itemID snowflake.ID) (OrderItem, error)
	ListItems(ctx context.Context, orderID snowflake.ID) ([]OrderItem, error)

	SetItemExecuting(ctx context.Context, itemID snowflake.ID) error
	// SetItemDone stamps the activation time and completes the parent
	// order once every sibling reached a terminal state.
	SetItemDone(ctx context.Context, itemID snowflake.ID) error
	SetItemErred(ctx context.Context, req FailOrderItemRequest) error
	SetItemTerminating(ctx context.Context, itemID snowflake.ID) error
	SetItemTerminated(ctx context.Context, itemID snowflake.ID) error
	// SetItemResource links the provisioned resource onto a create item.
	SetItemResource(ctx context.Context, itemID, resourceID snowflake.ID) error
}
