// Package domain contains the order and order item state machines.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderState represents lifecycle states for an order.
type OrderState string

const (
	OrderStateRequested  OrderState = "requested_for_approval"
	OrderStateExecuting  OrderState = "executing"
	OrderStateDone       OrderState = "done"
	OrderStateTerminated OrderState = "terminated"
	OrderStateErred      OrderState = "erred"
	OrderStateRejected   OrderState = "rejected"
)

// OrderItemType is the kind of change an item requests.
type OrderItemType string

const (
	OrderItemTypeCreate    OrderItemType = "create"
	OrderItemTypeUpdate    OrderItemType = "update"
	OrderItemTypeTerminate OrderItemType = "terminate"
)

// OrderItemState represents lifecycle states for an order item.
type OrderItemState string

const (
	OrderItemStatePending     OrderItemState = "pending"
	OrderItemStateExecuting   OrderItemState = "executing"
	OrderItemStateDone        OrderItemState = "done"
	OrderItemStateErred       OrderItemState = "erred"
	OrderItemStateTerminated  OrderItemState = "terminated"
	OrderItemStateTerminating OrderItemState = "terminating"
)

// Order groups the items of one provisioning request.
type Order struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	CustomerID   snowflake.ID      `gorm:"not null;index"`
	ProjectID    snowflake.ID      `gorm:"not null;index"`
	State        OrderState        `gorm:"type:text;not null;index"`
	CreatedByID  snowflake.ID      `gorm:"not null"`
	ApprovedByID *snowflake.ID     `gorm:""`
	ApprovedAt   *time.Time        `gorm:""`
	TotalCost    float64           `gorm:"not null;default:0"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderItem requests one change to one resource.
type OrderItem struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrderID        snowflake.ID      `gorm:"not null;index"`
	OfferingID     snowflake.ID      `gorm:"not null;index"`
	PlanID         *snowflake.ID     `gorm:"index"`
	ResourceID     *snowflake.ID     `gorm:"index"`
	Type           OrderItemType     `gorm:"type:text;not null"`
	State          OrderItemState    `gorm:"type:text;not null;index"`
	Cost           float64           `gorm:"not null;default:0"`
	Limits         datatypes.JSONMap `gorm:"type:jsonb"`
	Attributes     datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorMessage   string            `gorm:"type:text"`
	ErrorTraceback string            `gorm:"type:text"`
	ActivatedAt    *time.Time        `gorm:""`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderItem) TableName() string { return "order_items" }

// IsTerminal reports whether the item can no longer change state on its own.
func (i OrderItem) IsTerminal() bool {
	switch i.State {
	case OrderItemStateDone, OrderItemStateErred, OrderItemStateTerminated:
		return true
	}
	return false
}
