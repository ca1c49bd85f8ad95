// Package domain contains invoices, invoice lines and the category-level
// usage rollup rows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

// InvoiceState represents lifecycle states for an invoice.
type InvoiceState string

const (
	InvoiceStatePending  InvoiceState = "pending"
	InvoiceStateCreated  InvoiceState = "created"
	InvoiceStatePaid     InvoiceState = "paid"
	InvoiceStateCanceled InvoiceState = "canceled"
)

// Detail keys carried on invoice items.
const (
	DetailKeyPlanID                = "plan_id"
	DetailKeyPlanComponentID       = "plan_component_id"
	DetailKeyOfferingComponentType = "offering_component_type"
)

// Invoice accumulates a customer's charges for one calendar month.
type Invoice struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoice_period"`
	Year       int          `gorm:"not null;uniqueIndex:ux_invoice_period"`
	Month      int          `gorm:"not null;uniqueIndex:ux_invoice_period"`
	State      InvoiceState `gorm:"type:text;not null;index"`
	// CurrentCost caches the sum of item prices, refreshed whenever
	// items change.
	CurrentCost float64   `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one priced line on an invoice.
type InvoiceItem struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	InvoiceID  snowflake.ID      `gorm:"not null;index"`
	ResourceID *snowflake.ID     `gorm:"index"`
	ProjectID  *snowflake.ID     `gorm:"index"`
	Name       string            `gorm:"type:text;not null"`
	Quantity   float64           `gorm:"not null;default:0"`
	UnitPrice  float64           `gorm:"not null;default:0"`
	Start      time.Time         `gorm:"not null"`
	End        time.Time         `gorm:"not null"`
	Details    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// Price is the line total.
func (i InvoiceItem) Price() float64 {
	return i.Quantity * i.UnitPrice
}

// CategoryComponentUsage is the per-scope monthly rollup of reported and
// fixed usage against one category component.
type CategoryComponentUsage struct {
	ID                  snowflake.ID              `gorm:"primaryKey"`
	ScopeKind           structuredomain.ScopeKind `gorm:"type:text;not null;uniqueIndex:ux_category_usage"`
	ScopeID             snowflake.ID              `gorm:"not null;index;uniqueIndex:ux_category_usage"`
	CategoryComponentID snowflake.ID              `gorm:"not null;index;uniqueIndex:ux_category_usage"`
	Date                time.Time                 `gorm:"not null;uniqueIndex:ux_category_usage"`
	ReportedUsage       int64                     `gorm:"not null;default:0"`
	FixedUsage          int64                     `gorm:"not null;default:0"`
	CreatedAt           time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CategoryComponentUsage) TableName() string { return "category_component_usages" }
