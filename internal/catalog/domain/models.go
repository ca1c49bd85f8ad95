// Package domain contains the marketplace catalog: categories, offerings,
// their billing components and pricing plans.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OfferingState represents lifecycle states for an offering.
type OfferingState string

const (
	OfferingStateDraft    OfferingState = "draft"
	OfferingStateActive   OfferingState = "active"
	OfferingStatePaused   OfferingState = "paused"
	OfferingStateArchived OfferingState = "archived"
)

// BillingType determines how a component contributes to the invoice.
type BillingType string

const (
	// BillingTypeFixed is charged per plan period at amount times price.
	BillingTypeFixed BillingType = "fixed"
	// BillingTypeUsage is charged from reported usage.
	BillingTypeUsage BillingType = "usage"
	// BillingTypeOneTime is charged once at resource creation.
	BillingTypeOneTime BillingType = "one"
	// BillingTypeOnPlanSwitch is charged when a resource changes plan.
	BillingTypeOnPlanSwitch BillingType = "few"
	// BillingTypeLimit is charged up-front for a requested limit.
	BillingTypeLimit BillingType = "limit"
)

// LimitPeriod scopes how usage is summed against a component limit.
type LimitPeriod string

const (
	LimitPeriodMonth LimitPeriod = "month"
	LimitPeriodTotal LimitPeriod = "total"
)

// Category groups offerings for navigation and usage rollups.
type Category struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Title     string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Category) TableName() string { return "categories" }

// CategoryComponent is the category-level axis that offering components
// roll up into.
type CategoryComponent struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	CategoryID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_category_component"`
	Type         string       `gorm:"type:text;not null;uniqueIndex:ux_category_component"`
	Name         string       `gorm:"type:text;not null"`
	MeasuredUnit string       `gorm:"type:text"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CategoryComponent) TableName() string { return "category_components" }

// Offering is a sellable service published by a provider customer.
type Offering struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	CustomerID snowflake.ID      `gorm:"not null;index"`
	ProjectID  *snowflake.ID     `gorm:"index"`
	CategoryID snowflake.ID      `gorm:"not null;index"`
	ParentID   *snowflake.ID     `gorm:"index"`
	Name       string            `gorm:"type:text;not null"`
	Slug       string            `gorm:"type:text;not null;uniqueIndex"`
	Type       string            `gorm:"type:text;not null;index"`
	State      OfferingState     `gorm:"type:text;not null;index"`
	Shared     bool              `gorm:"not null;default:true"`
	Billable   bool              `gorm:"not null;default:true"`
	Attributes datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Offering) TableName() string { return "offerings" }

// OfferingComponent defines one billing axis of an offering.
type OfferingComponent struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	OfferingID   snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_offering_component"`
	ParentID     *snowflake.ID `gorm:"index"`
	Type         string        `gorm:"type:text;not null;uniqueIndex:ux_offering_component"`
	Name         string        `gorm:"type:text;not null"`
	MeasuredUnit string        `gorm:"type:text"`
	BillingType  BillingType   `gorm:"type:text;not null"`
	LimitPeriod  *LimitPeriod  `gorm:"type:text"`
	LimitAmount  *int64        `gorm:""`
	MinValue     *int64        `gorm:""`
	MaxValue     *int64        `gorm:""`
	DefaultLimit *int64        `gorm:""`
	// Factor divides reported amounts when converting to billed units.
	Factor    int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OfferingComponent) TableName() string { return "offering_components" }

// Plan prices an offering. Unit price covers the base subscription,
// plan components price individual axes.
type Plan struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OfferingID snowflake.ID `gorm:"not null;index"`
	Name       string       `gorm:"type:text;not null"`
	UnitPrice  float64      `gorm:"not null;default:0"`
	Unit       string       `gorm:"type:text;not null;default:'month'"`
	Archived   bool         `gorm:"not null;default:false"`
	// MaxAmount caps how many non-terminated resources the plan may back.
	MaxAmount *int      `gorm:""`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PlanComponent prices one offering component within a plan.
type PlanComponent struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	PlanID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_plan_component"`
	ComponentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_plan_component"`
	Amount      int64        `gorm:"not null;default:0"`
	Price       float64      `gorm:"not null;default:0"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanComponent) TableName() string { return "plan_components" }
