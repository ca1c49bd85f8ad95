// Package domain contains the per-resource component quota ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ComponentQuota tracks the granted limit and current usage of one
// component on one resource.
type ComponentQuota struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ResourceID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_component_quota"`
	ComponentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_component_quota"`
	Limit       int64        `gorm:"column:limit_value;not null;default:-1"`
	Usage       int64        `gorm:"column:usage_value;not null;default:0"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ComponentQuota) TableName() string { return "component_quotas" }

// ComponentUsage is one reported usage figure for a resource component
// within a billing period.
type ComponentUsage struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	ResourceID    snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_component_usage"`
	ComponentID   snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_component_usage"`
	PlanPeriodID  *snowflake.ID `gorm:"index;uniqueIndex:ux_component_usage"`
	Usage         int64         `gorm:"column:usage_value;not null;default:0"`
	Date          time.Time     `gorm:"not null"`
	BillingPeriod time.Time     `gorm:"not null;index;uniqueIndex:ux_component_usage"`
	Recurring     bool          `gorm:"not null;default:false"`
	Description   string        `gorm:"type:text"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ComponentUsage) TableName() string { return "component_usages" }

// BillingPeriodFor truncates a timestamp to the first day of its month.
func BillingPeriodFor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
