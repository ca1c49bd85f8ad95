// Package domain contains the provisioned resource lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ResourceState represents lifecycle states for a resource.
type ResourceState string

const (
	ResourceStateCreating    ResourceState = "creating"
	ResourceStateOK          ResourceState = "ok"
	ResourceStateErred       ResourceState = "erred"
	ResourceStateUpdating    ResourceState = "updating"
	ResourceStateTerminating ResourceState = "terminating"
	ResourceStateTerminated  ResourceState = "terminated"
)

// BackendState is the state reported by a provisioning backend.
type BackendState string

const (
	BackendStateCreationScheduled BackendState = "creation_scheduled"
	BackendStateCreating          BackendState = "creating"
	BackendStateUpdateScheduled   BackendState = "update_scheduled"
	BackendStateUpdating          BackendState = "updating"
	BackendStateDeletionScheduled BackendState = "deletion_scheduled"
	BackendStateDeleting          BackendState = "deleting"
	BackendStateOK                BackendState = "ok"
	BackendStateErred             BackendState = "erred"
)

// MapBackendState converts a backend state to the resource state.
// Unknown values map to erred.
func MapBackendState(state BackendState) ResourceState {
	switch state {
	case BackendStateCreationScheduled, BackendStateCreating:
		return ResourceStateCreating
	case BackendStateUpdateScheduled, BackendStateUpdating:
		return ResourceStateUpdating
	case BackendStateDeletionScheduled, BackendStateDeleting:
		return ResourceStateTerminating
	case BackendStateOK:
		return ResourceStateOK
	default:
		return ResourceStateErred
	}
}

// Resource is a provisioned instance of an offering within a project.
type Resource struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	CustomerID      snowflake.ID      `gorm:"not null;index"`
	ProjectID       snowflake.ID      `gorm:"not null;index"`
	OfferingID      snowflake.ID      `gorm:"not null;index"`
	PlanID          *snowflake.ID     `gorm:"index"`
	Name            string            `gorm:"type:text;not null"`
	State           ResourceState     `gorm:"type:text;not null;index"`
	BackendID       string            `gorm:"type:text;index"`
	Limits          datatypes.JSONMap `gorm:"type:jsonb"`
	Attributes      datatypes.JSONMap `gorm:"type:jsonb"`
	CurrentUsages   datatypes.JSONMap `gorm:"type:jsonb"`
	BackendMetadata datatypes.JSONMap `gorm:"type:jsonb"`
	EndDate         *time.Time        `gorm:"index"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Resource) TableName() string { return "resources" }

// ResourcePlanPeriod records the timeframe during which a resource was
// billed on a plan. An open period has no end.
type ResourcePlanPeriod struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ResourceID snowflake.ID `gorm:"not null;index"`
	PlanID     snowflake.ID `gorm:"not null;index"`
	Start      time.Time    `gorm:"not null"`
	End        *time.Time   `gorm:""`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ResourcePlanPeriod) TableName() string { return "resource_plan_periods" }
