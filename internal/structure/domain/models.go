// Package domain contains customers, projects and the accounts acting on them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ScopeKind discriminates the owner of an aggregated usage row.
type ScopeKind string

const (
	ScopeCustomer ScopeKind = "customer"
	ScopeProject  ScopeKind = "project"
)

// ScopeRef is a tagged reference to a customer or project.
type ScopeRef struct {
	Kind ScopeKind
	ID   snowflake.ID
}

// Customer is the paying organization owning projects and resources.
type Customer struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Name      string            `gorm:"type:text;not null"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex"`
	Email     *string           `gorm:"type:text"`
	Blocked   bool              `gorm:"not null;default:false"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// Project groups resources under a customer. A project with an end date
// in the past has its resources terminated by the scheduler.
type Project struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	Name       string       `gorm:"type:text;not null"`
	Slug       string       `gorm:"type:text;not null"`
	EndDate    *time.Time   `gorm:""`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// User is an acting account. The system robot user drives automated
// termination orders.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Username  string       `gorm:"type:text;not null;uniqueIndex"`
	FullName  string       `gorm:"type:text"`
	IsStaff   bool         `gorm:"not null;default:false"`
	IsActive  bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
