package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidProject   = errors.New("invalid_project")
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrProjectNotFound  = errors.New("project_not_found")
	ErrUserNotFound     = errors.New("user_not_found")
	ErrCustomerBlocked  = errors.New("customer_blocked")
)

type CreateCustomerRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

type CreateProjectRequest struct {
	CustomerID string     `json:"customer_id"`
	Name       string     `json:"name"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error)
	GetCustomer(ctx context.Context, id snowflake.ID) (Customer, error)
	GetProject(ctx context.Context, id snowflake.ID) (Project, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	ListProjects(ctx context.Context, customerID snowflake.ID) ([]Project, error)
	// ExpiredProjects returns projects whose end date is on or before the
	// given day.
	ExpiredProjects(ctx context.Context, now time.Time) ([]Project, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
}
