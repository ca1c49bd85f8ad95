package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOffering     = errors.New("invalid_offering")
	ErrInvalidCategory     = errors.New("invalid_category")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidComponent    = errors.New("invalid_component")
	ErrOfferingNotFound    = errors.New("offering_not_found")
	ErrCategoryNotFound    = errors.New("category_not_found")
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrComponentNotFound   = errors.New("component_not_found")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrLimitsNotSupported  = errors.New("limits_not_supported")
	ErrUnknownLimitKey     = errors.New("unknown_limit_key")
	ErrLimitOutOfBounds    = errors.New("limit_out_of_bounds")
	ErrDuplicateComponent  = errors.New("duplicate_component")
	ErrPlanArchived        = errors.New("plan_archived")
	ErrPlanCapacityReached = errors.New("plan_capacity_reached")
)

type CreateComponentRequest struct {
	Type         string       `json:"type"`
	Name         string       `json:"name"`
	MeasuredUnit string       `json:"measured_unit,omitempty"`
	BillingType  BillingType  `json:"billing_type"`
	LimitPeriod  *LimitPeriod `json:"limit_period,omitempty"`
	LimitAmount  *int64       `json:"limit_amount,omitempty"`
	MinValue     *int64       `json:"min_value,omitempty"`
	MaxValue     *int64       `json:"max_value,omitempty"`
	DefaultLimit *int64       `json:"default_limit,omitempty"`
	Factor       int64        `json:"factor,omitempty"`
}

type CreateOfferingRequest struct {
	CustomerID string                   `json:"customer_id"`
	ProjectID  string                   `json:"project_id,omitempty"`
	CategoryID string                   `json:"category_id"`
	Name       string                   `json:"name"`
	Type       string                   `json:"type"`
	Shared     *bool                    `json:"shared,omitempty"`
	Billable   *bool                    `json:"billable,omitempty"`
	Attributes map[string]any           `json:"attributes,omitempty"`
	Components []CreateComponentRequest `json:"components,omitempty"`
}

type CreatePlanComponentRequest struct {
	ComponentType string  `json:"component_type"`
	Amount        int64   `json:"amount"`
	Price         float64 `json:"price"`
}

type CreatePlanRequest struct {
	OfferingID string                       `json:"offering_id"`
	Name       string                       `json:"name"`
	UnitPrice  float64                      `json:"unit_price"`
	Unit       string                       `json:"unit,omitempty"`
	MaxAmount  *int                         `json:"max_amount,omitempty"`
	Components []CreatePlanComponentRequest `json:"components,omitempty"`
}

type CreateCategoryRequest struct {
	Title string `json:"title"`
}

type Service interface {
	CreateCategory(ctx context.Context, req CreateCategoryRequest) (Category, error)
	CreateOffering(ctx context.Context, req CreateOfferingRequest) (Offering, error)
	TransitionOffering(ctx context.Context, offeringID snowflake.ID, target OfferingState) error
	GetOffering(ctx context.Context, offeringID snowflake.ID) (Offering, error)
	ListOfferings(ctx context.Context, customerID snowflake.ID) ([]Offering, error)
	GetComponents(ctx context.Context, offeringID snowflake.ID) ([]OfferingComponent, error)

	CreatePlan(ctx context.Context, req CreatePlanRequest) (Plan, error)
	GetPlanDetail(ctx context.Context, planID snowflake.ID) (PlanDetail, error)
	// PlanIsActive reports whether the plan accepts new resources,
	// honoring the archived flag and the max resource cap. Terminated
	// resources do not count against the cap.
	PlanIsActive(ctx context.Context, planID snowflake.ID) (bool, error)

	// ValidateLimits checks requested limits against an offering: the
	// plugin must support limit updates, every key must name a limit
	// component and every value must sit within that component's bounds.
	ValidateLimits(ctx context.Context, offeringID snowflake.ID, limits map[string]int64) error
}
