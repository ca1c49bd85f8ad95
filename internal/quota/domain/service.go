package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
)

var (
	ErrInvalidResource  = errors.New("invalid_resource")
	ErrInvalidComponent = errors.New("invalid_component")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrQuotaNotFound    = errors.New("quota_not_found")
	ErrUsageNotFound    = errors.New("usage_not_found")
	ErrLimitExceeded    = errors.New("component_limit_exceeded")
)

type SetUsageRequest struct {
	ResourceID   snowflake.ID
	ComponentID  snowflake.ID
	PlanPeriodID *snowflake.ID
	Amount       int64
	Date         time.Time
	Recurring    bool
	Description  string
}

type Service interface {
	// ValidateAmount checks a prospective usage report against the
	// component limit. Existing usage is summed within the report's
	// month when the limit period is monthly, over the resource
	// lifetime when it is total. Components without a limit amount
	// accept anything.
	ValidateAmount(ctx context.Context, component catalogdomain.OfferingComponent, resourceID snowflake.ID, amount int64, date time.Time) error

	// SetUsage records usage for the billing period containing the
	// report date, overwriting a previous report for the same period.
	SetUsage(ctx context.Context, req SetUsageRequest) (ComponentUsage, error)

	// EnsureQuota creates the quota row for a resource component if it
	// does not exist yet.
	EnsureQuota(ctx context.Context, resourceID, componentID snowflake.ID, limit int64) error

	// IncrementQuotaUsage adds delta to the quota usage counter in a
	// single statement, without a read-modify-write cycle.
	IncrementQuotaUsage(ctx context.Context, resourceID, componentID snowflake.ID, delta int64) error

	ListQuotas(ctx context.Context, resourceID snowflake.ID) ([]ComponentQuota, error)
	ListUsages(ctx context.Context, resourceID snowflake.ID) ([]ComponentUsage, error)
}
