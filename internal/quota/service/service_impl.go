package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	"github.com/stackbay/agora/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	quotaRepo repository.Repository[quotadomain.ComponentQuota]
	usageRepo repository.Repository[quotadomain.ComponentUsage]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("quota.service"),

		genID: p.GenID,
		clock: p.Clock,

		quotaRepo: repository.ProvideStore[quotadomain.ComponentQuota](p.DB),
		usageRepo: repository.ProvideStore[quotadomain.ComponentUsage](p.DB),
	}
}

// ValidateAmount implements domain.Service.
func (s *Service) ValidateAmount(ctx context.Context, component catalogdomain.OfferingComponent, resourceID snowflake.ID, amount int64, date time.Time) error {
	if amount < 0 {
		return quotadomain.ErrInvalidAmount
	}
	if component.LimitAmount == nil {
		return nil
	}

	query := s.db.WithContext(ctx).
		Model(&quotadomain.ComponentUsage{}).
		Where("resource_id = ? AND component_id = ?", resourceID, component.ID)

	if component.LimitPeriod == nil || *component.LimitPeriod == catalogdomain.LimitPeriodMonth {
		query = query.Where("billing_period = ?", quotadomain.BillingPeriodFor(date))
	}

	var total int64
	if err := query.
		Select("COALESCE(SUM(usage_value), 0)").
		Scan(&total).Error; err != nil {
		return err
	}

	if total+amount > *component.LimitAmount {
		return quotadomain.ErrLimitExceeded
	}
	return nil
}

// SetUsage implements domain.Service.
func (s *Service) SetUsage(ctx context.Context, req quotadomain.SetUsageRequest) (quotadomain.ComponentUsage, error) {
	if req.ResourceID == 0 {
		return quotadomain.ComponentUsage{}, quotadomain.ErrInvalidResource
	}
	if req.ComponentID == 0 {
		return quotadomain.ComponentUsage{}, quotadomain.ErrInvalidComponent
	}
	if req.Amount < 0 {
		return quotadomain.ComponentUsage{}, quotadomain.ErrInvalidAmount
	}

	date := req.Date
	if date.IsZero() {
		date = s.clock.Now()
	}

	usage := quotadomain.ComponentUsage{
		ID:            s.genID.Generate(),
		ResourceID:    req.ResourceID,
		ComponentID:   req.ComponentID,
		PlanPeriodID:  req.PlanPeriodID,
		Usage:         req.Amount,
		Date:          date,
		BillingPeriod: quotadomain.BillingPeriodFor(date),
		Recurring:     req.Recurring,
		Description:   req.Description,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "resource_id"},
				{Name: "component_id"},
				{Name: "plan_period_id"},
				{Name: "billing_period"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"usage_value", "date", "recurring", "description", "updated_at"}),
		}).
		Create(&usage).Error
	if err != nil {
		return quotadomain.ComponentUsage{}, err
	}

	return usage, nil
}

// EnsureQuota implements domain.Service.
func (s *Service) EnsureQuota(ctx context.Context, resourceID, componentID snowflake.ID, limit int64) error {
	quota := quotadomain.ComponentQuota{
		ID:          s.genID.Generate(),
		ResourceID:  resourceID,
		ComponentID: componentID,
		Limit:       limit,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "resource_id"},
				{Name: "component_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"limit_value", "updated_at"}),
		}).
		Create(&quota).Error
}

// IncrementQuotaUsage implements domain.Service.
func (s *Service) IncrementQuotaUsage(ctx context.Context, resourceID, componentID snowflake.ID, delta int64) error {
	result := s.db.WithContext(ctx).
		Model(&quotadomain.ComponentQuota{}).
		Where("resource_id = ? AND component_id = ?", resourceID, componentID).
		UpdateColumn("usage_value", gorm.Expr("usage_value + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return quotadomain.ErrQuotaNotFound
	}
	return nil
}

// ListQuotas implements domain.Service.
func (s *Service) ListQuotas(ctx context.Context, resourceID snowflake.ID) ([]quotadomain.ComponentQuota, error) {
	rows, err := s.quotaRepo.Find(ctx, &quotadomain.ComponentQuota{ResourceID: resourceID})
	if err != nil {
		return nil, err
	}
	quotas := make([]quotadomain.ComponentQuota, 0, len(rows))
	for _, row := range rows {
		quotas = append(quotas, *row)
	}
	return quotas, nil
}

// ListUsages implements domain.Service.
func (s *Service) ListUsages(ctx context.Context, resourceID snowflake.ID) ([]quotadomain.ComponentUsage, error) {
	rows, err := s.usageRepo.Find(ctx, &quotadomain.ComponentUsage{ResourceID: resourceID})
	if err != nil {
		return nil, err
	}
	usages := make([]quotadomain.ComponentUsage, 0, len(rows))
	for _, row := range rows {
		usages = append(usages, *row)
	}
	return usages, nil
}
