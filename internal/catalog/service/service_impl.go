package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/plugin"
	"github.com/stackbay/agora/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	plugins *plugin.Registry

	categoryRepo  repository.Repository[catalogdomain.Category]
	offeringRepo  repository.Repository[catalogdomain.Offering]
	componentRepo repository.Repository[catalogdomain.OfferingComponent]
	planRepo      repository.Repository[catalogdomain.Plan]
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Plugins *plugin.Registry
}

func NewService(p ServiceParam) catalogdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("catalog.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		plugins: p.Plugins,

		categoryRepo:  repository.ProvideStore[catalogdomain.Category](p.DB),
		offeringRepo:  repository.ProvideStore[catalogdomain.Offering](p.DB),
		componentRepo: repository.ProvideStore[catalogdomain.OfferingComponent](p.DB),
		planRepo:      repository.ProvideStore[catalogdomain.Plan](p.DB),
	}
}

// CreateCategory implements domain.Service.
func (s *Service) CreateCategory(ctx context.Context, req catalogdomain.CreateCategoryRequest) (catalogdomain.Category, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return catalogdomain.Category{}, catalogdomain.ErrInvalidCategory
	}

	category := catalogdomain.Category{
		ID:    s.genID.Generate(),
		Title: title,
		Slug:  slug.Make(title),
	}
	if err := s.categoryRepo.Create(ctx, &category); err != nil {
		return catalogdomain.Category{}, err
	}
	return category, nil
}

// CreateOffering implements domain.Service. Components registered by the
// offering type's plugin are created first, request components may add
// to or override them.
func (s *Service) CreateOffering(ctx context.Context, req catalogdomain.CreateOfferingRequest) (catalogdomain.Offering, error) {
	customerID, err := s.parseID(req.CustomerID, catalogdomain.ErrInvalidOffering)
	if err != nil {
		return catalogdomain.Offering{}, err
	}
	categoryID, err := s.parseID(req.CategoryID, catalogdomain.ErrInvalidCategory)
	if err != nil {
		return catalogdomain.Offering{}, err
	}

	name := strings.TrimSpace(req.Name)
	offeringType := strings.TrimSpace(req.Type)
	if name == "" || offeringType == "" {
		return catalogdomain.Offering{}, catalogdomain.ErrInvalidOffering
	}

	category, err := s.categoryRepo.FindOne(ctx, &catalogdomain.Category{ID: categoryID})
	if err != nil {
		return catalogdomain.Offering{}, err
	}
	if category == nil {
		return catalogdomain.Offering{}, catalogdomain.ErrCategoryNotFound
	}

	var projectID *snowflake.ID
	if strings.TrimSpace(req.ProjectID) != "" {
		id, err := s.parseID(req.ProjectID, catalogdomain.ErrInvalidOffering)
		if err != nil {
			return catalogdomain.Offering{}, err
		}
		projectID = &id
	}

	offering := catalogdomain.Offering{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		ProjectID:  projectID,
		CategoryID: categoryID,
		Name:       name,
		Slug:       slug.Make(name),
		Type:       offeringType,
		State:      catalogdomain.OfferingStateDraft,
		Shared:     true,
		Billable:   true,
		Attributes: toJSONMap(req.Attributes),
	}
	if req.Shared != nil {
		offering.Shared = *req.Shared
	}
	if req.Billable != nil {
		offering.Billable = *req.Billable
	}

	components := s.mergeComponents(offeringType, req.Components)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&offering).Error; err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(components))
		for _, spec := range components {
			if _, dup := seen[spec.Type]; dup {
				return catalogdomain.ErrDuplicateComponent
			}
			seen[spec.Type] = struct{}{}

			component := catalogdomain.OfferingComponent{
				ID:           s.genID.Generate(),
				OfferingID:   offering.ID,
				Type:         spec.Type,
				Name:         spec.Name,
				MeasuredUnit: spec.MeasuredUnit,
				BillingType:  spec.BillingType,
				LimitPeriod:  spec.LimitPeriod,
				LimitAmount:  spec.LimitAmount,
				MinValue:     spec.MinValue,
				MaxValue:     spec.MaxValue,
				DefaultLimit: spec.DefaultLimit,
				Factor:       spec.Factor,
			}
			if component.Factor <= 0 {
				component.Factor = 1
			}

			var parent catalogdomain.CategoryComponent
			err := tx.Where("category_id = ? AND type = ?", categoryID, spec.Type).
				First(&parent).Error
			if err == nil {
				component.ParentID = &parent.ID
			} else if err != gorm.ErrRecordNotFound {
				return err
			}

			if err := tx.Create(&component).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return catalogdomain.Offering{}, err
	}

	return offering, nil
}

// TransitionOffering implements domain.Service.
func (s *Service) TransitionOffering(ctx context.Context, offeringID snowflake.ID, target catalogdomain.OfferingState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var offering catalogdomain.Offering
		if err := tx.Where("id = ?", offeringID).First(&offering).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return catalogdomain.ErrOfferingNotFound
			}
			return err
		}

		if !catalogdomain.IsOfferingTransitionAllowed(offering.State, target) {
			return catalogdomain.ErrInvalidTransition
		}

		return tx.Model(&catalogdomain.Offering{}).
			Where("id = ?", offeringID).
			Update("state", target).Error
	})
}

// GetOffering implements domain.Service.
func (s *Service) GetOffering(ctx context.Context, offeringID snowflake.ID) (catalogdomain.Offering, error) {
	offering, err := s.offeringRepo.FindOne(ctx, &catalogdomain.Offering{ID: offeringID})
	if err != nil {
		return catalogdomain.Offering{}, err
	}
	if offering == nil {
		return catalogdomain.Offering{}, catalogdomain.ErrOfferingNotFound
	}
	return *offering, nil
}

// ListOfferings implements domain.Service.
func (s *Service) ListOfferings(ctx context.Context, customerID snowflake.ID) ([]catalogdomain.Offering, error) {
	filter := catalogdomain.Offering{}
	if customerID != 0 {
		filter.CustomerID = customerID
	}
	rows, err := s.offeringRepo.Find(ctx, &filter)
	if err != nil {
		return nil, err
	}
	offerings := make([]catalogdomain.Offering, 0, len(rows))
	for _, row := range rows {
		offerings = append(offerings, *row)
	}
	return offerings, nil
}

// GetComponents implements domain.Service.
func (s *Service) GetComponents(ctx context.Context, offeringID snowflake.ID) ([]catalogdomain.OfferingComponent, error) {
	rows, err := s.componentRepo.Find(ctx, &catalogdomain.OfferingComponent{OfferingID: offeringID})
	if err != nil {
		return nil, err
	}
	components := make([]catalogdomain.OfferingComponent, 0, len(rows))
	for _, row := range rows {
		components = append(components, *row)
	}
	return components, nil
}

// CreatePlan implements domain.Service.
func (s *Service) CreatePlan(ctx context.Context, req catalogdomain.CreatePlanRequest) (catalogdomain.Plan, error) {
	offeringID, err := s.parseID(req.OfferingID, catalogdomain.ErrInvalidOffering)
	if err != nil {
		return catalogdomain.Plan{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return catalogdomain.Plan{}, catalogdomain.ErrInvalidPlan
	}

	offering, err := s.offeringRepo.FindOne(ctx, &catalogdomain.Offering{ID: offeringID})
	if err != nil {
		return catalogdomain.Plan{}, err
	}
	if offering == nil {
		return catalogdomain.Plan{}, catalogdomain.ErrOfferingNotFound
	}

	components, err := s.GetComponents(ctx, offeringID)
	if err != nil {
		return catalogdomain.Plan{}, err
	}
	byType := make(map[string]catalogdomain.OfferingComponent, len(components))
	for _, c := range components {
		byType[c.Type] = c
	}

	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = "month"
	}

	plan := catalogdomain.Plan{
		ID:         s.genID.Generate(),
		OfferingID: offeringID,
		Name:       name,
		UnitPrice:  req.UnitPrice,
		Unit:       unit,
		MaxAmount:  req.MaxAmount,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&plan).Error; err != nil {
			return err
		}
		for _, pc := range req.Components {
			component, ok := byType[pc.ComponentType]
			if !ok {
				return catalogdomain.ErrComponentNotFound
			}
			row := catalogdomain.PlanComponent{
				ID:          s.genID.Generate(),
				PlanID:      plan.ID,
				ComponentID: component.ID,
				Amount:      pc.Amount,
				Price:       pc.Price,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return catalogdomain.Plan{}, err
	}

	return plan, nil
}

// GetPlanDetail implements domain.Service.
func (s *Service) GetPlanDetail(ctx context.Context, planID snowflake.ID) (catalogdomain.PlanDetail, error) {
	plan, err := s.planRepo.FindOne(ctx, &catalogdomain.Plan{ID: planID})
	if err != nil {
		return catalogdomain.PlanDetail{}, err
	}
	if plan == nil {
		return catalogdomain.PlanDetail{}, catalogdomain.ErrPlanNotFound
	}

	var planComponents []catalogdomain.PlanComponent
	if err := s.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Find(&planComponents).Error; err != nil {
		return catalogdomain.PlanDetail{}, err
	}

	detail := catalogdomain.PlanDetail{Plan: *plan}
	for _, pc := range planComponents {
		component, err := s.componentRepo.FindOne(ctx, &catalogdomain.OfferingComponent{ID: pc.ComponentID})
		if err != nil {
			return catalogdomain.PlanDetail{}, err
		}
		if component == nil {
			return catalogdomain.PlanDetail{}, catalogdomain.ErrComponentNotFound
		}
		detail.Components = append(detail.Components, catalogdomain.PlanComponentDetail{
			PlanComponent: pc,
			Component:     *component,
		})
	}

	return detail, nil
}

// PlanIsActive implements domain.Service.
func (s *Service) PlanIsActive(ctx context.Context, planID snowflake.ID) (bool, error) {
	plan, err := s.planRepo.FindOne(ctx, &catalogdomain.Plan{ID: planID})
	if err != nil {
		return false, err
	}
	if plan == nil {
		return false, catalogdomain.ErrPlanNotFound
	}
	if plan.Archived {
		return false, nil
	}
	if plan.MaxAmount == nil {
		return true, nil
	}

	var count int64
	err = s.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM resources WHERE plan_id = ? AND state <> ?`, planID, "terminated").
		Scan(&count).Error
	if err != nil {
		return false, err
	}

	return count < int64(*plan.MaxAmount), nil
}

// ValidateLimits implements domain.Service.
func (s *Service) ValidateLimits(ctx context.Context, offeringID snowflake.ID, limits map[string]int64) error {
	if len(limits) == 0 {
		return nil
	}

	offering, err := s.GetOffering(ctx, offeringID)
	if err != nil {
		return err
	}

	reg, ok := s.plugins.Get(offering.Type)
	if !ok || !reg.CanUpdateLimits {
		return catalogdomain.ErrLimitsNotSupported
	}

	components, err := s.GetComponents(ctx, offeringID)
	if err != nil {
		return err
	}

	limitComponents := make(map[string]catalogdomain.OfferingComponent)
	for _, c := range components {
		if c.BillingType == catalogdomain.BillingTypeLimit {
			limitComponents[c.Type] = c
		}
	}

	for key, value := range limits {
		component, ok := limitComponents[key]
		if !ok {
			return catalogdomain.ErrUnknownLimitKey
		}
		if component.MinValue != nil && value < *component.MinValue {
			return catalogdomain.ErrLimitOutOfBounds
		}
		if component.MaxValue != nil && value > *component.MaxValue {
			return catalogdomain.ErrLimitOutOfBounds
		}
	}

	return nil
}

func (s *Service) mergeComponents(offeringType string, custom []catalogdomain.CreateComponentRequest) []catalogdomain.CreateComponentRequest {
	merged := make([]catalogdomain.CreateComponentRequest, 0, len(custom))
	overridden := make(map[string]struct{}, len(custom))
	for _, c := range custom {
		overridden[c.Type] = struct{}{}
		merged = append(merged, c)
	}

	reg, ok := s.plugins.Get(offeringType)
	if !ok {
		return merged
	}
	for _, spec := range reg.Components {
		if _, skip := overridden[spec.Type]; skip {
			continue
		}
		merged = append(merged, catalogdomain.CreateComponentRequest{
			Type:         spec.Type,
			Name:         spec.Name,
			MeasuredUnit: spec.MeasuredUnit,
			BillingType:  catalogdomain.BillingType(spec.BillingType),
			Factor:       spec.Factor,
		})
	}
	return merged
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
