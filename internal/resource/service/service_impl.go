package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/config"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	"github.com/stackbay/agora/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	genID *snowflake.Node
	clock clock.Clock

	catalogsvc   catalogdomain.Service
	ordersvc     orderdomain.Service
	quotasvc     quotadomain.Service
	structuresvc structuredomain.Service

	resourceRepo repository.Repository[resourcedomain.Resource]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock

	Catalogsvc   catalogdomain.Service
	Ordersvc     orderdomain.Service
	Quotasvc     quotadomain.Service
	Structuresvc structuredomain.Service
}

func NewService(p ServiceParam) resourcedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("resource.service"),
		cfg: p.Cfg,

		genID: p.GenID,
		clock: p.Clock,

		catalogsvc:   p.Catalogsvc,
		ordersvc:     p.Ordersvc,
		quotasvc:     p.Quotasvc,
		structuresvc: p.Structuresvc,

		resourceRepo: repository.ProvideStore[resourcedomain.Resource](p.DB),
	}
}

// CreateFromOrderItem implements domain.Service.
func (s *Service) CreateFromOrderItem(ctx context.Context, item orderdomain.OrderItem, name string) (resourcedomain.Resource, error) {
	if item.Type != orderdomain.OrderItemTypeCreate {
		return resourcedomain.Resource{}, resourcedomain.ErrInvalidResource
	}
	if item.PlanID == nil {
		return resourcedomain.Resource{}, resourcedomain.ErrPlanRequired
	}

	order, err := s.ordersvc.GetOrder(ctx, item.OrderID)
	if err != nil {
		return resourcedomain.Resource{}, err
	}

	if name == "" {
		name = "resource-" + item.ID.String()
	}

	resource := resourcedomain.Resource{
		ID:         s.genID.Generate(),
		CustomerID: order.CustomerID,
		ProjectID:  order.ProjectID,
		OfferingID: item.OfferingID,
		PlanID:     item.PlanID,
		Name:       name,
		State:      resourcedomain.ResourceStateCreating,
		Limits:     item.Limits,
		Attributes: item.Attributes,
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&resource).Error; err != nil {
			return err
		}
		period := resourcedomain.ResourcePlanPeriod{
			ID:         s.genID.Generate(),
			ResourceID: resource.ID,
			PlanID:     *item.PlanID,
			Start:      now,
		}
		return tx.Create(&period).Error
	})
	if err != nil {
		return resourcedomain.Resource{}, err
	}

	if err := s.initQuotas(ctx, resource, orderdomain.LimitValues(item.Limits)); err != nil {
		return resourcedomain.Resource{}, err
	}
	if err := s.ordersvc.SetItemResource(ctx, item.ID, resource.ID); err != nil {
		return resourcedomain.Resource{}, err
	}

	return resource, nil
}

func (s *Service) initQuotas(ctx context.Context, resource resourcedomain.Resource, limits map[string]int64) error {
	components, err := s.catalogsvc.GetComponents(ctx, resource.OfferingID)
	if err != nil {
		return err
	}
	for _, component := range components {
		if component.BillingType != catalogdomain.BillingTypeLimit {
			continue
		}
		limit := int64(-1)
		if component.DefaultLimit != nil {
			limit = *component.DefaultLimit
		}
		if requested, ok := limits[component.Type]; ok {
			limit = requested
		}
		if err := s.quotasvc.EnsureQuota(ctx, resource.ID, component.ID, limit); err != nil {
			return err
		}
	}
	return nil
}

// ImportResource implements domain.Service.
func (s *Service) ImportResource(ctx context.Context, req resourcedomain.ImportResourceRequest) (resourcedomain.Resource, error) {
	if req.CustomerID == 0 || req.ProjectID == 0 || req.OfferingID == 0 {
		return resourcedomain.Resource{}, resourcedomain.ErrInvalidResource
	}

	resource := resourcedomain.Resource{
		ID:              s.genID.Generate(),
		CustomerID:      req.CustomerID,
		ProjectID:       req.ProjectID,
		OfferingID:      req.OfferingID,
		PlanID:          req.PlanID,
		Name:            req.Name,
		State:           resourcedomain.MapBackendState(req.BackendState),
		BackendID:       req.BackendID,
		Attributes:      toJSONMap(req.Attributes),
		BackendMetadata: toJSONMap(req.Metadata),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&resource).Error; err != nil {
			return err
		}
		if req.PlanID == nil {
			return nil
		}
		period := resourcedomain.ResourcePlanPeriod{
			ID:         s.genID.Generate(),
			ResourceID: resource.ID,
			PlanID:     *req.PlanID,
			Start:      s.clock.Now(),
		}
		return tx.Create(&period).Error
	})
	if err != nil {
		return resourcedomain.Resource{}, err
	}

	return resource, nil
}

// GetResource implements domain.Service.
func (s *Service) GetResource(ctx context.Context, resourceID snowflake.ID) (resourcedomain.Resource, error) {
	resource, err := s.resourceRepo.FindOne(ctx, &resourcedomain.Resource{ID: resourceID})
	if err != nil {
		return resourcedomain.Resource{}, err
	}
	if resource == nil {
		return resourcedomain.Resource{}, resourcedomain.ErrResourceNotFound
	}
	return *resource, nil
}

// ListResources implements domain.Service.
func (s *Service) ListResources(ctx context.Context, projectID snowflake.ID) ([]resourcedomain.Resource, error) {
	filter := resourcedomain.Resource{}
	if projectID != 0 {
		filter.ProjectID = projectID
	}
	rows, err := s.resourceRepo.Find(ctx, &filter)
	if err != nil {
		return nil, err
	}
	resources := make([]resourcedomain.Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, *row)
	}
	return resources, nil
}

// SetStateOK implements domain.Service.
func (s *Service) SetStateOK(ctx context.Context, resourceID snowflake.ID) error {
	return s.transition(ctx, resourceID, resourcedomain.ResourceStateOK)
}

// SetStateErred implements domain.Service.
func (s *Service) SetStateErred(ctx context.Context, resourceID snowflake.ID) error {
	return s.transition(ctx, resourceID, resourcedomain.ResourceStateErred)
}

// SetStateUpdating implements domain.Service.
func (s *Service) SetStateUpdating(ctx context.Context, resourceID snowflake.ID) error {
	return s.transition(ctx, resourceID, resourcedomain.ResourceStateUpdating)
}

// SetStateTerminating implements domain.Service.
func (s *Service) SetStateTerminating(ctx context.Context, resourceID snowflake.ID) error {
	return s.transition(ctx, resourceID, resourcedomain.ResourceStateTerminating)
}

// SetStateTerminated implements domain.Service.
func (s *Service) SetStateTerminated(ctx context.Context, resourceID snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transitionTx(tx, resourceID, resourcedomain.ResourceStateTerminated); err != nil {
			return err
		}
		return tx.Model(&resourcedomain.ResourcePlanPeriod{}).
			Where("resource_id = ? AND \"end\" IS NULL", resourceID).
			Update("end", now).Error
	})
}

func (s *Service) transition(ctx context.Context, resourceID snowflake.ID, target resourcedomain.ResourceState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transitionTx(tx, resourceID, target)
	})
}

func (s *Service) transitionTx(tx *gorm.DB, resourceID snowflake.ID, target resourcedomain.ResourceState) error {
	var resource resourcedomain.Resource
	if err := tx.Where("id = ?", resourceID).First(&resource).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resourcedomain.ErrResourceNotFound
		}
		return err
	}
	if !resourcedomain.IsTransitionAllowed(resource.State, target) {
		return resourcedomain.ErrInvalidTransition
	}
	return tx.Model(&resourcedomain.Resource{}).
		Where("id = ?", resourceID).
		Update("state", target).Error
}

// SetPlan implements domain.Service.
func (s *Service) SetPlan(ctx context.Context, resourceID, planID snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resource resourcedomain.Resource
		if err := tx.Where("id = ?", resourceID).First(&resource).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return resourcedomain.ErrResourceNotFound
			}
			return err
		}

		if err := tx.Model(&resourcedomain.ResourcePlanPeriod{}).
			Where("resource_id = ? AND \"end\" IS NULL", resourceID).
			Update("end", now).Error; err != nil {
			return err
		}

		period := resourcedomain.ResourcePlanPeriod{
			ID:         s.genID.Generate(),
			ResourceID: resourceID,
			PlanID:     planID,
			Start:      now,
		}
		if err := tx.Create(&period).Error; err != nil {
			return err
		}

		return tx.Model(&resourcedomain.Resource{}).
			Where("id = ?", resourceID).
			Update("plan_id", planID).Error
	})
}

// UpdateBackendMetadata implements domain.Service.
func (s *Service) UpdateBackendMetadata(ctx context.Context, resourceID snowflake.ID, metadata map[string]any) error {
	resource, err := s.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}

	merged := resource.BackendMetadata
	if merged == nil {
		merged = datatypes.JSONMap{}
	}
	for k, v := range metadata {
		merged[k] = v
	}

	return s.db.WithContext(ctx).
		Model(&resourcedomain.Resource{}).
		Where("id = ?", resourceID).
		Update("backend_metadata", merged).Error
}

// MoveResource implements domain.Service. The resource, every order that
// references only this resource, and every invoice line on a pending
// invoice relocate together or not at all.
func (s *Service) MoveResource(ctx context.Context, resourceID, targetProjectID snowflake.ID) error {
	resource, err := s.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}

	project, err := s.structuresvc.GetProject(ctx, targetProjectID)
	if err != nil {
		return err
	}
	customer, err := s.structuresvc.GetCustomer(ctx, project.CustomerID)
	if err != nil {
		return err
	}
	if customer.Blocked {
		return structuredomain.ErrCustomerBlocked
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.moveOrders(tx, resource, project); err != nil {
			return err
		}
		if err := s.moveInvoiceItems(tx, resource, project, customer); err != nil {
			return err
		}

		return tx.Model(&resourcedomain.Resource{}).
			Where("id = ?", resource.ID).
			Updates(map[string]any{
				"project_id":  project.ID,
				"customer_id": project.CustomerID,
			}).Error
	})
}

func (s *Service) moveOrders(tx *gorm.DB, resource resourcedomain.Resource, project structuredomain.Project) error {
	var orderIDs []snowflake.ID
	err := tx.Model(&orderdomain.OrderItem{}).
		Distinct("order_id").
		Where("resource_id = ?", resource.ID).
		Pluck("order_id", &orderIDs).Error
	if err != nil {
		return err
	}

	for _, orderID := range orderIDs {
		var foreign int64
		err := tx.Model(&orderdomain.OrderItem{}).
			Where("order_id = ? AND (resource_id IS NULL OR resource_id <> ?)", orderID, resource.ID).
			Count(&foreign).Error
		if err != nil {
			return err
		}
		if foreign > 0 {
			return &resourcedomain.MoveResourceError{
				Reason:  fmt.Sprintf("order %s contains items for other resources", orderID),
				OrderID: orderID,
			}
		}

		if err := tx.Model(&orderdomain.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]any{
				"project_id":  project.ID,
				"customer_id": project.CustomerID,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) moveInvoiceItems(tx *gorm.DB, resource resourcedomain.Resource, project structuredomain.Project, customer structuredomain.Customer) error {
	var items []invoicingdomain.InvoiceItem
	err := tx.
		Joins("JOIN invoices ON invoices.id = invoice_items.invoice_id").
		Where("invoice_items.resource_id = ? AND invoices.state = ?",
			resource.ID, invoicingdomain.InvoiceStatePending).
		Find(&items).Error
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	touched := make(map[snowflake.ID]struct{})
	targets := make(map[string]snowflake.ID)
	for _, item := range items {
		var source invoicingdomain.Invoice
		if err := tx.Where("id = ?", item.InvoiceID).First(&source).Error; err != nil {
			return err
		}
		touched[source.ID] = struct{}{}

		periodKey := strconv.Itoa(source.Year) + "-" + strconv.Itoa(source.Month)
		targetID, ok := targets[periodKey]
		if !ok {
			var target invoicingdomain.Invoice
			err := tx.Where("customer_id = ? AND year = ? AND month = ?",
				customer.ID, source.Year, source.Month).
				First(&target).Error
			switch {
			case err == nil:
				if target.State != invoicingdomain.InvoiceStatePending {
					return &resourcedomain.MoveResourceError{
						Reason:    fmt.Sprintf("invoice %s is not pending", target.ID),
						InvoiceID: target.ID,
					}
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				target = invoicingdomain.Invoice{
					ID:         s.genID.Generate(),
					CustomerID: customer.ID,
					Year:       source.Year,
					Month:      source.Month,
					State:      invoicingdomain.InvoiceStatePending,
				}
				if err := tx.Create(&target).Error; err != nil {
					return err
				}
			default:
				return err
			}
			targetID = target.ID
			targets[periodKey] = targetID
		}
		touched[targetID] = struct{}{}

		if err := tx.Model(&invoicingdomain.InvoiceItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{
				"invoice_id": targetID,
				"project_id": project.ID,
			}).Error; err != nil {
			return err
		}
	}

	for invoiceID := range touched {
		if err := tx.Exec(
			`UPDATE invoices SET current_cost = (
				SELECT COALESCE(SUM(quantity * unit_price), 0)
				FROM invoice_items WHERE invoice_id = ?
			) WHERE id = ?`, invoiceID, invoiceID).Error; err != nil {
			return err
		}
	}
	return nil
}

// ScheduleExpired implements domain.Service.
func (s *Service) ScheduleExpired(ctx context.Context, now time.Time) (int, error) {
	robot, err := s.structuresvc.FindUserByUsername(ctx, s.cfg.SystemRobotUsername)
	if err != nil {
		if errors.Is(err, structuredomain.ErrUserNotFound) {
			s.log.Warn("system robot account missing, skipping termination sweep",
				zap.String("username", s.cfg.SystemRobotUsername),
			)
			return 0, nil
		}
		return 0, err
	}

	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	var resources []resourcedomain.Resource
	err = s.db.WithContext(ctx).
		Where("end_date IS NOT NULL AND end_date <= ? AND state NOT IN ?", endOfDay,
			[]resourcedomain.ResourceState{
				resourcedomain.ResourceStateTerminated,
				resourcedomain.ResourceStateTerminating,
			}).
		Find(&resources).Error
	if err != nil {
		return 0, err
	}

	return s.submitTerminations(ctx, resources, robot)
}

// ScheduleTerminationForProject implements domain.Service.
func (s *Service) ScheduleTerminationForProject(ctx context.Context, projectID snowflake.ID) (int, error) {
	robot, err := s.structuresvc.FindUserByUsername(ctx, s.cfg.SystemRobotUsername)
	if err != nil {
		if errors.Is(err, structuredomain.ErrUserNotFound) {
			s.log.Warn("system robot account missing, skipping termination sweep",
				zap.String("username", s.cfg.SystemRobotUsername),
			)
			return 0, nil
		}
		return 0, err
	}

	var resources []resourcedomain.Resource
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND state NOT IN ?", projectID,
			[]resourcedomain.ResourceState{
				resourcedomain.ResourceStateTerminated,
				resourcedomain.ResourceStateTerminating,
			}).
		Find(&resources).Error
	if err != nil {
		return 0, err
	}

	return s.submitTerminations(ctx, resources, robot)
}

func (s *Service) submitTerminations(ctx context.Context, resources []resourcedomain.Resource, robot structuredomain.User) (int, error) {
	created := 0
	for _, resource := range resources {
		open, err := s.hasOpenTermination(ctx, resource.ID)
		if err != nil {
			return created, err
		}
		if open {
			continue
		}

		resp, err := s.ordersvc.Submit(ctx, orderdomain.SubmitOrderRequest{
			ProjectID: resource.ProjectID.String(),
			CreatedBy: robot.ID.String(),
			Items: []orderdomain.SubmitOrderItemRequest{{
				OfferingID: resource.OfferingID.String(),
				ResourceID: resource.ID.String(),
				Type:       orderdomain.OrderItemTypeTerminate,
			}},
		})
		if err != nil {
			s.log.Error("failed to schedule resource termination",
				zap.String("resource_id", resource.ID.String()),
				zap.Error(err),
			)
			continue
		}

		// The robot approves its own order so the termination reaches the
		// dispatcher without waiting on a human reviewer.
		err = s.ordersvc.Approve(ctx, orderdomain.ApproveOrderRequest{
			OrderID:    resp.Order.ID.String(),
			ApprovedBy: robot.ID.String(),
		})
		if err != nil {
			s.log.Error("failed to approve scheduled termination",
				zap.String("order_id", resp.Order.ID.String()),
				zap.String("resource_id", resource.ID.String()),
				zap.Error(err),
			)
			continue
		}
		created++
	}
	return created, nil
}

// hasOpenTermination reports whether a termination item is already in
// flight for the resource.
func (s *Service) hasOpenTermination(ctx context.Context, resourceID snowflake.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&orderdomain.OrderItem{}).
		Where("resource_id = ? AND type = ? AND state IN ?",
			resourceID, orderdomain.OrderItemTypeTerminate,
			[]orderdomain.OrderItemState{
				orderdomain.OrderItemStatePending,
				orderdomain.OrderItemStateExecuting,
			}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
