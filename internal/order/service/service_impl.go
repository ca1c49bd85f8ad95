package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	"github.com/stackbay/agora/internal/plugin"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	"github.com/stackbay/agora/internal/taskqueue"
	"github.com/stackbay/agora/pkg/db/option"
	"github.com/stackbay/agora/pkg/db/pagination"
	"github.com/stackbay/agora/pkg/repository"
)

// TaskProcessOrderItem is the queue task fulfilling one approved item.
const TaskProcessOrderItem = "order.process"

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	queue taskqueue.Queue

	catalogsvc   catalogdomain.Service
	structuresvc structuredomain.Service

	orderRepo repository.Repository[orderdomain.Order]
	itemRepo  repository.Repository[orderdomain.OrderItem]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Queue taskqueue.Queue

	Catalogsvc   catalogdomain.Service
	Structuresvc structuredomain.Service
}

func NewService(p ServiceParam) orderdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("order.service"),

		genID: p.GenID,
		clock: p.Clock,
		queue: p.Queue,

		catalogsvc:   p.Catalogsvc,
		structuresvc: p.Structuresvc,

		orderRepo: repository.ProvideStore[orderdomain.Order](p.DB),
		itemRepo:  repository.ProvideStore[orderdomain.OrderItem](p.DB),
	}
}

// Submit implements domain.Service. Every item is validated and priced
// before anything is persisted.
func (s *Service) Submit(ctx context.Context, req orderdomain.SubmitOrderRequest) (orderdomain.SubmitOrderResponse, error) {
	projectID, err := s.parseID(req.ProjectID, orderdomain.ErrInvalidProject)
	if err != nil {
		return orderdomain.SubmitOrderResponse{}, err
	}
	createdByID, err := s.parseID(req.CreatedBy, orderdomain.ErrInvalidUser)
	if err != nil {
		return orderdomain.SubmitOrderResponse{}, err
	}

	if len(req.Items) == 0 {
		return orderdomain.SubmitOrderResponse{}, orderdomain.ErrEmptyOrder
	}
	itemType := req.Items[0].Type
	for _, item := range req.Items[1:] {
		if item.Type != itemType {
			return orderdomain.SubmitOrderResponse{}, orderdomain.ErrMixedItemTypes
		}
	}

	project, err := s.structuresvc.GetProject(ctx, projectID)
	if err != nil {
		return orderdomain.SubmitOrderResponse{}, err
	}
	customer, err := s.structuresvc.GetCustomer(ctx, project.CustomerID)
	if err != nil {
		return orderdomain.SubmitOrderResponse{}, err
	}
	if customer.Blocked {
		return orderdomain.SubmitOrderResponse{}, structuredomain.ErrCustomerBlocked
	}

	items := make([]orderdomain.OrderItem, 0, len(req.Items))
	var totalCost float64
	for _, itemReq := range req.Items {
		item, err := s.buildItem(ctx, project, itemReq)
		if err != nil {
			return orderdomain.SubmitOrderResponse{}, err
		}
		totalCost += item.Cost
		items = append(items, item)
	}

	order := orderdomain.Order{
		ID:          s.genID.Generate(),
		CustomerID:  project.CustomerID,
		ProjectID:   projectID,
		State:       orderdomain.OrderStateRequested,
		CreatedByID: createdByID,
		TotalCost:   totalCost,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return orderdomain.SubmitOrderResponse{}, err
	}

	return orderdomain.SubmitOrderResponse{Order: order, Items: items}, nil
}

func (s *Service) buildItem(ctx context.Context, project structuredomain.Project, req orderdomain.SubmitOrderItemRequest) (orderdomain.OrderItem, error) {
	offeringID, err := s.parseID(req.OfferingID, orderdomain.ErrInvalidOffering)
	if err != nil {
		return orderdomain.OrderItem{}, err
	}

	offering, err := s.catalogsvc.GetOffering(ctx, offeringID)
	if err != nil {
		return orderdomain.OrderItem{}, err
	}
	item := orderdomain.OrderItem{
		ID:         s.genID.Generate(),
		OfferingID: offeringID,
		Type:       req.Type,
		State:      orderdomain.OrderItemStatePending,
		Limits:     orderdomain.LimitsJSON(req.Limits),
		Attributes: toJSONMap(req.Attributes),
	}

	if strings.TrimSpace(req.ResourceID) != "" {
		resourceID, err := s.parseID(req.ResourceID, orderdomain.ErrInvalidOrderItem)
		if err != nil {
			return orderdomain.OrderItem{}, err
		}
		item.ResourceID = &resourceID
	}

	switch req.Type {
	case orderdomain.OrderItemTypeCreate:
		if offering.State != catalogdomain.OfferingStateActive {
			return orderdomain.OrderItem{}, orderdomain.ErrOfferingNotOrdered
		}
		if !offering.Shared && !s.offeringBelongsTo(offering, project) {
			return orderdomain.OrderItem{}, orderdomain.ErrOfferingNotOrdered
		}
		if strings.TrimSpace(req.PlanID) == "" {
			return orderdomain.OrderItem{}, orderdomain.ErrPlanRequired
		}
		if err := s.validateLimitBounds(ctx, offeringID, req.Limits); err != nil {
			return orderdomain.OrderItem{}, err
		}

		detail, err := s.planDetailFor(ctx, offering, req.PlanID)
		if err != nil {
			return orderdomain.OrderItem{}, err
		}
		active, err := s.catalogsvc.PlanIsActive(ctx, detail.Plan.ID)
		if err != nil {
			return orderdomain.OrderItem{}, err
		}
		if !active {
			return orderdomain.OrderItem{}, orderdomain.ErrPlanCapacityReached
		}

		item.PlanID = &detail.Plan.ID
		item.Cost = detail.GetEstimate(req.Limits) + detail.InitPrice()

	case orderdomain.OrderItemTypeUpdate:
		if item.ResourceID == nil {
			return orderdomain.OrderItem{}, orderdomain.ErrResourceRequired
		}
		if len(req.Limits) > 0 {
			if err := s.catalogsvc.ValidateLimits(ctx, offeringID, req.Limits); err != nil {
				return orderdomain.OrderItem{}, err
			}
		}
		if strings.TrimSpace(req.PlanID) != "" {
			detail, err := s.planDetailFor(ctx, offering, req.PlanID)
			if err != nil {
				return orderdomain.OrderItem{}, err
			}
			item.PlanID = &detail.Plan.ID
			item.Cost = detail.GetEstimate(req.Limits) + detail.SwitchPrice()
		}

	case orderdomain.OrderItemTypeTerminate:
		if item.ResourceID == nil {
			return orderdomain.OrderItem{}, orderdomain.ErrResourceRequired
		}

	default:
		return orderdomain.OrderItem{}, orderdomain.ErrInvalidOrderItem
	}

	return item, nil
}

// validateLimitBounds checks create-item limits against the offering's
// limit components without requiring plugin limit-update support.
func (s *Service) validateLimitBounds(ctx context.Context, offeringID snowflake.ID, limits map[string]int64) error {
	if len(limits) == 0 {
		return nil
	}

	components, err := s.catalogsvc.GetComponents(ctx, offeringID)
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

func (s *Service) planDetailFor(ctx context.Context, offering catalogdomain.Offering, planID string) (catalogdomain.PlanDetail, error) {
	id, err := s.parseID(planID, orderdomain.ErrInvalidPlan)
	if err != nil {
		return catalogdomain.PlanDetail{}, err
	}
	detail, err := s.catalogsvc.GetPlanDetail(ctx, id)
	if err != nil {
		return catalogdomain.PlanDetail{}, err
	}
	if detail.Plan.OfferingID != offering.ID {
		return catalogdomain.PlanDetail{}, orderdomain.ErrInvalidPlan
	}
	return detail, nil
}

func (s *Service) offeringBelongsTo(offering catalogdomain.Offering, project structuredomain.Project) bool {
	if offering.CustomerID == project.CustomerID {
		return true
	}
	return offering.ProjectID != nil && *offering.ProjectID == project.ID
}

// Approve implements domain.Service. Processing tasks are submitted
// only after the transaction commits so the consumer always sees the
// approved order.
func (s *Service) Approve(ctx context.Context, req orderdomain.ApproveOrderRequest) error {
	orderID, err := s.parseID(req.OrderID, orderdomain.ErrInvalidOrder)
	if err != nil {
		return err
	}
	approverID, err := s.parseID(req.ApprovedBy, orderdomain.ErrInvalidUser)
	if err != nil {
		return err
	}

	var items []orderdomain.OrderItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order orderdomain.Order
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return orderdomain.ErrOrderNotFound
			}
			return err
		}
		if !orderdomain.IsOrderTransitionAllowed(order.State, orderdomain.OrderStateExecuting) {
			return orderdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := tx.Model(&orderdomain.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]any{
				"state":          orderdomain.OrderStateExecuting,
				"approved_by_id": approverID,
				"approved_at":    now,
			}).Error; err != nil {
			return err
		}

		return tx.Where("order_id = ?", orderID).Find(&items).Error
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.State != orderdomain.OrderItemStatePending {
			continue
		}
		offering, err := s.catalogsvc.GetOffering(ctx, item.OfferingID)
		if err != nil {
			return err
		}
		if offering.Type == plugin.RemoteOfferingType {
			continue
		}
		if err := s.queue.Submit(ctx, TaskProcessOrderItem, map[string]any{
			"order_item_id": item.ID.String(),
		}); err != nil {
			s.log.Error("failed to queue order item",
				zap.String("order_item_id", item.ID.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

// Reject implements domain.Service.
func (s *Service) Reject(ctx context.Context, req orderdomain.RejectOrderRequest) error {
	orderID, err := s.parseID(req.OrderID, orderdomain.ErrInvalidOrder)
	if err != nil {
		return err
	}
	return s.transitionOrder(ctx, orderID, orderdomain.OrderStateRejected)
}

// Terminate implements domain.Service.
func (s *Service) Terminate(ctx context.Context, orderID snowflake.ID) error {
	return s.transitionOrder(ctx, orderID, orderdomain.OrderStateTerminated)
}

// Fail implements domain.Service.
func (s *Service) Fail(ctx context.Context, orderID snowflake.ID) error {
	return s.transitionOrder(ctx, orderID, orderdomain.OrderStateErred)
}

func (s *Service) transitionOrder(ctx context.Context, orderID snowflake.ID, target orderdomain.OrderState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order orderdomain.Order
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return orderdomain.ErrOrderNotFound
			}
			return err
		}
		if !orderdomain.IsOrderTransitionAllowed(order.State, target) {
			return orderdomain.ErrInvalidTransition
		}
		return tx.Model(&orderdomain.Order{}).
			Where("id = ?", orderID).
			Update("state", target).Error
	})
}

// GetOrder implements domain.Service.
func (s *Service) GetOrder(ctx context.Context, orderID snowflake.ID) (orderdomain.Order, error) {
	order, err := s.orderRepo.FindOne(ctx, &orderdomain.Order{ID: orderID})
	if err != nil {
		return orderdomain.Order{}, err
	}
	if order == nil {
		return orderdomain.Order{}, orderdomain.ErrOrderNotFound
	}
	return *order, nil
}

// ListOrders implements domain.Service. Results are newest first and
// paginated with an opaque cursor token.
func (s *Service) ListOrders(ctx context.Context, req orderdomain.ListOrdersRequest) (orderdomain.ListOrdersResponse, error) {
	filter := orderdomain.Order{}
	if req.ProjectID != 0 {
		filter.ProjectID = req.ProjectID
	}
	if req.State != "" {
		filter.State = req.State
	}

	size := req.PageSize
	if size <= 0 {
		size = 10
	}

	rows, err := s.orderRepo.Find(ctx, &filter,
		option.WithSortBy("created_at", "desc", map[string]bool{"created_at": true}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return orderdomain.ListOrdersResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(size), func(o *orderdomain.Order) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        o.ID.String(),
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	if len(rows) > size {
		rows = rows[:size]
	}

	orders := make([]orderdomain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, *row)
	}
	return orderdomain.ListOrdersResponse{Orders: orders, PageInfo: pageInfo}, nil
}

// GetItem implements domain.Service.
func (s *Service) GetItem(ctx context.Context, itemID snowflake.ID) (orderdomain.OrderItem, error) {
	item, err := s.itemRepo.FindOne(ctx, &orderdomain.OrderItem{ID: itemID})
	if err != nil {
		return orderdomain.OrderItem{}, err
	}
	if item == nil {
		return orderdomain.OrderItem{}, orderdomain.ErrOrderItemNotFound
	}
	return *item, nil
}

// ListItems implements domain.Service.
func (s *Service) ListItems(ctx context.Context, orderID snowflake.ID) ([]orderdomain.OrderItem, error) {
	rows, err := s.itemRepo.Find(ctx, &orderdomain.OrderItem{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	items := make([]orderdomain.OrderItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// SetItemExecuting implements domain.Service.
func (s *Service) SetItemExecuting(ctx context.Context, itemID snowflake.ID) error {
	return s.transitionItem(ctx, itemID, orderdomain.OrderItemStateExecuting, nil)
}

// SetItemDone implements domain.Service.
func (s *Service) SetItemDone(ctx context.Context, itemID snowflake.ID) error {
	now := s.clock.Now()
	return s.transitionItem(ctx, itemID, orderdomain.OrderItemStateDone, map[string]any{
		"activated_at": now,
	})
}

// SetItemErred implements domain.Service.
func (s *Service) SetItemErred(ctx context.Context, req orderdomain.FailOrderItemRequest) error {
	return s.transitionItem(ctx, req.ItemID, orderdomain.OrderItemStateErred, map[string]any{
		"error_message":   req.Message,
		"error_traceback": req.Traceback,
	})
}

// SetItemTerminating implements domain.Service.
func (s *Service) SetItemTerminating(ctx context.Context, itemID snowflake.ID) error {
	return s.transitionItem(ctx, itemID, orderdomain.OrderItemStateTerminating, nil)
}

// SetItemTerminated implements domain.Service.
func (s *Service) SetItemTerminated(ctx context.Context, itemID snowflake.ID) error {
	return s.transitionItem(ctx, itemID, orderdomain.OrderItemStateTerminated, nil)
}

// SetItemResource implements domain.Service.
func (s *Service) SetItemResource(ctx context.Context, itemID, resourceID snowflake.ID) error {
	result := s.db.WithContext(ctx).
		Model(&orderdomain.OrderItem{}).
		Where("id = ?", itemID).
		Update("resource_id", resourceID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return orderdomain.ErrOrderItemNotFound
	}
	return nil
}

func (s *Service) transitionItem(ctx context.Context, itemID snowflake.ID, target orderdomain.OrderItemState, extra map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item orderdomain.OrderItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return orderdomain.ErrOrderItemNotFound
			}
			return err
		}
		if !orderdomain.IsItemTransitionAllowed(item.State, target) {
			return orderdomain.ErrInvalidTransition
		}

		updates := map[string]any{"state": target}
		for k, v := range extra {
			updates[k] = v
		}
		if err := tx.Model(&orderdomain.OrderItem{}).
			Where("id = ?", itemID).
			Updates(updates).Error; err != nil {
			return err
		}

		if target == orderdomain.OrderItemStateDone ||
			target == orderdomain.OrderItemStateErred ||
			target == orderdomain.OrderItemStateTerminated {
			return s.completeOrderIfFinished(tx, item.OrderID)
		}
		return nil
	})
}

// completeOrderIfFinished moves an executing order to done or erred once
// all of its items reached a terminal state.
func (s *Service) completeOrderIfFinished(tx *gorm.DB, orderID snowflake.ID) error {
	var order orderdomain.Order
	if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
		return err
	}
	if order.State != orderdomain.OrderStateExecuting {
		return nil
	}

	var pending int64
	err := tx.Model(&orderdomain.OrderItem{}).
		Where("order_id = ? AND state NOT IN ?", orderID,
			[]orderdomain.OrderItemState{
				orderdomain.OrderItemStateDone,
				orderdomain.OrderItemStateErred,
				orderdomain.OrderItemStateTerminated,
			}).
		Count(&pending).Error
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	var erred int64
	err = tx.Model(&orderdomain.OrderItem{}).
		Where("order_id = ? AND state = ?", orderID, orderdomain.OrderItemStateErred).
		Count(&erred).Error
	if err != nil {
		return err
	}

	target := orderdomain.OrderStateDone
	if erred > 0 {
		target = orderdomain.OrderStateErred
	}
	return tx.Model(&orderdomain.Order{}).
		Where("id = ?", orderID).
		Update("state", target).Error
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
