package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	catalogservice "github.com/stackbay/agora/internal/catalog/service"
	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/migration"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	"github.com/stackbay/agora/internal/plugin"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	structureservice "github.com/stackbay/agora/internal/structure/service"
	"github.com/stackbay/agora/internal/taskqueue"
)

type orderFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	queue *taskqueue.MemoryQueue

	plugins      *plugin.Registry
	catalogsvc   catalogdomain.Service
	structuresvc structuredomain.Service
	orders       orderdomain.Service
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	db := newTestDB(t)
	node := mustNode(t)
	fc := clock.NewFakeClock(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	plugins := plugin.NewRegistry()
	registry := taskqueue.NewRegistry()
	queue := taskqueue.NewMemoryQueue(registry, log)

	structuresvc := structureservice.NewService(structureservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
	})
	catalogsvc := catalogservice.NewService(catalogservice.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fc,
		Plugins: plugins,
	})
	orders := NewService(ServiceParam{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fc,
		Queue:        queue,
		Catalogsvc:   catalogsvc,
		Structuresvc: structuresvc,
	})

	return &orderFixture{
		db:           db,
		node:         node,
		clock:        fc,
		queue:        queue,
		plugins:      plugins,
		catalogsvc:   catalogsvc,
		structuresvc: structuresvc,
		orders:       orders,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := migration.RunMigrations(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func (f *orderFixture) createProject(t *testing.T) (structuredomain.Customer, structuredomain.Project) {
	t.Helper()
	ctx := context.Background()

	customer, err := f.structuresvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{
		Name: "customer " + f.node.Generate().String(),
	})
	require.NoError(t, err)

	project, err := f.structuresvc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID.String(),
		Name:       "project " + f.node.Generate().String(),
	})
	require.NoError(t, err)

	return customer, project
}

func (f *orderFixture) createUser(t *testing.T, username string) structuredomain.User {
	t.Helper()
	user := structuredomain.User{
		ID:       f.node.Generate(),
		Username: username,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return user
}

// createStorefront publishes an active offering with a priced plan:
// unit price 100, cpu limit component at 10 per unit (bounds 1..10) and
// a one time setup fee of 25.
func (f *orderFixture) createStorefront(t *testing.T, provider structuredomain.Customer, offeringType string) (catalogdomain.Offering, catalogdomain.Plan) {
	t.Helper()
	ctx := context.Background()

	category, err := f.catalogsvc.CreateCategory(ctx, catalogdomain.CreateCategoryRequest{
		Title: "compute " + f.node.Generate().String(),
	})
	require.NoError(t, err)

	minCPU, maxCPU := int64(1), int64(10)
	offering, err := f.catalogsvc.CreateOffering(ctx, catalogdomain.CreateOfferingRequest{
		CustomerID: provider.ID.String(),
		CategoryID: category.ID.String(),
		Name:       "offering " + f.node.Generate().String(),
		Type:       offeringType,
		Components: []catalogdomain.CreateComponentRequest{
			{
				Type:        "cpu",
				Name:        "CPU",
				BillingType: catalogdomain.BillingTypeLimit,
				MinValue:    &minCPU,
				MaxValue:    &maxCPU,
				Factor:      1,
			},
			{
				Type:        "setup",
				Name:        "Setup fee",
				BillingType: catalogdomain.BillingTypeOneTime,
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStateActive))

	plan, err := f.catalogsvc.CreatePlan(ctx, catalogdomain.CreatePlanRequest{
		OfferingID: offering.ID.String(),
		Name:       "standard",
		UnitPrice:  100,
		Components: []catalogdomain.CreatePlanComponentRequest{
			{ComponentType: "cpu", Price: 10},
			{ComponentType: "setup", Price: 25},
		},
	})
	require.NoError(t, err)

	return offering, plan
}

func TestSubmitRejectsEmptyAndMixedOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, structuredomain.Customer{ID: f.node.Generate()}, "basic")

	_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
	})
	assert.ErrorIs(t, err, orderdomain.ErrEmptyOrder)

	resourceID := f.node.Generate()
	_, err = f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
			{OfferingID: offering.ID.String(), ResourceID: resourceID.String(), Type: orderdomain.OrderItemTypeTerminate},
		},
	})
	assert.ErrorIs(t, err, orderdomain.ErrMixedItemTypes)
}

func TestSubmitRejectsBlockedCustomer(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	require.NoError(t, f.db.Model(&structuredomain.Customer{}).
		Where("id = ?", customer.ID).
		Update("blocked", true).Error)

	_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	assert.ErrorIs(t, err, structuredomain.ErrCustomerBlocked)
}

func TestSubmitTotalCostIsSumOfItemCosts(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{
				OfferingID: offering.ID.String(),
				PlanID:     plan.ID.String(),
				Type:       orderdomain.OrderItemTypeCreate,
				Limits:     map[string]int64{"cpu": 5},
			},
			{
				OfferingID: offering.ID.String(),
				PlanID:     plan.ID.String(),
				Type:       orderdomain.OrderItemTypeCreate,
				Limits:     map[string]int64{"cpu": 2},
			},
		},
	})
	require.NoError(t, err)

	// unit 100 + cpu limit * 10 + one time setup 25
	assert.InDelta(t, 175.0, resp.Items[0].Cost, 1e-9)
	assert.InDelta(t, 145.0, resp.Items[1].Cost, 1e-9)

	var sum float64
	for _, item := range resp.Items {
		sum += item.Cost
	}
	assert.InDelta(t, sum, resp.Order.TotalCost, 1e-9)
	assert.Equal(t, orderdomain.OrderStateRequested, resp.Order.State)
}

func TestSubmitValidatesLimitsBeforePersisting(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	tests := []struct {
		name    string
		limits  map[string]int64
		wantErr error
	}{
		{"unknown key", map[string]int64{"gpu": 1}, catalogdomain.ErrUnknownLimitKey},
		{"below minimum", map[string]int64{"cpu": 0}, catalogdomain.ErrLimitOutOfBounds},
		{"above maximum", map[string]int64{"cpu": 50}, catalogdomain.ErrLimitOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
				ProjectID: project.ID.String(),
				CreatedBy: user.ID.String(),
				Items: []orderdomain.SubmitOrderItemRequest{
					{
						OfferingID: offering.ID.String(),
						PlanID:     plan.ID.String(),
						Type:       orderdomain.OrderItemTypeCreate,
						Limits:     tt.limits,
					},
				},
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing may be persisted for a rejected order.
	var orders, items int64
	require.NoError(t, f.db.Model(&orderdomain.Order{}).Count(&orders).Error)
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).Count(&items).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestSubmitRejectsInactiveOffering(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStatePaused))

	_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	assert.ErrorIs(t, err, orderdomain.ErrOfferingNotOrdered)
}

func TestSubmitTerminateOnPausedOffering(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, _ := f.createStorefront(t, customer, "basic")
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStatePaused))

	// Terminating an existing resource stays possible once the offering
	// is no longer orderable.
	resourceID := f.node.Generate()
	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), ResourceID: resourceID.String(), Type: orderdomain.OrderItemTypeTerminate},
		},
	})
	require.NoError(t, err)
	assert.Zero(t, resp.Order.TotalCost)
}

func TestApproveQueuesPendingItems(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	approver := f.createUser(t, "bob")
	offering, plan := f.createStorefront(t, customer, "basic")
	remoteOffering, remotePlan := f.createStorefront(t, customer, plugin.RemoteOfferingType)

	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
			{OfferingID: remoteOffering.ID.String(), PlanID: remotePlan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	require.NoError(t, err)

	err = f.orders.Approve(ctx, orderdomain.ApproveOrderRequest{
		OrderID:    resp.Order.ID.String(),
		ApprovedBy: approver.ID.String(),
	})
	require.NoError(t, err)

	order, err := f.orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateExecuting, order.State)
	require.NotNil(t, order.ApprovedByID)
	assert.Equal(t, approver.ID, *order.ApprovedByID)
	assert.NotNil(t, order.ApprovedAt)

	// Only the local item is queued, remote deployments pull their own.
	assert.Equal(t, 1, f.queue.Pending())

	// A second approval is not a valid transition.
	err = f.orders.Approve(ctx, orderdomain.ApproveOrderRequest{
		OrderID:    resp.Order.ID.String(),
		ApprovedBy: approver.ID.String(),
	})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestRejectRequestedOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.orders.Reject(ctx, orderdomain.RejectOrderRequest{OrderID: resp.Order.ID.String()}))

	order, err := f.orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateRejected, order.State)

	err = f.orders.Reject(ctx, orderdomain.RejectOrderRequest{OrderID: resp.Order.ID.String()})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestItemCompletionSettlesOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	approver := f.createUser(t, "bob")
	offering, plan := f.createStorefront(t, customer, "basic")

	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.orders.Approve(ctx, orderdomain.ApproveOrderRequest{
		OrderID:    resp.Order.ID.String(),
		ApprovedBy: approver.ID.String(),
	}))

	first, second := resp.Items[0].ID, resp.Items[1].ID

	require.NoError(t, f.orders.SetItemExecuting(ctx, first))
	require.NoError(t, f.orders.SetItemDone(ctx, first))

	// One sibling still pending, the order keeps executing.
	order, err := f.orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateExecuting, order.State)

	require.NoError(t, f.orders.SetItemExecuting(ctx, second))
	require.NoError(t, f.orders.SetItemDone(ctx, second))

	order, err = f.orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateDone, order.State)

	item, err := f.orders.GetItem(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, item.ActivatedAt)
	assert.WithinDuration(t, f.clock.Now(), *item.ActivatedAt, time.Second)
}

func TestErredItemSettlesOrderAsErred(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	approver := f.createUser(t, "bob")
	offering, plan := f.createStorefront(t, customer, "basic")

	resp, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.orders.Approve(ctx, orderdomain.ApproveOrderRequest{
		OrderID:    resp.Order.ID.String(),
		ApprovedBy: approver.ID.String(),
	}))

	require.NoError(t, f.orders.SetItemExecuting(ctx, resp.Items[0].ID))
	require.NoError(t, f.orders.SetItemDone(ctx, resp.Items[0].ID))

	require.NoError(t, f.orders.SetItemErred(ctx, orderdomain.FailOrderItemRequest{
		ItemID:    resp.Items[1].ID,
		Message:   "backend exploded",
		Traceback: "stack",
	}))

	order, err := f.orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateErred, order.State)

	item, err := f.orders.GetItem(ctx, resp.Items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "backend exploded", item.ErrorMessage)
	assert.Equal(t, "stack", item.ErrorTraceback)
}

func TestListOrdersPaginates(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	for i := 0; i < 3; i++ {
		_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
			ProjectID: project.ID.String(),
			CreatedBy: user.ID.String(),
			Items: []orderdomain.SubmitOrderItemRequest{
				{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
			},
		})
		require.NoError(t, err)
	}

	req := orderdomain.ListOrdersRequest{ProjectID: project.ID}
	req.PageSize = 2
	resp, err := f.orders.ListOrders(ctx, req)
	require.NoError(t, err)

	assert.Len(t, resp.Orders, 2)
	require.NotNil(t, resp.PageInfo)
	assert.True(t, resp.PageInfo.HasMore)
	assert.NotEmpty(t, resp.PageInfo.NextPageToken)
}

func TestSubmitUpdateRequiresResource(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeUpdate},
		},
	})
	assert.ErrorIs(t, err, orderdomain.ErrResourceRequired)
}

func TestSubmitPlanCapacityReached(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	customer, project := f.createProject(t)
	user := f.createUser(t, "alice")
	offering, plan := f.createStorefront(t, customer, "basic")

	// Cap the plan at zero resources.
	require.NoError(t, f.db.Model(&catalogdomain.Plan{}).
		Where("id = ?", plan.ID).
		Update("max_amount", 0).Error)

	_, err := f.orders.Submit(ctx, orderdomain.SubmitOrderRequest{
		ProjectID: project.ID.String(),
		CreatedBy: user.ID.String(),
		Items: []orderdomain.SubmitOrderItemRequest{
			{OfferingID: offering.ID.String(), PlanID: plan.ID.String(), Type: orderdomain.OrderItemTypeCreate},
		},
	})
	assert.True(t, errors.Is(err, orderdomain.ErrPlanCapacityReached))
}
