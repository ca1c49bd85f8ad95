package scheduler

import (
	"context"
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
	"github.com/stackbay/agora/internal/config"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	invoicingservice "github.com/stackbay/agora/internal/invoicing/service"
	"github.com/stackbay/agora/internal/migration"
	"github.com/stackbay/agora/internal/notification"
	"github.com/stackbay/agora/internal/observability/metrics"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	orderservice "github.com/stackbay/agora/internal/order/service"
	"github.com/stackbay/agora/internal/plugin"
	quotaservice "github.com/stackbay/agora/internal/quota/service"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	resourceservice "github.com/stackbay/agora/internal/resource/service"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	structureservice "github.com/stackbay/agora/internal/structure/service"
	"github.com/stackbay/agora/internal/taskqueue"
)

// captureNotifier records every message instead of delivering it.
type captureNotifier struct {
	messages []notification.Message
}

func (n *captureNotifier) Notify(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

type schedulerFixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	marketplace *config.MarketplaceConfigHolder
	notifier    *captureNotifier

	catalogsvc   catalogdomain.Service
	structuresvc structuredomain.Service
	orders       orderdomain.Service
	resources    resourcedomain.Service
	scheduler    *Scheduler
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	metrics.ResetForTest()

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

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{SystemRobotUsername: "system_robot"}

	marketplace := &config.MarketplaceConfigHolder{}
	marketplace.Set(config.DefaultMarketplaceConfig())
	notifier := &captureNotifier{}

	registry := taskqueue.NewRegistry()
	queue := taskqueue.NewMemoryQueue(registry, log)

	structuresvc := structureservice.NewService(structureservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fc,
	})
	catalogsvc := catalogservice.NewService(catalogservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fc, Plugins: plugin.NewRegistry(),
	})
	quotasvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fc,
	})
	orders := orderservice.NewService(orderservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fc, Queue: queue,
		Catalogsvc: catalogsvc, Structuresvc: structuresvc,
	})
	invoicingsvc := invoicingservice.NewService(invoicingservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fc, Structuresvc: structuresvc,
	})
	resources := resourceservice.NewService(resourceservice.ServiceParam{
		DB: db, Log: log, Cfg: cfg, GenID: node, Clock: fc,
		Catalogsvc: catalogsvc, Ordersvc: orders,
		Quotasvc: quotasvc, Structuresvc: structuresvc,
	})

	scheduler, err := New(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fc,
		Marketplace:  marketplace,
		InvoicingSvc: invoicingsvc,
		ResourceSvc:  resources,
		OrderSvc:     orders,
		StructureSvc: structuresvc,
		Notifier:     notifier,
	})
	require.NoError(t, err)

	return &schedulerFixture{
		db:           db,
		node:         node,
		clock:        fc,
		marketplace:  marketplace,
		notifier:     notifier,
		catalogsvc:   catalogsvc,
		structuresvc: structuresvc,
		orders:       orders,
		resources:    resources,
		scheduler:    scheduler,
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIsJobEnabled(t *testing.T) {
	f := newSchedulerFixture(t)

	// Empty list enables everything.
	assert.True(t, f.scheduler.isJobEnabled("usage_rollup"))
	assert.True(t, f.scheduler.isJobEnabled("stale_resources"))

	f.scheduler.cfg.EnabledJobs = []string{"Usage_Rollup"}
	assert.True(t, f.scheduler.isJobEnabled("usage_rollup"))
	assert.False(t, f.scheduler.isJobEnabled("stale_resources"))
}

func TestTerminateExpiredJobHonorsSweepFlag(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	robot := structuredomain.User{ID: f.node.Generate(), Username: "system_robot", IsActive: true}
	require.NoError(t, f.db.Create(&robot).Error)

	customer, err := f.structuresvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "acme"})
	require.NoError(t, err)
	project, err := f.structuresvc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID.String(), Name: "main",
	})
	require.NoError(t, err)
	category, err := f.catalogsvc.CreateCategory(ctx, catalogdomain.CreateCategoryRequest{Title: "compute"})
	require.NoError(t, err)
	offering, err := f.catalogsvc.CreateOffering(ctx, catalogdomain.CreateOfferingRequest{
		CustomerID: customer.ID.String(),
		CategoryID: category.ID.String(),
		Name:       "vm",
		Type:       "basic",
	})
	require.NoError(t, err)
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStateActive))

	expired, err := f.resources.ImportResource(ctx, resourcedomain.ImportResourceRequest{
		CustomerID:   customer.ID,
		ProjectID:    project.ID,
		OfferingID:   offering.ID,
		Name:         "old-vm",
		BackendState: resourcedomain.BackendStateOK,
	})
	require.NoError(t, err)
	yesterday := f.clock.Now().AddDate(0, 0, -1)
	require.NoError(t, f.db.Model(&resourcedomain.Resource{}).
		Where("id = ?", expired.ID).
		Update("end_date", yesterday).Error)

	// Sweep disabled: nothing happens.
	cfg := config.DefaultMarketplaceConfig()
	cfg.TerminationSweepEnabled = false
	f.marketplace.Set(cfg)
	require.NoError(t, f.scheduler.TerminateExpiredJob(ctx))

	var count int64
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).Count(&count).Error)
	assert.Zero(t, count)

	// Sweep enabled: one termination order appears.
	cfg.TerminationSweepEnabled = true
	f.marketplace.Set(cfg)
	require.NoError(t, f.scheduler.TerminateExpiredJob(ctx))

	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStaleOrderItemsJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	user := structuredomain.User{ID: f.node.Generate(), Username: "alice", IsActive: true}
	require.NoError(t, f.db.Create(&user).Error)

	order := orderdomain.Order{
		ID:          f.node.Generate(),
		CustomerID:  f.node.Generate(),
		ProjectID:   f.node.Generate(),
		CreatedByID: user.ID,
		State:       orderdomain.OrderStateExecuting,
	}
	require.NoError(t, f.db.Create(&order).Error)

	stale := orderdomain.OrderItem{
		ID:         f.node.Generate(),
		OrderID:    order.ID,
		OfferingID: f.node.Generate(),
		Type:       orderdomain.OrderItemTypeCreate,
		State:      orderdomain.OrderItemStateExecuting,
	}
	require.NoError(t, f.db.Create(&stale).Error)
	staleSince := f.clock.Now().Add(-6 * time.Hour)
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).
		Where("id = ?", stale.ID).
		Update("updated_at", staleSince).Error)

	fresh := orderdomain.OrderItem{
		ID:         f.node.Generate(),
		OrderID:    order.ID,
		OfferingID: f.node.Generate(),
		Type:       orderdomain.OrderItemTypeCreate,
		State:      orderdomain.OrderItemStateExecuting,
	}
	require.NoError(t, f.db.Create(&fresh).Error)
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).
		Where("id = ?", fresh.ID).
		Update("updated_at", f.clock.Now()).Error)

	require.NoError(t, f.scheduler.StaleOrderItemsJob(ctx))

	got, err := f.orders.GetItem(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderItemStateErred, got.State)
	assert.Equal(t,
		fmt.Sprintf("order item stuck in executing for more than %s", 4*time.Hour),
		got.ErrorMessage)

	kept, err := f.orders.GetItem(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderItemStateExecuting, kept.State)
}

func TestStaleOrderItemsJobDisabledByThreshold(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	cfg := config.DefaultMarketplaceConfig()
	cfg.StaleOrderItemThreshold = 0
	f.marketplace.Set(cfg)

	user := structuredomain.User{ID: f.node.Generate(), Username: "alice", IsActive: true}
	require.NoError(t, f.db.Create(&user).Error)
	order := orderdomain.Order{
		ID:          f.node.Generate(),
		CustomerID:  f.node.Generate(),
		ProjectID:   f.node.Generate(),
		CreatedByID: user.ID,
		State:       orderdomain.OrderStateExecuting,
	}
	require.NoError(t, f.db.Create(&order).Error)
	item := orderdomain.OrderItem{
		ID:         f.node.Generate(),
		OrderID:    order.ID,
		OfferingID: f.node.Generate(),
		Type:       orderdomain.OrderItemTypeCreate,
		State:      orderdomain.OrderItemStateExecuting,
	}
	require.NoError(t, f.db.Create(&item).Error)
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).
		Where("id = ?", item.ID).
		Update("updated_at", f.clock.Now().Add(-100*time.Hour)).Error)

	require.NoError(t, f.scheduler.StaleOrderItemsJob(ctx))

	got, err := f.orders.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderItemStateExecuting, got.State)
}

func TestStaleResourcesJobNotifies(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	customerID := f.node.Generate()
	offering := catalogdomain.Offering{
		ID:         f.node.Generate(),
		CustomerID: f.node.Generate(),
		CategoryID: f.node.Generate(),
		Name:       "vm",
		Slug:       "vm",
		Type:       "basic",
		State:      catalogdomain.OfferingStateActive,
		Billable:   true,
	}
	require.NoError(t, f.db.Create(&offering).Error)
	resource := resourcedomain.Resource{
		ID:         f.node.Generate(),
		CustomerID: customerID,
		ProjectID:  f.node.Generate(),
		OfferingID: offering.ID,
		Name:       "idle-vm",
		State:      resourcedomain.ResourceStateOK,
	}
	require.NoError(t, f.db.Create(&resource).Error)

	require.NoError(t, f.scheduler.StaleResourcesJob(ctx))

	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Equal(t, int64(customerID), msg.CustomerID)
	assert.Contains(t, msg.Context["resources"], "idle-vm")

	// Disabled notifications keep the job silent.
	f.notifier.messages = nil
	cfg := config.DefaultMarketplaceConfig()
	cfg.EnableStaleResourceNotifications = false
	f.marketplace.Set(cfg)
	require.NoError(t, f.scheduler.StaleResourcesJob(ctx))
	assert.Empty(t, f.notifier.messages)
}

func TestProjectEndDateJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	robot := structuredomain.User{ID: f.node.Generate(), Username: "system_robot", IsActive: true}
	require.NoError(t, f.db.Create(&robot).Error)

	customer, err := f.structuresvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "acme"})
	require.NoError(t, err)
	project, err := f.structuresvc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID.String(), Name: "sunset",
	})
	require.NoError(t, err)
	lastWeek := f.clock.Now().AddDate(0, 0, -7)
	require.NoError(t, f.db.Model(&structuredomain.Project{}).
		Where("id = ?", project.ID).
		Update("end_date", lastWeek).Error)

	category, err := f.catalogsvc.CreateCategory(ctx, catalogdomain.CreateCategoryRequest{Title: "compute"})
	require.NoError(t, err)
	offering, err := f.catalogsvc.CreateOffering(ctx, catalogdomain.CreateOfferingRequest{
		CustomerID: customer.ID.String(),
		CategoryID: category.ID.String(),
		Name:       "vm",
		Type:       "basic",
	})
	require.NoError(t, err)
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStateActive))

	_, err = f.resources.ImportResource(ctx, resourcedomain.ImportResourceRequest{
		CustomerID:   customer.ID,
		ProjectID:    project.ID,
		OfferingID:   offering.ID,
		Name:         "vm-1",
		BackendState: resourcedomain.BackendStateOK,
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.ProjectEndDateJob(ctx))

	var items int64
	require.NoError(t, f.db.Model(&orderdomain.OrderItem{}).
		Where("type = ?", orderdomain.OrderItemTypeTerminate).
		Count(&items).Error)
	assert.Equal(t, int64(1), items)
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	f := newSchedulerFixture(t)

	// With flags off and an empty database every job is a no-op.
	cfg := config.DefaultMarketplaceConfig()
	cfg.TerminationSweepEnabled = false
	cfg.EnableStaleResourceNotifications = false
	cfg.StaleOrderItemThreshold = 0
	f.marketplace.Set(cfg)

	assert.NoError(t, f.scheduler.RunOnce(context.Background()))
}

func TestUsageRollupJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	customer, err := f.structuresvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "acme"})
	require.NoError(t, err)
	require.NotZero(t, customer.ID)

	require.NoError(t, f.scheduler.UsageRollupJob(ctx))

	// No usage reported: the walk completes without creating rows.
	var rows int64
	require.NoError(t, f.db.Model(&invoicingdomain.CategoryComponentUsage{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestGenerateInvoicesJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	customer, err := f.structuresvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "acme"})
	require.NoError(t, err)
	project, err := f.structuresvc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID.String(), Name: "main",
	})
	require.NoError(t, err)
	category, err := f.catalogsvc.CreateCategory(ctx, catalogdomain.CreateCategoryRequest{Title: "compute"})
	require.NoError(t, err)
	offering, err := f.catalogsvc.CreateOffering(ctx, catalogdomain.CreateOfferingRequest{
		CustomerID: customer.ID.String(),
		CategoryID: category.ID.String(),
		Name:       "vm",
		Type:       "basic",
	})
	require.NoError(t, err)
	require.NoError(t, f.catalogsvc.TransitionOffering(ctx, offering.ID, catalogdomain.OfferingStateActive))
	plan, err := f.catalogsvc.CreatePlan(ctx, catalogdomain.CreatePlanRequest{
		OfferingID: offering.ID.String(),
		Name:       "standard",
		UnitPrice:  100,
	})
	require.NoError(t, err)

	planID := plan.ID
	_, err = f.resources.ImportResource(ctx, resourcedomain.ImportResourceRequest{
		CustomerID:   customer.ID,
		ProjectID:    project.ID,
		OfferingID:   offering.ID,
		PlanID:       &planID,
		Name:         "vm-1",
		BackendState: resourcedomain.BackendStateOK,
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.GenerateInvoicesJob(ctx))

	now := f.clock.Now()
	var invoice invoicingdomain.Invoice
	require.NoError(t, f.db.Where("customer_id = ? AND year = ? AND month = ?",
		customer.ID, now.Year(), int(now.Month())).First(&invoice).Error)
	assert.Equal(t, invoicingdomain.InvoiceStatePending, invoice.State)
	assert.InDelta(t, 100.0, invoice.CurrentCost, 1e-9)

	var items []invoicingdomain.InvoiceItem
	require.NoError(t, f.db.Where("invoice_id = ?", invoice.ID).Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "vm-1 (standard)", items[0].Name)
}
