package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	"github.com/stackbay/agora/internal/observability/metrics"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	"github.com/stackbay/agora/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	structuresvc structuredomain.Service
	metrics      *metrics.PipelineMetrics

	invoiceRepo repository.Repository[invoicingdomain.Invoice]
	itemRepo    repository.Repository[invoicingdomain.InvoiceItem]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Structuresvc structuredomain.Service
}

func NewService(p ServiceParam) invoicingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoicing.service"),

		genID: p.GenID,
		clock: p.Clock,

		structuresvc: p.Structuresvc,
		metrics:      metrics.Pipeline(),

		invoiceRepo: repository.ProvideStore[invoicingdomain.Invoice](p.DB),
		itemRepo:    repository.ProvideStore[invoicingdomain.InvoiceItem](p.DB),
	}
}

// GetOrCreatePendingInvoice implements domain.Service.
func (s *Service) GetOrCreatePendingInvoice(ctx context.Context, customerID snowflake.ID, year int, month time.Month) (invoicingdomain.Invoice, error) {
	if customerID == 0 {
		return invoicingdomain.Invoice{}, invoicingdomain.ErrInvalidInvoice
	}

	var invoice invoicingdomain.Invoice
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND year = ? AND month = ?", customerID, year, int(month)).
		First(&invoice).Error
	if err == nil {
		return invoice, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return invoicingdomain.Invoice{}, err
	}

	invoice = invoicingdomain.Invoice{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Year:       year,
		Month:      int(month),
		State:      invoicingdomain.InvoiceStatePending,
	}
	if err := s.invoiceRepo.Create(ctx, &invoice); err != nil {
		return invoicingdomain.Invoice{}, err
	}
	return invoice, nil
}

// GetInvoice implements domain.Service.
func (s *Service) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (invoicingdomain.Invoice, error) {
	invoice, err := s.invoiceRepo.FindOne(ctx, &invoicingdomain.Invoice{ID: invoiceID})
	if err != nil {
		return invoicingdomain.Invoice{}, err
	}
	if invoice == nil {
		return invoicingdomain.Invoice{}, invoicingdomain.ErrInvoiceNotFound
	}
	return *invoice, nil
}

// ListItems implements domain.Service.
func (s *Service) ListItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicingdomain.InvoiceItem, error) {
	rows, err := s.itemRepo.Find(ctx, &invoicingdomain.InvoiceItem{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	items := make([]invoicingdomain.InvoiceItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// AddItem implements domain.Service.
func (s *Service) AddItem(ctx context.Context, item invoicingdomain.InvoiceItem) (invoicingdomain.InvoiceItem, error) {
	if item.InvoiceID == 0 {
		return invoicingdomain.InvoiceItem{}, invoicingdomain.ErrInvalidInvoiceItem
	}
	if item.ID == 0 {
		item.ID = s.genID.Generate()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		return s.refreshCurrentCost(tx, item.InvoiceID)
	})
	if err != nil {
		return invoicingdomain.InvoiceItem{}, err
	}
	return item, nil
}

// UpdateCurrentCost implements domain.Service.
func (s *Service) UpdateCurrentCost(ctx context.Context, invoiceID snowflake.ID) error {
	return s.refreshCurrentCost(s.db.WithContext(ctx), invoiceID)
}

func (s *Service) refreshCurrentCost(tx *gorm.DB, invoiceID snowflake.ID) error {
	return tx.Exec(
		`UPDATE invoices SET current_cost = (
			SELECT COALESCE(SUM(quantity * unit_price), 0)
			FROM invoice_items WHERE invoice_id = ?
		) WHERE id = ?`, invoiceID, invoiceID).Error
}

// UpdateItemQuantity implements domain.Service. The change is written
// back to the latest usage report of the same resource, component and
// billing month so reported usage and the invoice stay in agreement.
func (s *Service) UpdateItemQuantity(ctx context.Context, itemID snowflake.ID, quantity float64) error {
	if quantity < 0 {
		return invoicingdomain.ErrInvalidQuantity
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item invoicingdomain.InvoiceItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicingdomain.ErrItemNotFound
			}
			return err
		}
		if item.ResourceID == nil {
			return invoicingdomain.ErrResourceNotFound
		}

		planComponentID, err := detailID(item, invoicingdomain.DetailKeyPlanComponentID)
		if err != nil {
			return err
		}

		var planComponent catalogdomain.PlanComponent
		if err := tx.Where("id = ?", planComponentID).First(&planComponent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicingdomain.ErrComponentNotFound
			}
			return err
		}
		var component catalogdomain.OfferingComponent
		if err := tx.Where("id = ?", planComponent.ComponentID).First(&component).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicingdomain.ErrComponentNotFound
			}
			return err
		}
		if component.BillingType != catalogdomain.BillingTypeUsage {
			return invoicingdomain.ErrNotUsageBased
		}

		var invoice invoicingdomain.Invoice
		if err := tx.Where("id = ?", item.InvoiceID).First(&invoice).Error; err != nil {
			return err
		}
		billingPeriod := time.Date(invoice.Year, time.Month(invoice.Month), 1, 0, 0, 0, 0, time.UTC)

		var usage quotadomain.ComponentUsage
		err = tx.Where("resource_id = ? AND component_id = ? AND billing_period = ?",
			*item.ResourceID, component.ID, billingPeriod).
			Order("date DESC").
			First(&usage).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicingdomain.ErrUsageNotFound
			}
			return err
		}

		if err := tx.Model(&quotadomain.ComponentUsage{}).
			Where("id = ?", usage.ID).
			Update("usage_value", int64(quantity)).Error; err != nil {
			return err
		}

		if err := tx.Model(&invoicingdomain.InvoiceItem{}).
			Where("id = ?", itemID).
			Update("quantity", quantity).Error; err != nil {
			return err
		}

		return s.refreshCurrentCost(tx, item.InvoiceID)
	})
}

func detailID(item invoicingdomain.InvoiceItem, key string) (snowflake.ID, error) {
	raw, ok := item.Details[key].(string)
	if !ok {
		return 0, invoicingdomain.ErrComponentNotFound
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, invoicingdomain.ErrComponentNotFound
	}
	return id, nil
}

// AggregateReportedUsage implements domain.Service.
func (s *Service) AggregateReportedUsage(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) ([]invoicingdomain.UsageTotal, error) {
	scopeColumn, err := scopeResourceColumn(scope)
	if err != nil {
		return nil, err
	}

	var totals []invoicingdomain.UsageTotal
	err = s.db.WithContext(ctx).Raw(`
		SELECT oc.parent_id AS category_component_id,
		       COALESCE(SUM(cu.usage_value), 0) AS total
		FROM component_usages cu
		JOIN offering_components oc ON oc.id = cu.component_id
		JOIN resources r ON r.id = cu.resource_id
		WHERE oc.parent_id IS NOT NULL
		  AND cu.date >= ? AND cu.date < ?
		  AND r.`+scopeColumn+` = ?
		GROUP BY oc.parent_id`,
		start, end, scope.ID).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// AggregateFixedUsage implements domain.Service. A plan period counts
// when it overlaps the window: started before the window closed and not
// ended before the window opened.
func (s *Service) AggregateFixedUsage(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) ([]invoicingdomain.UsageTotal, error) {
	scopeColumn, err := scopeResourceColumn(scope)
	if err != nil {
		return nil, err
	}

	var totals []invoicingdomain.UsageTotal
	err = s.db.WithContext(ctx).Raw(`
		SELECT oc.parent_id AS category_component_id,
		       COALESCE(SUM(pc.amount), 0) AS total
		FROM resource_plan_periods rpp
		JOIN plan_components pc ON pc.plan_id = rpp.plan_id
		JOIN offering_components oc ON oc.id = pc.component_id
		JOIN resources r ON r.id = rpp.resource_id
		WHERE oc.parent_id IS NOT NULL
		  AND oc.billing_type = ?
		  AND rpp.start < ?
		  AND (rpp."end" IS NULL OR rpp."end" >= ?)
		  AND r.`+scopeColumn+` = ?
		GROUP BY oc.parent_id`,
		string(catalogdomain.BillingTypeFixed), end, start, scope.ID).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// CalculateUsageForScope implements domain.Service.
func (s *Service) CalculateUsageForScope(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) error {
	reported, err := s.AggregateReportedUsage(ctx, start, end, scope)
	if err != nil {
		return err
	}
	fixed, err := s.AggregateFixedUsage(ctx, start, end, scope)
	if err != nil {
		return err
	}

	type pair struct{ reported, fixed int64 }
	merged := make(map[snowflake.ID]pair)
	for _, t := range reported {
		p := merged[t.CategoryComponentID]
		p.reported = t.Total
		merged[t.CategoryComponentID] = p
	}
	for _, t := range fixed {
		p := merged[t.CategoryComponentID]
		p.fixed = t.Total
		merged[t.CategoryComponentID] = p
	}

	for componentID, p := range merged {
		row := invoicingdomain.CategoryComponentUsage{
			ID:                  s.genID.Generate(),
			ScopeKind:           scope.Kind,
			ScopeID:             scope.ID,
			CategoryComponentID: componentID,
			Date:                start,
			ReportedUsage:       p.reported,
			FixedUsage:          p.fixed,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "scope_kind"},
					{Name: "scope_id"},
					{Name: "category_component_id"},
					{Name: "date"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"reported_usage", "fixed_usage", "updated_at"}),
			}).
			Create(&row).Error
		if err != nil {
			return err
		}
		s.metrics.IncRollupUpsert()
	}
	return nil
}

// CalculateUsageForCurrentMonth implements domain.Service.
func (s *Service) CalculateUsageForCurrentMonth(ctx context.Context) error {
	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	customers, err := s.structuresvc.ListCustomers(ctx)
	if err != nil {
		return err
	}

	for _, customer := range customers {
		scope := structuredomain.ScopeRef{Kind: structuredomain.ScopeCustomer, ID: customer.ID}
		if err := s.CalculateUsageForScope(ctx, start, end, scope); err != nil {
			return err
		}

		projects, err := s.structuresvc.ListProjects(ctx, customer.ID)
		if err != nil {
			return err
		}
		for _, project := range projects {
			scope := structuredomain.ScopeRef{Kind: structuredomain.ScopeProject, ID: project.ID}
			if err := s.CalculateUsageForScope(ctx, start, end, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateMonthlyInvoices implements domain.Service. Pending invoices of
// earlier months are frozen to created so late reports cannot change
// them, recurring usage carries over into the new billing period, and
// each billable resource on a plan gets its base line and a line per
// reported usage component on the customer's pending invoice.
func (s *Service) CreateMonthlyInvoices(ctx context.Context) error {
	now := s.clock.Now()
	periodStart := quotadomain.BillingPeriodFor(now)
	periodEnd := periodStart.AddDate(0, 1, 0)
	currentPeriod := now.Year()*12 + int(now.Month())

	err := s.db.WithContext(ctx).Model(&invoicingdomain.Invoice{}).
		Where("state = ? AND (year * 12 + month) < ?",
			invoicingdomain.InvoiceStatePending, currentPeriod).
		Update("state", invoicingdomain.InvoiceStateCreated).Error
	if err != nil {
		return err
	}

	if err := s.carryOverRecurringUsage(ctx, periodStart); err != nil {
		return err
	}

	customers, err := s.structuresvc.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, customer := range customers {
		var resources []resourcedomain.Resource
		err := s.db.WithContext(ctx).Raw(`
			SELECT r.* FROM resources r
			JOIN offerings o ON o.id = r.offering_id
			WHERE r.customer_id = ?
			  AND r.plan_id IS NOT NULL
			  AND o.billable = ?
			  AND r.state NOT IN (?, ?)`,
			customer.ID, true,
			string(resourcedomain.ResourceStateTerminated),
			string(resourcedomain.ResourceStateTerminating)).
			Scan(&resources).Error
		if err != nil {
			return err
		}
		if len(resources) == 0 {
			continue
		}

		invoice, err := s.GetOrCreatePendingInvoice(ctx, customer.ID, now.Year(), now.Month())
		if err != nil {
			return err
		}
		for _, resource := range resources {
			if err := s.ensureResourceItems(ctx, invoice, resource, periodStart, periodEnd); err != nil {
				s.log.Error("failed to invoice resource",
					zap.String("resource_id", resource.ID.String()),
					zap.String("invoice_id", invoice.ID.String()),
					zap.Error(err),
				)
				continue
			}
		}
		if err := s.UpdateCurrentCost(ctx, invoice.ID); err != nil {
			return err
		}
	}
	return nil
}

// carryOverRecurringUsage copies last month's recurring usage reports
// into the new billing period unless the resource already reported the
// component this month.
func (s *Service) carryOverRecurringUsage(ctx context.Context, periodStart time.Time) error {
	previous := periodStart.AddDate(0, -1, 0)

	var reports []quotadomain.ComponentUsage
	err := s.db.WithContext(ctx).
		Where("recurring = ? AND billing_period = ?", true, previous).
		Find(&reports).Error
	if err != nil {
		return err
	}

	for _, report := range reports {
		var count int64
		err := s.db.WithContext(ctx).Model(&quotadomain.ComponentUsage{}).
			Where("resource_id = ? AND component_id = ? AND billing_period = ?",
				report.ResourceID, report.ComponentID, periodStart).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		carried := quotadomain.ComponentUsage{
			ID:            s.genID.Generate(),
			ResourceID:    report.ResourceID,
			ComponentID:   report.ComponentID,
			PlanPeriodID:  report.PlanPeriodID,
			Usage:         report.Usage,
			Date:          periodStart,
			BillingPeriod: periodStart,
			Recurring:     true,
			Description:   report.Description,
		}
		if err := s.db.WithContext(ctx).Create(&carried).Error; err != nil {
			return err
		}
	}
	return nil
}

// ensureResourceItems writes the resource's lines for the billing
// window. The base line covers the plan's unit price plus its fixed
// components, one line per usage component mirrors the latest report.
// Existing lines are updated in place.
func (s *Service) ensureResourceItems(ctx context.Context, invoice invoicingdomain.Invoice, resource resourcedomain.Resource, start, end time.Time) error {
	var plan catalogdomain.Plan
	if err := s.db.WithContext(ctx).Where("id = ?", *resource.PlanID).First(&plan).Error; err != nil {
		return err
	}

	var planComponents []catalogdomain.PlanComponent
	if err := s.db.WithContext(ctx).Where("plan_id = ?", plan.ID).Find(&planComponents).Error; err != nil {
		return err
	}

	var existing []invoicingdomain.InvoiceItem
	err := s.db.WithContext(ctx).
		Where("invoice_id = ? AND resource_id = ?", invoice.ID, resource.ID).
		Find(&existing).Error
	if err != nil {
		return err
	}
	byComponent := make(map[string]invoicingdomain.InvoiceItem)
	haveBase := false
	for _, item := range existing {
		if raw, ok := item.Details[invoicingdomain.DetailKeyPlanComponentID].(string); ok {
			byComponent[raw] = item
			continue
		}
		if _, ok := item.Details[invoicingdomain.DetailKeyPlanID]; ok {
			haveBase = true
		}
	}

	type usageLine struct {
		planComponent catalogdomain.PlanComponent
		component     catalogdomain.OfferingComponent
	}
	basePrice := plan.UnitPrice
	var usageLines []usageLine
	for _, pc := range planComponents {
		var component catalogdomain.OfferingComponent
		if err := s.db.WithContext(ctx).Where("id = ?", pc.ComponentID).First(&component).Error; err != nil {
			return err
		}
		switch component.BillingType {
		case catalogdomain.BillingTypeFixed:
			basePrice += pc.Price * float64(pc.Amount)
		case catalogdomain.BillingTypeUsage:
			usageLines = append(usageLines, usageLine{planComponent: pc, component: component})
		}
	}

	if !haveBase {
		resourceID := resource.ID
		projectID := resource.ProjectID
		_, err := s.AddItem(ctx, invoicingdomain.InvoiceItem{
			InvoiceID:  invoice.ID,
			ResourceID: &resourceID,
			ProjectID:  &projectID,
			Name:       fmt.Sprintf("%s (%s)", resource.Name, plan.Name),
			Quantity:   1,
			UnitPrice:  basePrice,
			Start:      start,
			End:        end,
			Details: datatypes.JSONMap{
				invoicingdomain.DetailKeyPlanID: plan.ID.String(),
			},
		})
		if err != nil {
			return err
		}
	}

	for _, line := range usageLines {
		var usage quotadomain.ComponentUsage
		err := s.db.WithContext(ctx).
			Where("resource_id = ? AND component_id = ? AND billing_period = ?",
				resource.ID, line.component.ID, start).
			Order("date DESC").
			First(&usage).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return err
		}

		quantity := float64(usage.Usage)
		if item, ok := byComponent[line.planComponent.ID.String()]; ok {
			if item.Quantity == quantity {
				continue
			}
			err := s.db.WithContext(ctx).Model(&invoicingdomain.InvoiceItem{}).
				Where("id = ?", item.ID).
				Update("quantity", quantity).Error
			if err != nil {
				return err
			}
			continue
		}

		resourceID := resource.ID
		projectID := resource.ProjectID
		_, err = s.AddItem(ctx, invoicingdomain.InvoiceItem{
			InvoiceID:  invoice.ID,
			ResourceID: &resourceID,
			ProjectID:  &projectID,
			Name:       fmt.Sprintf("%s / %s", resource.Name, line.component.Name),
			Quantity:   quantity,
			UnitPrice:  line.planComponent.Price,
			Start:      start,
			End:        end,
			Details: datatypes.JSONMap{
				invoicingdomain.DetailKeyPlanComponentID:       line.planComponent.ID.String(),
				invoicingdomain.DetailKeyOfferingComponentType: line.component.Type,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// StaleResources implements domain.Service.
func (s *Service) StaleResources(ctx context.Context, now time.Time) (map[snowflake.ID][]invoicingdomain.StaleResource, error) {
	earliest := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -2, 0)
	periodFloor := earliest.Year()*12 + int(earliest.Month())

	var rows []invoicingdomain.StaleResource
	err := s.db.WithContext(ctx).Raw(`
		SELECT r.id AS resource_id, r.name AS resource_name, r.customer_id
		FROM resources r
		JOIN offerings o ON o.id = r.offering_id
		WHERE r.state NOT IN (?, ?, ?)
		  AND o.billable = ?
		  AND NOT EXISTS (
			SELECT 1 FROM invoice_items ii
			JOIN invoices i ON i.id = ii.invoice_id
			WHERE ii.resource_id = r.id
			  AND ii.quantity * ii.unit_price > 0
			  AND (i.year * 12 + i.month) >= ?
		  )`,
		string(resourcedomain.ResourceStateTerminated),
		string(resourcedomain.ResourceStateTerminating),
		string(resourcedomain.ResourceStateCreating),
		true,
		periodFloor).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	grouped := make(map[snowflake.ID][]invoicingdomain.StaleResource)
	for _, row := range rows {
		grouped[row.CustomerID] = append(grouped[row.CustomerID], row)
	}
	return grouped, nil
}

func scopeResourceColumn(scope structuredomain.ScopeRef) (string, error) {
	switch scope.Kind {
	case structuredomain.ScopeCustomer:
		return "customer_id", nil
	case structuredomain.ScopeProject:
		return "project_id", nil
	default:
		return "", invoicingdomain.ErrInvalidInvoice
	}
}
