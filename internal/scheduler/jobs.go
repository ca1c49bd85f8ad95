package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stackbay/agora/internal/notification"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
)

// UsageRollupJob recomputes the category component usage rows for the
// current month across all customers and projects. Re-running is safe,
// rows are upserted.
func (s *Scheduler) UsageRollupJob(ctx context.Context) error {
	return s.invoicingSvc.CalculateUsageForCurrentMonth(ctx)
}

// GenerateInvoicesJob rolls the billing month over: earlier pending
// invoices are frozen, recurring usage is carried forward and the
// current month's invoice lines are written for every customer.
func (s *Scheduler) GenerateInvoicesJob(ctx context.Context) error {
	return s.invoicingSvc.CreateMonthlyInvoices(ctx)
}

// TerminateExpiredJob submits termination orders for resources whose end
// date has passed.
func (s *Scheduler) TerminateExpiredJob(ctx context.Context) error {
	if !s.marketplace.Get().TerminationSweepEnabled {
		return nil
	}

	created, err := s.resourceSvc.ScheduleExpired(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if created > 0 {
		s.log.Info("scheduled expired resources for termination", zap.Int("orders", created))
	}
	return nil
}

// ProjectEndDateJob terminates the resources of projects past their end
// date.
func (s *Scheduler) ProjectEndDateJob(ctx context.Context) error {
	if !s.marketplace.Get().TerminationSweepEnabled {
		return nil
	}

	projects, err := s.structureSvc.ExpiredProjects(ctx, s.clock.Now())
	if err != nil {
		return err
	}

	for _, project := range projects {
		created, err := s.resourceSvc.ScheduleTerminationForProject(ctx, project.ID)
		if err != nil {
			return err
		}
		if created > 0 {
			s.log.Info("scheduled project resources for termination",
				zap.String("project_id", project.ID.String()),
				zap.Int("orders", created),
			)
		}
	}
	return nil
}

// StaleResourcesJob notifies customer owners about resources that have
// produced no billable charge over the current and two prior months.
func (s *Scheduler) StaleResourcesJob(ctx context.Context) error {
	if !s.marketplace.Get().EnableStaleResourceNotifications {
		return nil
	}

	grouped, err := s.invoicingSvc.StaleResources(ctx, s.clock.Now())
	if err != nil {
		return err
	}

	for customerID, resources := range grouped {
		names := make([]string, 0, len(resources))
		for _, resource := range resources {
			names = append(names, resource.ResourceName)
		}
		err := s.notifier.Notify(ctx, notification.Message{
			CustomerID: int64(customerID),
			Subject:    "Resources without billable activity",
			Body:       fmt.Sprintf("%d resources produced no charges for three months", len(resources)),
			Context:    map[string]any{"resources": strings.Join(names, ", ")},
		})
		if err != nil {
			s.log.Warn("stale resource notification failed",
				zap.String("customer_id", customerID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// StaleOrderItemsJob fails order items stuck in executing longer than
// the configured threshold, so their orders can settle.
func (s *Scheduler) StaleOrderItemsJob(ctx context.Context) error {
	threshold := s.marketplace.Get().StaleOrderItemThreshold
	if threshold <= 0 {
		return nil
	}
	cutoff := s.clock.Now().Add(-threshold)

	var items []orderdomain.OrderItem
	err := s.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", orderdomain.OrderItemStateExecuting, cutoff).
		Limit(s.cfg.BatchSize).
		Find(&items).Error
	if err != nil {
		return err
	}

	for _, item := range items {
		err := s.orderSvc.SetItemErred(ctx, orderdomain.FailOrderItemRequest{
			ItemID:  item.ID,
			Message: fmt.Sprintf("order item stuck in executing for more than %s", threshold),
		})
		if err != nil {
			s.log.Warn("failed to expire stale order item",
				zap.String("order_item_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("stale order item marked erred",
			zap.String("order_item_id", item.ID.String()),
		)
	}
	return nil
}
