// Package scheduler drives the periodic billing and housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/config"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	"github.com/stackbay/agora/internal/notification"
	obsmetrics "github.com/stackbay/agora/internal/observability/metrics"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Marketplace  *config.MarketplaceConfigHolder
	InvoicingSvc invoicingdomain.Service
	ResourceSvc  resourcedomain.Service
	OrderSvc     orderdomain.Service
	StructureSvc structuredomain.Service
	Notifier     notification.Notifier
	Config       Config `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	marketplace  *config.MarketplaceConfigHolder
	invoicingSvc invoicingdomain.Service
	resourceSvc  resourcedomain.Service
	orderSvc     orderdomain.Service
	structureSvc structuredomain.Service
	notifier     notification.Notifier
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.InvoicingSvc == nil || p.ResourceSvc == nil || p.OrderSvc == nil ||
		p.StructureSvc == nil || p.Marketplace == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		marketplace:  p.Marketplace,
		invoicingSvc: p.InvoicingSvc,
		resourceSvc:  p.ResourceSvc,
		orderSvc:     p.OrderSvc,
		structureSvc: p.StructureSvc,
		notifier:     p.Notifier,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	pipeline := obsmetrics.Pipeline()
	pipeline.IncJobRun(name)

	err := fn(ctx)
	pipeline.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		pipeline.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	pipeline.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"usage_rollup", s.isJobEnabled("usage_rollup"), s.cfg.RollupTimeout, s.UsageRollupJob},
		{"generate_invoices", s.isJobEnabled("generate_invoices"), s.cfg.RollupTimeout, s.GenerateInvoicesJob},
		{"terminate_expired", s.isJobEnabled("terminate_expired"), s.cfg.JobTimeout, s.TerminateExpiredJob},
		{"project_end_date", s.isJobEnabled("project_end_date"), s.cfg.JobTimeout, s.ProjectEndDateJob},
		{"stale_resources", s.isJobEnabled("stale_resources"), s.cfg.JobTimeout, s.StaleResourcesJob},
		{"stale_order_items", s.isJobEnabled("stale_order_items"), s.cfg.JobTimeout, s.StaleOrderItemsJob},
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		run := job.Run
		name := job.Name
		timeout := job.Timeout
		err = errors.Join(err, s.runJob(parent, name, timeout, run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
