// Package server exposes the marketplace over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackbay/agora/internal/catalog"
	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/config"
	"github.com/stackbay/agora/internal/dispatch"
	"github.com/stackbay/agora/internal/eventbus"
	"github.com/stackbay/agora/internal/invoicing"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	"github.com/stackbay/agora/internal/migration"
	"github.com/stackbay/agora/internal/notification"
	"github.com/stackbay/agora/internal/order"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	"github.com/stackbay/agora/internal/plugin"
	"github.com/stackbay/agora/internal/quota"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	"github.com/stackbay/agora/internal/resource"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	"github.com/stackbay/agora/internal/scheduler"
	"github.com/stackbay/agora/internal/structure"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	"github.com/stackbay/agora/internal/taskqueue"
)

var Module = fx.Module("http.server",
	config.Module,
	eventbus.Module,
	taskqueue.Module,
	notification.Module,
	plugin.Module,
	structure.Module,
	catalog.Module,
	quota.Module,
	order.Module,
	resource.Module,
	dispatch.Module,
	invoicing.Module,
	migration.Module,
	scheduler.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(log.Named("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

const requestIDHeader = "X-Request-Id"

// requestID echoes the caller supplied request id or assigns a fresh one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node
	clock  clock.Clock

	structureSvc structuredomain.Service
	catalogSvc   catalogdomain.Service
	orderSvc     orderdomain.Service
	resourceSvc  resourcedomain.Service
	quotaSvc     quotadomain.Service
	invoicingSvc invoicingdomain.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock

	StructureSvc structuredomain.Service
	CatalogSvc   catalogdomain.Service
	OrderSvc     orderdomain.Service
	ResourceSvc  resourcedomain.Service
	QuotaSvc     quotadomain.Service
	InvoicingSvc invoicingdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		genID:  p.GenID,
		clock:  p.Clock,

		structureSvc: p.StructureSvc,
		catalogSvc:   p.CatalogSvc,
		orderSvc:     p.OrderSvc,
		resourceSvc:  p.ResourceSvc,
		quotaSvc:     p.QuotaSvc,
		invoicingSvc: p.InvoicingSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/customers", s.createCustomer)
	api.POST("/projects", s.createProject)

	api.POST("/categories", s.createCategory)
	api.GET("/offerings", s.listOfferings)
	api.POST("/offerings", s.createOffering)
	api.POST("/offerings/:id/transition", s.transitionOffering)
	api.POST("/plans", s.createPlan)

	api.POST("/orders", s.submitOrder)
	api.GET("/orders", s.listOrders)
	api.GET("/orders/:id", s.getOrder)
	api.GET("/orders/:id/items", s.listOrderItems)
	api.POST("/orders/:id/approve", s.approveOrder)
	api.POST("/orders/:id/reject", s.rejectOrder)

	api.GET("/resources", s.listResources)
	api.GET("/resources/:id", s.getResource)
	api.POST("/resources/:id/terminate", s.terminateResource)
	api.POST("/resources/:id/move", s.moveResource)

	api.POST("/usages", s.reportUsage)

	api.GET("/invoices/:id", s.getInvoice)
	api.GET("/invoices/:id/items", s.listInvoiceItems)
	api.PATCH("/invoice-items/:id", s.updateInvoiceItemQuantity)
}

func (s *Server) parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_id"})
		return 0, false
	}
	return id, true
}
