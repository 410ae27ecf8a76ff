package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pavetrack/internal/allocation"
	allocationdomain "github.com/smallbiznis/pavetrack/internal/allocation/domain"
	"github.com/smallbiznis/pavetrack/internal/audit"
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/authorization"
	"github.com/smallbiznis/pavetrack/internal/cache"
	"github.com/smallbiznis/pavetrack/internal/config"
	"github.com/smallbiznis/pavetrack/internal/delivery"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	"github.com/smallbiznis/pavetrack/internal/fieldapplication"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	"github.com/smallbiznis/pavetrack/internal/lock"
	"github.com/smallbiznis/pavetrack/internal/observability"
	obsmiddleware "github.com/smallbiznis/pavetrack/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pavetrack/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pavetrack/internal/observability/tracing"
	"github.com/smallbiznis/pavetrack/internal/ratelimit"
	"github.com/smallbiznis/pavetrack/internal/requisition"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(cache.NewRedisClient),
	fx.Provide(lock.NewLocker),
	fx.Provide(registerGin),
	ratelimit.Module,
	authorization.Module,
	audit.Module,
	requisition.Module,
	delivery.Module,
	allocation.Module,
	fieldapplication.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine         *gin.Engine
	log            *zap.Logger
	writeLimiter   *ratelimit.FieldWriteLimiter
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	requisitionSvc requisitiondomain.Service
	deliverySvc    deliverydomain.Service
	allocationSvc  allocationdomain.Service
	applicationSvc fieldapplicationdomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger                  `optional:"true"`
	WriteLimiter   *ratelimit.FieldWriteLimiter `optional:"true"`
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	RequisitionSvc requisitiondomain.Service
	DeliverySvc    deliverydomain.Service
	AllocationSvc  allocationdomain.Service
	ApplicationSvc fieldapplicationdomain.Service
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:         p.Gin,
		log:            log.Named("http.server"),
		writeLimiter:   p.WriteLimiter,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		requisitionSvc: p.RequisitionSvc,
		deliverySvc:    p.DeliverySvc,
		allocationSvc:  p.AllocationSvc,
		applicationSvc: p.ApplicationSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorContext())
	writes := s.limitFieldWrites()

	// -------- Requisitions --------
	api.POST("/requisitions", s.CreateRequisition)
	api.GET("/requisitions", s.ListRequisitions)
	api.GET("/requisitions/schedulable", s.ListSchedulableRequisitions)
	api.GET("/requisitions/:id", s.GetRequisitionByID)
	api.GET("/requisitions/:id/progress", s.GetRequisitionProgress)
	api.GET("/requisitions/:id/commitments", s.ListRequisitionCommitments)
	api.POST("/requisitions/:id/commitments", writes, s.AllocateCommitment)

	// -------- Delivery commitments --------
	api.GET("/commitments/:id", s.GetCommitmentByID)
	api.GET("/commitments/:id/history", s.GetCommitmentHistory)
	api.GET("/commitments/:id/cancellation", s.GetCancellationDecision)
	api.POST("/commitments/:id/cancel", writes, s.CancelCommitment)
	api.POST("/commitments/:id/load", writes, s.RegisterLoad)

	// -------- Field applications --------
	api.GET("/commitments/:id/applications", s.ListApplications)
	api.POST("/commitments/:id/applications",
		s.requirePermission(authorization.ObjectApplicationRecord, authorization.ActionApplicationRecord),
		writes,
		s.RecordApplication,
	)
	api.DELETE("/applications/:id",
		s.requirePermission(authorization.ObjectApplicationRecord, authorization.ActionApplicationDelete),
		writes,
		s.DeleteApplication,
	)

	// -------- Maintenance --------
	api.POST("/maintenance/status-integrity",
		s.requirePermission(authorization.ObjectStatusIntegrity, authorization.ActionStatusIntegrityRun),
		s.RunStatusIntegrity,
	)

	// -------- Audit --------
	api.GET("/audit-logs",
		s.requirePermission(authorization.ObjectAuditLog, authorization.ActionAuditRead),
		s.ListAuditLogs,
	)
}
