// Package server exposes the billing core over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	billingdomain "github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

type Server struct {
	engine        *gin.Engine
	db            *gorm.DB
	reconcilerSvc billingdomain.Reconciler
	generatorSvc  billingdomain.Generator
	chargeSvc     billingdomain.ChargeSyncer
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	DB            *gorm.DB
	ReconcilerSvc billingdomain.Reconciler
	GeneratorSvc  billingdomain.Generator
	ChargeSvc     billingdomain.ChargeSyncer
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		db:            p.DB,
		reconcilerSvc: p.ReconcilerSvc,
		generatorSvc:  p.GeneratorSvc,
		chargeSvc:     p.ChargeSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/payments/:id/reconcile", s.ReconcilePayment)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.POST("/invoices/:id/sync-charge", s.SyncInvoiceCharge)
	v1.POST("/sweeps/invoices", s.RunInvoiceSweep)
	v1.POST("/sweeps/charges", s.RunChargeSweep)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
