// Package server exposes the minimal inbound HTTP surface: the payment
// processor webhook, health, and metrics. Everything else in the billing core
// is a library invoked by the scheduler.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/asterhq/tally/internal/config"
	invoicedomain "github.com/asterhq/tally/internal/invoice/domain"
	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	"github.com/asterhq/tally/internal/payment/webhook"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServerParam struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Verifier   *webhook.Verifier
	InvoiceSvc invoicedomain.Service
}

type Server struct {
	cfg        config.Config
	log        *zap.Logger
	verifier   *webhook.Verifier
	invoiceSvc invoicedomain.Service
	engine     *gin.Engine
}

func New(p ServerParam) *Server {
	if p.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        p.Config,
		log:        p.Log.Named("server"),
		verifier:   p.Verifier,
		invoiceSvc: p.InvoiceSvc,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.POST("/v1/webhooks/payment", s.PaymentWebhook)
}

// Handler exposes the engine for tests and the fx HTTP server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.cfg.AppName,
		"version": s.cfg.AppVersion,
	})
}

// PaymentWebhook ingests processor settlement events so invoices settle
// without waiting for the hourly poll.
func (s *Server) PaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	if err := s.verifier.Verify(ctx, payload, c.Request.Header); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	event, err := webhook.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := s.invoiceSvc.ApplyProcessorEvent(ctx, event); err != nil {
		if errors.Is(err, invoicedomain.ErrUnknownExternalID) {
			// Unknown ids are acknowledged so the processor stops retrying;
			// the hourly sync reconciles any genuine divergence.
			s.log.Warn("webhook for unknown invoice",
				zap.String("external_invoice_id", event.ExternalInvoiceID),
			)
			c.JSON(http.StatusOK, gin.H{"status": "unknown_invoice"})
			return
		}
		s.log.Error("webhook apply failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(Start),
)

func Start(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.Handler(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
