package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mealsub-backend/internal/auth"
	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/infrastructure/provider"
	"mealsub-backend/internal/usecase"
)

// WebhookParsers finds the adapter that understands a provider's callbacks.
type WebhookParsers interface {
	Get(name domain.ProviderName) (provider.Gateway, bool)
}

type Deps struct {
	Orders    *usecase.OrderService
	Payments  *usecase.PaymentService
	Intents   *usecase.IntentService
	Webhooks  *usecase.WebhookService
	Providers WebhookParsers
	Tokens    *auth.Tokens
	// Login is optional; without it the WeChat login route is not mounted.
	Login *auth.WechatLogin
	// WebhookTokens holds the shared secret expected in X-Webhook-Token per
	// provider. Providers without an entry are accepted only when their
	// adapter verifies signatures; the rest answer 401.
	WebhookTokens map[domain.ProviderName]string
	Log           *slog.Logger
	Release       bool
}

type Server struct {
	Deps
	engine *gin.Engine
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{Deps: d, engine: gin.New()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestID(), s.requestLog(), prometheusMiddleware(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/payments/webhook/:provider", s.handleWebhook)
	if s.Login != nil {
		api.POST("/auth/wechat/login", s.handleWechatLogin)
	}

	authed := api.Group("")
	authed.Use(s.authenticate())
	{
		authed.POST("/orders", s.handleCreateOrder)
		authed.GET("/orders", s.handleListOrders)
		authed.GET("/orders/:id", s.handleGetOrder)
		authed.PATCH("/orders/:id/status", s.handleOrderStatus)

		authed.GET("/payments/:id", s.handleGetPayment)
		authed.PATCH("/payments/:id/status", s.handlePaymentStatus)
		authed.POST("/payments/:id/intent", s.handleCreateIntent)
		authed.GET("/payments/:id/intent/latest", s.handleLatestIntent)
	}
}

func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Log.Info("http server shutting down")
		return srv.Shutdown(context.Background())
	}
}
