// Package handlers exposes the order flow over HTTP with gin.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/bookstore-orderflow/internal/idempotency"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/reconciler"
	"github.com/imrishuroy/bookstore-orderflow/internal/validation"
)

// Reconciler creates orders from provider notifications.
type Reconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (*reconciler.Result, error)
	Reconcile(ctx context.Context, charge paystack.Charge) (*reconciler.Result, error)
}

// PaymentProvider is the hosted checkout API.
type PaymentProvider interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.Charge, error)
}

// Redeemer resolves download tokens.
type Redeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

// OrderStore is the operator view of orders.
type OrderStore interface {
	Get(ctx context.Context, reference string) (*orders.Order, error)
	UpdateShippingStatus(ctx context.Context, reference, expected, next string) (*orders.Order, error)
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Reconciler     Reconciler
	Payments       PaymentProvider
	Redeemer       Redeemer
	Orders         OrderStore
	Idempotency    *idempotency.Store
	CallbackURL    string
	AdminToken     string
	RateLimitRPS   int
	RateLimitBurst int
	Logger         *slog.Logger
}

type server struct {
	cfg      HandlerConfig
	validate *validatorv10.Validate
	logger   *slog.Logger
}

// RegisterRoutes registers every route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{
		cfg:      cfg,
		validate: validation.New(),
		logger:   cfg.Logger,
	}

	r.Use(requestLogger(cfg.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// the provider retries on its own schedule; it is not rate limited
	r.POST("/webhooks/paystack", s.handleWebhook)

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	public := r.Group("/", limiter.Middleware())
	public.POST("/payments/initiate", s.handleInitiatePayment)
	public.POST("/payments/verify", s.handleVerifyPayment)
	public.GET("/download/:token", s.handleDownload)

	admin := r.Group("/orders", requireBearer(cfg.AdminToken))
	admin.GET("/:reference", s.handleGetOrder)
	admin.PATCH("/:reference/shipping-status", s.handleUpdateShippingStatus)
}

// writeError writes the JSON error envelope and aborts the chain.
func writeError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "detail": detail})
}
