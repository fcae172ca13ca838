package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/account"
	accountservice "github.com/smallbiznis/storefront/internal/account/service"
	"github.com/smallbiznis/storefront/internal/cart"
	cartservice "github.com/smallbiznis/storefront/internal/cart/service"
	"github.com/smallbiznis/storefront/internal/checkout"
	checkoutservice "github.com/smallbiznis/storefront/internal/checkout/service"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/currency"
	"github.com/smallbiznis/storefront/internal/discount"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/invoice"
	invoiceservice "github.com/smallbiznis/storefront/internal/invoice/service"
	"github.com/smallbiznis/storefront/internal/observability"
	"github.com/smallbiznis/storefront/internal/order"
	orderservice "github.com/smallbiznis/storefront/internal/order/service"
	"github.com/smallbiznis/storefront/internal/payment"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/smallbiznis/storefront/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module assembles the HTTP surface and every feature it serves.
var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	currency.Module,
	pricing.Module,
	cart.Module,
	discount.Module,
	payment.Module,
	account.Module,
	order.Module,
	invoice.Module,
	checkout.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	cartSvc     *cartservice.Service
	checkoutSvc *checkoutservice.Service
	discountSvc discountdomain.Service
	accountSvc  *accountservice.Service
	orderSvc    *orderservice.Service
	invoiceSvc  *invoiceservice.Service
	webhookSvc  *webhook.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	CartSvc     *cartservice.Service
	CheckoutSvc *checkoutservice.Service
	DiscountSvc discountdomain.Service
	AccountSvc  *accountservice.Service
	OrderSvc    *orderservice.Service
	InvoiceSvc  *invoiceservice.Service
	WebhookSvc  *webhook.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		cartSvc:     p.CartSvc,
		checkoutSvc: p.CheckoutSvc,
		discountSvc: p.DiscountSvc,
		accountSvc:  p.AccountSvc,
		orderSvc:    p.OrderSvc,
		invoiceSvc:  p.InvoiceSvc,
		webhookSvc:  p.WebhookSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/carts", s.HandleCreateCart)
	r.GET("/carts/:id", s.HandleGetCart)
	r.POST("/carts/:id/line-items", s.HandleAddLineItem)
	r.POST("/carts/:id/addresses", s.HandleSetAddresses)
	r.POST("/carts/:id/discounts", s.HandleApplyDiscount)
	r.DELETE("/carts/:id/discounts/:code", s.HandleRemoveDiscount)
	r.POST("/carts/:id/payment-sessions", s.HandleInitiatePaymentSession)
	r.POST("/carts/:id/payment-sessions/:sid/select", s.HandleSelectPaymentSession)
	r.POST("/carts/:id/complete", s.HandleCompleteCart)

	r.GET("/orders/:display_id", s.HandleGetOrder)

	r.GET("/accounts/:id/unpaid-by-region", s.HandleUnpaidByRegion)

	r.POST("/invoices", s.HandleCreateInvoice)
	r.POST("/invoices/:id/pay", s.HandlePayInvoice)

	r.POST("/webhooks/payment/:provider", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
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
