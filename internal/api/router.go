package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quisin/payments-core/internal/handlers"
	"github.com/quisin/payments-core/internal/service"
	"github.com/quisin/payments-core/internal/telemetry"
	"github.com/quisin/payments-core/internal/webhooks"
)

func NewRouter(ledger *service.Ledger, monitor *service.Monitor, reconciler *webhooks.Reconciler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payments-core"})
	})

	paymentHandler := handlers.NewPaymentHandler(ledger)
	cashHandler := handlers.NewCashHandler(ledger)
	monitorHandler := handlers.NewMonitorHandler(monitor)

	v1 := r.Group("/api/v1")

	v1.POST("/payments", paymentHandler.CreatePayment)
	v1.POST("/payments/split", paymentHandler.CreateSplitPayment)
	v1.PATCH("/payments/:id/status", paymentHandler.UpdatePaymentStatus)
	v1.GET("/payments/:id/splits", paymentHandler.GetPaymentSplits)
	v1.GET("/users/:userId/payments", paymentHandler.GetPaymentsByUser)

	v1.GET("/cash-payments/pending", cashHandler.GetPendingCashPayments)
	v1.PATCH("/cash-payments/:id/confirm", cashHandler.ConfirmCashPayment)
	v1.PATCH("/cash-payments/:id/cancel", cashHandler.CancelCashPayment)

	v1.POST("/payments/webhooks/mpesa", reconciler.HandleMpesa)
	v1.POST("/payments/webhooks/stripe", reconciler.HandleStripe)
	v1.POST("/payments/webhooks/paypal", reconciler.HandlePayPal)
	v1.POST("/payments/webhooks/coinbase", reconciler.HandleCoinbase)

	v1.GET("/monitoring/transactions", monitorHandler.GetRecentTransactions)
	v1.GET("/monitoring/transactions/:userId", monitorHandler.GetTransactionHistory)

	return r
}
