package controller

import (
	"github.com/gin-gonic/gin"

	"checkout-service/internal/middleware"
)

type Routes struct {
	Orders   *OrderController
	Payments *PaymentController
	Tracking *TrackingController
	Auth     middleware.TokenValidator
	// Limiter es opcional; se aplica a las rutas de pago que dispara el comprador
	Limiter *middleware.RateLimiter
}

func RegisterRoutes(r *gin.Engine, rt Routes) {
	// Rutas públicas
	r.POST("/orders", rt.Orders.CreateOrder)
	r.GET("/orders/:orderRef/status", rt.Payments.GetStatus)
	r.GET("/tracking/:orderRef", rt.Tracking.GetState)
	r.GET("/tracking/:orderRef/stream", rt.Tracking.Stream)

	// Callbacks firmados: fuera del limiter, los proveedores envían desde pocas IPs
	callbacks := r.Group("/payments")
	callbacks.POST("/jazzcash/verify", rt.Payments.JazzCashVerify)
	callbacks.POST("/easypaisa/callback", rt.Payments.EasyPaisaCallback)
	callbacks.POST("/bank/callback", rt.Payments.BankCallback)
	callbacks.POST("/stripe/webhook", rt.Payments.StripeWebhook)

	payments := r.Group("/payments")
	if rt.Limiter != nil {
		payments.Use(rt.Limiter.Middleware())
	}
	payments.POST("/initiate", rt.Payments.Initiate)
	payments.POST("/retry/:orderRef", rt.Payments.Retry)
	payments.POST("/cod/check-availability", rt.Payments.CheckCOD)
	// la captura la dispara el navegador del comprador
	payments.POST("/paypal/capture", rt.Payments.PayPalCapture)

	// Rutas protegidas (requieren token)
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(rt.Auth))

	auth.PATCH("/orders/:orderRef/status", rt.Orders.UpdateStatus)
	auth.GET("/orders/mine", rt.Orders.GetMyOrders)
	auth.GET("/orders/:orderRef", rt.Orders.GetOrder)
	auth.POST("/tracking/:orderRef/location", rt.Tracking.UpdateLocation)
	auth.POST("/tracking/:orderRef/milestone", middleware.AdminOnly(), rt.Tracking.PublishMilestone)

	// Rutas admin
	admin := auth.Group("/admin")
	admin.Use(middleware.AdminOnly())
	admin.GET("/orders", rt.Orders.GetAllOrders)
	admin.GET("/orders/state/:state", rt.Orders.GetAllOrdersByState)
	admin.GET("/tracking/stats", rt.Tracking.Stats)
}
