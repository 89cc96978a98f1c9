package api

import (
	"hookrelay/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts all boundary endpoints on the echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/healthz", h.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	e.POST("/subscriptions", h.createSubscription)
	e.GET("/subscriptions", h.listSubscriptions)
	e.GET("/subscriptions/:id", h.getSubscription)
	e.PATCH("/subscriptions/:id", h.updateSubscription)
	e.DELETE("/subscriptions/:id", h.deleteSubscription)

	e.POST("/ingest/:id", h.ingest)
	e.GET("/status/:id", h.deliveryStatus)
	e.GET("/subscriptions/:id/attempts", h.subscriptionAttempts)
}
