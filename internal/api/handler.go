package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"rental-service/internal/realtime"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators the HTTP layer delegates to
type Services struct {
	Bookings      BookingAPI
	Catalog       CatalogAPI
	Chat          ChatAPI
	Notifications NotificationAPI
	Hub           *realtime.Hub
	Authorizer    *realtime.Authorizer
	Auth          *Auth
	Dependencies  map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	bookings      BookingAPI
	catalog       CatalogAPI
	chat          ChatAPI
	notifications NotificationAPI
	hub           *realtime.Hub
	authorizer    *realtime.Authorizer
	auth          *Auth
	dependencies  map[string]Pinger
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(s Services) *Handler {
	return &Handler{
		bookings:      s.Bookings,
		catalog:       s.Catalog,
		chat:          s.Chat,
		notifications: s.Notifications,
		hub:           s.Hub,
		authorizer:    s.Authorizer,
		auth:          s.Auth,
		dependencies:  s.Dependencies,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", h.auth.RequireAuth(), h.serveWS)

	v1 := router.Group("/api/v1", h.auth.RequireAuth())
	admin := RequireAdmin()
	{
		v1.GET("/vehicles", h.listVehicles)
		v1.GET("/vehicles/:id", h.getVehicle)
		v1.POST("/vehicles", admin, h.createVehicle)
		v1.PUT("/vehicles/:id", admin, h.updateVehicle)
		v1.PUT("/vehicles/:id/status", admin, h.setVehicleStatus)

		v1.GET("/packages", h.listPackages)
		v1.GET("/packages/:id", h.getPackage)
		v1.POST("/packages", admin, h.createPackage)
		v1.PUT("/packages/:id", admin, h.updatePackage)

		v1.POST("/bookings/quote", h.quoteBooking)
		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings", h.listBookings)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)
		v1.GET("/bookings/:id/invoice", h.getInvoice)
		v1.POST("/bookings/:id/confirm", admin, h.confirmBooking)
		v1.POST("/bookings/:id/collect", admin, h.collectBooking)
		v1.POST("/bookings/:id/complete", admin, h.completeBooking)
		v1.POST("/bookings/:id/invoice", admin, h.issueInvoice)
		v1.POST("/bookings/:id/payments", admin, h.recordPayment)
		v1.POST("/bookings/:id/deposit", admin, h.recordDeposit)
		v1.GET("/bookings/:id/history", admin, h.bookingHistory)

		v1.POST("/conversations", h.startConversation)
		v1.GET("/conversations", h.listConversations)
		v1.GET("/conversations/:id", h.getConversation)
		v1.GET("/conversations/:id/messages", h.listMessages)
		v1.POST("/conversations/:id/messages", h.sendMessage)
		v1.POST("/conversations/:id/read", h.markConversationRead)
		v1.POST("/conversations/:id/close", admin, h.closeConversation)
		v1.GET("/chat/unread", h.unreadCounts)

		v1.GET("/notifications", h.listNotifications)
		v1.GET("/notifications/unread-count", h.unreadNotifications)
		v1.POST("/notifications/read-all", h.markAllNotificationsRead)
		v1.POST("/notifications/:id/read", h.markNotificationRead)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the database and Redis
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// respondError maps service errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var code int
	var summary string
	switch {
	case errors.Is(err, service.ErrNotFound):
		code, summary = http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrInvalidTransition):
		code, summary = http.StatusBadRequest, "Invalid status transition"
	case errors.Is(err, service.ErrVehicleUnavailable):
		code, summary = http.StatusConflict, "Vehicle unavailable"
	case errors.Is(err, service.ErrInvoiceExists):
		code, summary = http.StatusConflict, "Invoice already issued"
	case errors.Is(err, service.ErrConversationClosed):
		code, summary = http.StatusConflict, "Conversation closed"
	case errors.Is(err, service.ErrForbidden):
		code, summary = http.StatusForbidden, "Forbidden"
	case errors.Is(err, service.ErrValidation):
		code, summary = http.StatusBadRequest, "Invalid request"
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(code, gin.H{
		"error":   summary,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, summary string, err error) {
	body := gin.H{"error": summary}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// pathID parses the :id parameter, answering 400 when it is not a positive integer
// bindOptionalJSON binds a JSON body that may be absent. An empty body, whatever its
// transfer encoding, leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid ID", nil)
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, "Invalid query parameter "+key, err)
		return 0, false
	}
	return v, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
