package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// InventoryService is the stock surface the handlers call
type InventoryService interface {
	UpdateStock(ctx context.Context, itemID int64, quantity int, op models.StockOperation) (int, error)
	BatchUpdateStock(ctx context.Context, updates []models.StockUpdate) ([]models.StockItem, error)
	GetStockStatus(ctx context.Context, itemID int64) (*models.StockStatus, error)
	ListStockStatus(ctx context.Context) ([]models.StockStatus, error)
}

// PaymentService is the payment surface the handlers call
type PaymentService interface {
	ProcessPayment(ctx context.Context, orderID int64, req service.PaymentRequest) (*models.Payment, error)
	ProcessRefund(ctx context.Context, paymentID int64, req service.RefundRequest) (*models.Refund, error)
	UpdatePaymentStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (*models.Payment, error)
	VerifyPayment(ctx context.Context, paymentID int64) (bool, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error)
	ListFailures(ctx context.Context, orderID int64) ([]models.PaymentFailure, error)
}

// CommandQueue enqueues work for the command workers
type CommandQueue interface {
	RequestPayment(ctx context.Context, orderID int64, gateway string, fields map[string]string) (string, error)
	RequestStockAdjustment(ctx context.Context, update models.StockUpdate) (string, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	inventory InventoryService
	payments  PaymentService
	commands  CommandQueue
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. commands may be nil, in which case
// the command routes are not registered.
func NewHandler(inventory InventoryService, payments PaymentService, commands CommandQueue, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		inventory: inventory,
		payments:  payments,
		commands:  commands,
		checks:    checks,
		logger:    util.GetLogger().Named("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/inventory", h.listInventory)
		v1.POST("/inventory/batch", h.batchAdjust)
		v1.GET("/inventory/:id", h.getInventory)
		v1.POST("/inventory/:id/adjust", h.adjustStock)

		v1.POST("/orders/:id/payments", h.processPayment)
		v1.GET("/orders/:id/payments", h.listPayments)
		v1.GET("/orders/:id/payment-failures", h.listFailures)

		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/refunds", h.processRefund)
		v1.GET("/payments/:id/verify", h.verifyPayment)
		v1.PATCH("/payments/transactions/:txid/status", h.updatePaymentStatus)

		if h.commands != nil {
			v1.POST("/commands/payments", h.enqueuePayment)
			v1.POST("/commands/stock-adjustments", h.enqueueStockAdjustment)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listInventory(c *gin.Context) {
	items, err := h.inventory.ListStockStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) getInventory(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}

	status, err := h.inventory.GetStockStatus(c.Request.Context(), itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type adjustRequest struct {
	Quantity  int                   `json:"quantity" binding:"required"`
	Operation models.StockOperation `json:"operation" binding:"required"`
}

func (h *Handler) adjustStock(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req adjustRequest
	if !bindJSON(c, &req) {
		return
	}

	newQty, err := h.inventory.UpdateStock(c.Request.Context(), itemID, req.Quantity, req.Operation)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "quantity": newQty})
}

type batchRequest struct {
	Updates []models.StockUpdate `json:"updates" binding:"required,min=1,dive"`
}

func (h *Handler) batchAdjust(c *gin.Context) {
	var req batchRequest
	if !bindJSON(c, &req) {
		return
	}

	items, err := h.inventory.BatchUpdateStock(c.Request.Context(), req.Updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// processPayment captures payment for an order synchronously
func (h *Handler) processPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.PaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.ProcessPayment(c.Request.Context(), orderID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *Handler) listPayments(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payments, err := h.payments.ListPayments(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) listFailures(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	failures, err := h.payments.ListFailures(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

func (h *Handler) getPayment(c *gin.Context) {
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) processRefund(c *gin.Context) {
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	// an empty body refunds the full amount
	var req service.RefundRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	refund, err := h.payments.ProcessRefund(c.Request.Context(), paymentID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) verifyPayment(c *gin.Context) {
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	verified, err := h.payments.VerifyPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_id": paymentID, "verified": verified})
}

type statusRequest struct {
	Status models.PaymentStatus `json:"status" binding:"required"`
}

func (h *Handler) updatePaymentStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.payments.UpdatePaymentStatus(c.Request.Context(), c.Param("txid"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type enqueuePaymentRequest struct {
	OrderID int64             `json:"order_id" binding:"required"`
	Gateway string            `json:"gateway" binding:"required"`
	Fields  map[string]string `json:"fields"`
}

func (h *Handler) enqueuePayment(c *gin.Context) {
	var req enqueuePaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	eventID, err := h.commands.RequestPayment(c.Request.Context(), req.OrderID, req.Gateway, req.Fields)
	if err != nil {
		h.logger.Error("Failed to enqueue payment command", zap.Int64("order_id", req.OrderID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "COMMAND_QUEUE_UNAVAILABLE", "message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": eventID})
}

func (h *Handler) enqueueStockAdjustment(c *gin.Context) {
	var req models.StockUpdate
	if !bindJSON(c, &req) {
		return
	}

	eventID, err := h.commands.RequestStockAdjustment(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to enqueue stock command", zap.Int64("item_id", req.ItemID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "COMMAND_QUEUE_UNAVAILABLE", "message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": eventID})
}

// statusFor maps an error code to its HTTP status
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeDuplicatePayment, apperr.CodeInsufficientStock:
		return http.StatusConflict
	case apperr.CodeLockAcquisitionFailed, apperr.CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case apperr.CodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeValidation,
			"message": "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeValidation,
			"message": "invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
