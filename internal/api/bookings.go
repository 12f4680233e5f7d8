package api

import (
	"context"
	"net/http"

	"rental-service/internal/audit"
	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/store"

	"github.com/gin-gonic/gin"
)

// BookingAPI is the booking workflow as seen by the HTTP layer
type BookingAPI interface {
	Quote(ctx context.Context, req *service.QuoteRequest) (*service.Quote, error)
	Create(ctx context.Context, actor service.Actor, req *service.CreateBookingRequest) (*models.Booking, bool, error)
	Get(ctx context.Context, actor service.Actor, id int64) (*models.Booking, error)
	List(ctx context.Context, actor service.Actor, f store.BookingFilter) ([]models.Booking, error)
	Confirm(ctx context.Context, actor service.Actor, id int64) (*models.Booking, error)
	Collect(ctx context.Context, actor service.Actor, id, odometerStart int64) (*models.Booking, error)
	Complete(ctx context.Context, actor service.Actor, id, odometerEnd, additionalCharges int64) (*models.Booking, error)
	Cancel(ctx context.Context, actor service.Actor, id int64, reason string) (*models.Booking, error)
	IssueInvoice(ctx context.Context, actor service.Actor, id int64, req *service.InvoiceRequest) (*service.InvoiceResult, error)
	RecordPayment(ctx context.Context, actor service.Actor, id int64, req *service.PaymentRequest) (*service.PaymentResult, error)
	RecordDeposit(ctx context.Context, actor service.Actor, id, amount int64) (*models.Booking, error)
	GetInvoice(ctx context.Context, actor service.Actor, id int64) (*service.InvoiceResult, error)
	History(ctx context.Context, actor service.Actor, id int64) ([]audit.Entry, error)
}

type collectRequest struct {
	OdometerStart *int64 `json:"odometer_start" binding:"required"`
}

type completeRequest struct {
	OdometerEnd       *int64 `json:"odometer_end" binding:"required"`
	AdditionalCharges int64  `json:"additional_charges"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *Handler) quoteBooking(c *gin.Context) {
	var req service.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	quote, err := h.bookings.Quote(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// createBooking answers 201 for a new booking and 200 when the idempotency key was seen before
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	booking, existing, err := h.bookings.Create(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	code := http.StatusCreated
	if existing {
		code = http.StatusOK
	}
	c.JSON(code, booking)
}

func (h *Handler) listBookings(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	vehicleID, ok := queryInt64(c, "vehicle_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt64(c, "offset")
	if !ok {
		return
	}

	bookings, err := h.bookings.List(c.Request.Context(), actorFrom(c), store.BookingFilter{
		CustomerID: customerID,
		VehicleID:  vehicleID,
		Status:     c.Query("status"),
		Limit:      int(limit),
		Offset:     int(offset),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) getBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	booking, err := h.bookings.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) confirmBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.respondBooking(c)(h.bookings.Confirm(c.Request.Context(), actorFrom(c), id))
}

func (h *Handler) collectBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	h.respondBooking(c)(h.bookings.Collect(c.Request.Context(), actorFrom(c), id, *req.OdometerStart))
}

func (h *Handler) completeBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	h.respondBooking(c)(h.bookings.Complete(c.Request.Context(), actorFrom(c), id, *req.OdometerEnd, req.AdditionalCharges))
}

func (h *Handler) cancelBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.respondBooking(c)(h.bookings.Cancel(c.Request.Context(), actorFrom(c), id, req.Reason))
}

func (h *Handler) recordDeposit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	h.respondBooking(c)(h.bookings.RecordDeposit(c.Request.Context(), actorFrom(c), id, req.Amount))
}

// respondBooking writes a booking or the error of the call producing it
func (h *Handler) respondBooking(c *gin.Context) func(*models.Booking, error) {
	return func(b *models.Booking, err error) {
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

func (h *Handler) issueInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.InvoiceRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.bookings.IssueInvoice(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) recordPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.bookings.RecordPayment(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.bookings.GetInvoice(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) bookingHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := h.bookings.History(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
