package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-service/internal/audit"
	"rental-service/internal/models"
	"rental-service/internal/realtime"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BookingConfig holds the business settings of the booking workflow
type BookingConfig struct {
	TaxRateBPS     int64
	HoldTTL        time.Duration
	DefaultDailyKm int64
}

// BookingService runs the booking lifecycle
type BookingService struct {
	store    BookingStore
	locker   VehicleLocker
	events   BookingEvents
	realtime Realtime
	auditor  audit.Recorder
	cfg      BookingConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(
	store BookingStore,
	locker VehicleLocker,
	events BookingEvents,
	rt Realtime,
	auditor audit.Recorder,
	cfg BookingConfig,
) *BookingService {
	if auditor == nil {
		auditor = audit.NopRecorder{}
	}
	return &BookingService{
		store:    store,
		locker:   locker,
		events:   events,
		realtime: rt,
		auditor:  auditor,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// QuoteRequest asks for the price of a prospective booking
type QuoteRequest struct {
	VehicleID int64     `json:"vehicle_id" binding:"required"`
	PackageID *int64    `json:"package_id,omitempty"`
	StartAt   time.Time `json:"start_at" binding:"required"`
	EndAt     time.Time `json:"end_at" binding:"required"`
}

// Quote is the estimated price of a booking before mileage and extras
type Quote struct {
	VehicleID int64  `json:"vehicle_id"`
	PackageID *int64 `json:"package_id,omitempty"`
	BasePricing
	TaxRateBPS       int64 `json:"tax_rate_bps"`
	EstimatedTax     int64 `json:"estimated_tax"`
	EstimatedTotal   int64 `json:"estimated_total"`
	ExtraKmRate      int64 `json:"extra_km_rate"`
	VehicleAvailable bool  `json:"vehicle_available"`
}

// CreateBookingRequest represents a request to create a booking
type CreateBookingRequest struct {
	VehicleID      int64     `json:"vehicle_id" binding:"required"`
	PackageID      *int64    `json:"package_id,omitempty"`
	StartAt        time.Time `json:"start_at" binding:"required"`
	EndAt          time.Time `json:"end_at" binding:"required"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	// CustomerID lets an admin book on behalf of a customer
	CustomerID int64 `json:"customer_id,omitempty"`
}

// InvoiceRequest carries the admin inputs of an invoice
type InvoiceRequest struct {
	DiscountAmount  int64  `json:"discount_amount"`
	DiscountPercent int64  `json:"discount_percent"`
	Notes           string `json:"notes"`
}

// PaymentRequest records money received against an invoice
type PaymentRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
}

// InvoiceResult is an invoice together with its booking and payments
type InvoiceResult struct {
	Booking  *models.Booking  `json:"booking"`
	Invoice  *models.Invoice  `json:"invoice"`
	Payments []models.Payment `json:"payments,omitempty"`
}

// PaymentResult is the state after recording a payment
type PaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Invoice *models.Invoice `json:"invoice"`
	Booking *models.Booking `json:"booking"`
}

func (s *BookingService) validatePeriod(start, end time.Time) error {
	if !end.After(start) {
		return validationError("end_at must be after start_at")
	}
	if start.Before(s.now().Add(-day)) {
		return validationError("start_at is in the past")
	}
	return nil
}

// loadOffer fetches the vehicle and optional package of a booking request
func (s *BookingService) loadOffer(ctx context.Context, vehicleID int64, packageID *int64) (*models.Vehicle, *models.Package, error) {
	vehicle, err := s.store.GetVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, nil, translateStoreError(err)
	}

	if packageID == nil {
		return vehicle, nil, nil
	}

	pkg, err := s.store.GetPackageByID(ctx, *packageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, validationError("package %d does not exist", *packageID)
		}
		return nil, nil, err
	}
	if !pkg.Active {
		return nil, nil, validationError("package %d is not active", pkg.ID)
	}
	if !packageAppliesTo(pkg, vehicle.ID) {
		return nil, nil, validationError("package %d does not apply to vehicle %d", pkg.ID, vehicle.ID)
	}
	return vehicle, pkg, nil
}

func packageAppliesTo(pkg *models.Package, vehicleID int64) bool {
	if len(pkg.VehicleIDs) == 0 {
		return true
	}
	for _, id := range pkg.VehicleIDs {
		if id == vehicleID {
			return true
		}
	}
	return false
}

// Quote prices a prospective booking without writing anything
func (s *BookingService) Quote(ctx context.Context, req *QuoteRequest) (*Quote, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Quote", attribute.Int64("vehicle_id", req.VehicleID))
	defer span.End()

	if err := s.validatePeriod(req.StartAt, req.EndAt); err != nil {
		return nil, err
	}

	vehicle, pkg, err := s.loadOffer(ctx, req.VehicleID, req.PackageID)
	if err != nil {
		return nil, err
	}

	overlap, err := s.store.HasOverlappingBooking(ctx, vehicle.ID, req.StartAt, req.EndAt)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}

	pricing := PriceBooking(vehicle, pkg, req.StartAt, req.EndAt, s.cfg.DefaultDailyKm)
	totals := ComputeInvoice(pricing.BaseAmount, 0, 0, Discount{}, s.cfg.TaxRateBPS, 0)

	return &Quote{
		VehicleID:        vehicle.ID,
		PackageID:        req.PackageID,
		BasePricing:      pricing,
		TaxRateBPS:       s.cfg.TaxRateBPS,
		EstimatedTax:     totals.TaxAmount,
		EstimatedTotal:   totals.Total,
		ExtraKmRate:      vehicle.ExtraKmRate,
		VehicleAvailable: !overlap && vehicle.Status != models.VehicleStatusMaintenance,
	}, nil
}

// Create places a PENDING booking. A repeated idempotency key returns the original booking
// with existing set to true.
func (s *BookingService) Create(ctx context.Context, actor Actor, req *CreateBookingRequest) (booking *models.Booking, existing bool, err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create", attribute.Int64("vehicle_id", req.VehicleID))
	defer span.End()

	customerID := actor.UserID
	if actor.IsAdmin() && req.CustomerID > 0 {
		customerID = req.CustomerID
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if prior, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey, customerID); prior != nil || err != nil {
		return prior, prior != nil, err
	}

	if err := s.validatePeriod(req.StartAt, req.EndAt); err != nil {
		util.BookingsRejectedTotal.WithLabelValues("invalid_period").Inc()
		return nil, false, err
	}

	vehicle, pkg, err := s.loadOffer(ctx, req.VehicleID, req.PackageID)
	if err != nil {
		util.BookingsRejectedTotal.WithLabelValues("invalid_offer").Inc()
		return nil, false, err
	}
	if vehicle.Status == models.VehicleStatusMaintenance {
		util.BookingsRejectedTotal.WithLabelValues("maintenance").Inc()
		return nil, false, fmt.Errorf("%w: vehicle %d is under maintenance", ErrVehicleUnavailable, vehicle.ID)
	}

	token := uuid.New().String()
	holdStart := time.Now()
	held, err := s.locker.AcquireVehicleHold(ctx, vehicle.ID, token, s.cfg.HoldTTL)
	util.VehicleHoldLatency.Observe(time.Since(holdStart).Seconds())
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, false, fmt.Errorf("failed to hold vehicle: %w", err)
	}
	if !held {
		util.BookingsRejectedTotal.WithLabelValues("hold_contended").Inc()
		return nil, false, fmt.Errorf("%w: vehicle %d is being booked by another request", ErrVehicleUnavailable, vehicle.ID)
	}
	defer func() {
		if err := s.locker.ReleaseVehicleHold(context.Background(), vehicle.ID, token); err != nil {
			s.logger.Warn("Failed to release vehicle hold", zap.Int64("vehicle_id", vehicle.ID), zap.Error(err))
		}
	}()

	overlap, err := s.store.HasOverlappingBooking(ctx, vehicle.ID, req.StartAt, req.EndAt)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, false, fmt.Errorf("failed to check availability: %w", err)
	}
	if overlap {
		util.BookingsRejectedTotal.WithLabelValues("overlap").Inc()
		return nil, false, fmt.Errorf("%w: vehicle %d is already booked for that period", ErrVehicleUnavailable, vehicle.ID)
	}

	pricing := PriceBooking(vehicle, pkg, req.StartAt, req.EndAt, s.cfg.DefaultDailyKm)
	booking = &models.Booking{
		CustomerID:     customerID,
		VehicleID:      vehicle.ID,
		PackageID:      req.PackageID,
		StartAt:        req.StartAt.UTC(),
		EndAt:          req.EndAt.UTC(),
		RentalDays:     pricing.RentalDays,
		BaseAmount:     pricing.BaseAmount,
		KmAllowance:    pricing.KmAllowance,
		Status:         models.BookingStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			prior, ferr := s.findByIdempotencyKey(ctx, req.IdempotencyKey, customerID)
			if prior != nil || ferr != nil {
				return prior, prior != nil, ferr
			}
		}
		util.BookingsRejectedTotal.WithLabelValues("db_error").Inc()
		util.RecordSpanError(span, err)
		return nil, false, fmt.Errorf("failed to create booking: %w", err)
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("customer_id", booking.CustomerID),
		zap.Int64("vehicle_id", booking.VehicleID))

	event := &models.BookingCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeBookingCreated),
		BookingID:  booking.ID,
		CustomerID: booking.CustomerID,
		VehicleID:  booking.VehicleID,
		StartAt:    booking.StartAt,
		EndAt:      booking.EndAt,
		BaseAmount: booking.BaseAmount,
	}
	if err := s.events.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Int64("booking_id", booking.ID), zap.Error(err))
	}

	s.record(ctx, actor, booking, "create", "", booking.Status, map[string]interface{}{
		"base_amount":  booking.BaseAmount,
		"km_allowance": booking.KmAllowance,
	})
	s.pushUpdate(ctx, booking)

	return booking, false, nil
}

func (s *BookingService) findByIdempotencyKey(ctx context.Context, key string, customerID int64) (*models.Booking, error) {
	prior, err := s.store.GetBookingByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if prior == nil {
		return nil, nil
	}
	if prior.CustomerID != customerID {
		return nil, fmt.Errorf("%w: idempotency key belongs to another customer", ErrForbidden)
	}
	s.logger.Info("Duplicate booking request detected",
		zap.String("idempotency_key", key),
		zap.Int64("booking_id", prior.ID))
	return prior, nil
}

// Confirm accepts a pending booking and reserves the vehicle
func (s *BookingService) Confirm(ctx context.Context, actor Actor, id int64) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.transition(ctx, actor, id, models.BookingStatusConfirmed, "",
		func(b *models.Booking, now time.Time) (store.Transition, error) {
			vehicle, err := s.store.GetVehicleByID(ctx, b.VehicleID)
			if err != nil {
				return store.Transition{}, translateStoreError(err)
			}
			if vehicle.Status == models.VehicleStatusMaintenance {
				return store.Transition{}, fmt.Errorf("%w: vehicle %d is under maintenance", ErrVehicleUnavailable, vehicle.ID)
			}
			b.ConfirmedAt = &now
			return store.Transition{SyncVehicle: true}, nil
		})
}

// Collect hands the vehicle to the customer and records the starting odometer
func (s *BookingService) Collect(ctx context.Context, actor Actor, id, odometerStart int64) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.transition(ctx, actor, id, models.BookingStatusCollected, "",
		func(b *models.Booking, now time.Time) (store.Transition, error) {
			vehicle, err := s.store.GetVehicleByID(ctx, b.VehicleID)
			if err != nil {
				return store.Transition{}, translateStoreError(err)
			}
			if odometerStart < vehicle.Odometer {
				return store.Transition{}, validationError("odometer_start %d is below the recorded odometer %d", odometerStart, vehicle.Odometer)
			}
			b.OdometerStart = &odometerStart
			b.CollectedAt = &now
			return store.Transition{SyncVehicle: true, VehicleOdometer: &odometerStart}, nil
		})
}

// Complete records the vehicle return and computes the mileage charges
func (s *BookingService) Complete(ctx context.Context, actor Actor, id, odometerEnd, additionalCharges int64) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if additionalCharges < 0 {
		return nil, validationError("additional_charges must not be negative")
	}

	return s.transition(ctx, actor, id, models.BookingStatusCompleted, "",
		func(b *models.Booking, now time.Time) (store.Transition, error) {
			if b.OdometerStart == nil {
				return store.Transition{}, validationError("booking %d has no starting odometer", b.ID)
			}
			if odometerEnd < *b.OdometerStart {
				return store.Transition{}, validationError("odometer_end %d is below odometer_start %d", odometerEnd, *b.OdometerStart)
			}
			vehicle, err := s.store.GetVehicleByID(ctx, b.VehicleID)
			if err != nil {
				return store.Transition{}, translateStoreError(err)
			}

			m := ComputeMileage(*b.OdometerStart, odometerEnd, b.KmAllowance, vehicle.ExtraKmRate)
			b.OdometerEnd = &odometerEnd
			b.KmDriven = m.KmDriven
			b.ExtraKm = m.ExtraKm
			b.ExtraMileageCost = m.ExtraMileageCost
			b.AdditionalCharges = additionalCharges
			b.CompletedAt = &now
			return store.Transition{SyncVehicle: true, VehicleOdometer: &odometerEnd}, nil
		})
}

// Cancel cancels a booking that has not been completed. Customers may only cancel their own,
// and only before the vehicle is collected; a collected booking is cancelled by an admin once
// the vehicle is back.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id int64, reason string) (*models.Booking, error) {
	return s.transition(ctx, actor, id, models.BookingStatusCancelled, strings.TrimSpace(reason),
		func(b *models.Booking, now time.Time) (store.Transition, error) {
			if b.Status == models.BookingStatusCollected && !actor.IsAdmin() {
				return store.Transition{}, fmt.Errorf("%w: vehicle already collected, contact support to cancel", ErrForbidden)
			}
			actorID := actor.UserID
			b.CancelReason = strings.TrimSpace(reason)
			b.CancelledBy = &actorID
			b.CancelledAt = &now
			return store.Transition{SyncVehicle: true}, nil
		})
}

type mutation func(b *models.Booking, now time.Time) (store.Transition, error)

// transition loads the booking, checks the status table, lets mutate fill in derived
// fields, and persists the change guarded on the status it was loaded in.
func (s *BookingService) transition(ctx context.Context, actor Actor, id int64, to, reason string, mutate mutation) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Transition",
		attribute.Int64("booking_id", id),
		attribute.String("to", to))
	defer span.End()

	b, err := s.store.GetBookingByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !actor.IsAdmin() && b.CustomerID != actor.UserID {
		return nil, ErrForbidden
	}

	from := b.Status
	if !models.CanTransition(from, to) {
		util.BookingTransitionsRejectedTotal.WithLabelValues(to).Inc()
		if models.IsTerminalBookingStatus(from) {
			return nil, fmt.Errorf("%w: booking is already %s", ErrInvalidTransition, from)
		}
		return nil, fmt.Errorf("%w: %s -> %s requires one of %s", ErrInvalidTransition, from, to,
			strings.Join(models.Predecessors(to), ", "))
	}

	t, err := mutate(b, s.now().UTC())
	if err != nil {
		return nil, err
	}
	b.Status = to
	t.Booking = b
	t.From = from

	if err := s.store.ApplyTransition(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.BookingTransitionsRejectedTotal.WithLabelValues(to).Inc()
			return nil, fmt.Errorf("%w: booking %d is no longer %s", ErrInvalidTransition, id, from)
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}

	util.BookingTransitionsTotal.WithLabelValues(from, to).Inc()
	s.logger.Info("Booking status changed",
		zap.Int64("booking_id", b.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int64("actor_id", actor.UserID))

	event := &models.BookingStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.StatusEventTypes[to]),
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		VehicleID:  b.VehicleID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.UserID,
		Reason:     reason,
	}
	if err := s.events.PublishBookingStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish status event", zap.Int64("booking_id", b.ID), zap.Error(err))
	}

	var details map[string]interface{}
	if reason != "" {
		details = map[string]interface{}{"reason": reason}
	}
	if to == models.BookingStatusCompleted {
		details = map[string]interface{}{
			"km_driven":          b.KmDriven,
			"extra_km":           b.ExtraKm,
			"extra_mileage_cost": b.ExtraMileageCost,
			"additional_charges": b.AdditionalCharges,
		}
	}
	s.record(ctx, actor, b, strings.ToLower(to), from, to, details)
	s.pushUpdate(ctx, b)

	return b, nil
}

// IssueInvoice bills a completed booking. The invoice is settled immediately when the
// deposit covers the total.
func (s *BookingService) IssueInvoice(ctx context.Context, actor Actor, id int64, req *InvoiceRequest) (*InvoiceResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	ctx, span := util.StartSpan(ctx, "BookingService.IssueInvoice", attribute.Int64("booking_id", id))
	defer span.End()

	if req.DiscountAmount < 0 || req.DiscountPercent < 0 {
		return nil, validationError("discount must not be negative")
	}
	if req.DiscountAmount > 0 && req.DiscountPercent > 0 {
		return nil, validationError("use either discount_amount or discount_percent")
	}
	if req.DiscountPercent > 100 {
		return nil, validationError("discount_percent must be at most 100")
	}

	b, err := s.store.GetBookingByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	switch b.Status {
	case models.BookingStatusCompleted:
	case models.BookingStatusInvoiced, models.BookingStatusPaid:
		return nil, fmt.Errorf("%w: booking %d", ErrInvoiceExists, id)
	default:
		util.BookingTransitionsRejectedTotal.WithLabelValues(models.BookingStatusInvoiced).Inc()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.BookingStatusInvoiced)
	}

	totals := ComputeInvoice(b.BaseAmount, b.ExtraMileageCost, b.AdditionalCharges,
		Discount{Amount: req.DiscountAmount, Percent: req.DiscountPercent},
		s.cfg.TaxRateBPS, b.DepositPaid)

	now := s.now().UTC()
	inv := &models.Invoice{
		BookingID:      b.ID,
		InvoiceNumber:  invoiceNumber(now),
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxRateBPS:     totals.TaxRateBPS,
		TaxAmount:      totals.TaxAmount,
		Total:          totals.Total,
		AmountPaid:     totals.AmountPaid,
		BalanceDue:     totals.BalanceDue,
		Status:         models.InvoiceStatusOpen,
		Notes:          strings.TrimSpace(req.Notes),
	}
	settle := inv.BalanceDue == 0
	if settle {
		inv.Status = models.InvoiceStatusPaid
		inv.PaidAt = &now
	}

	if err := s.store.IssueInvoice(ctx, inv, b, settle); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, fmt.Errorf("%w: booking %d", ErrInvoiceExists, id)
		case errors.Is(err, store.ErrConflict):
			if _, ierr := s.store.GetInvoiceByBookingID(ctx, id); ierr == nil {
				return nil, fmt.Errorf("%w: booking %d", ErrInvoiceExists, id)
			}
			return nil, fmt.Errorf("%w: booking %d is no longer COMPLETED", ErrInvalidTransition, id)
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to issue invoice: %w", err)
	}

	util.InvoicesIssuedTotal.Inc()
	util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusCompleted, models.BookingStatusInvoiced).Inc()
	if settle {
		util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusInvoiced, models.BookingStatusPaid).Inc()
	}
	s.logger.Info("Invoice issued",
		zap.Int64("booking_id", b.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Int64("total", inv.Total),
		zap.Int64("balance_due", inv.BalanceDue))

	event := &models.InvoiceIssuedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeInvoiceIssued),
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Total:         inv.Total,
		BalanceDue:    inv.BalanceDue,
	}
	if err := s.events.PublishInvoiceIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish InvoiceIssued event", zap.Int64("booking_id", b.ID), zap.Error(err))
	}

	s.record(ctx, actor, b, "invoice", models.BookingStatusCompleted, b.Status, map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"total":          inv.Total,
		"balance_due":    inv.BalanceDue,
	})
	s.pushUpdate(ctx, b)

	return &InvoiceResult{Booking: b, Invoice: inv}, nil
}

// RecordPayment applies a payment to the open invoice of an INVOICED booking
func (s *BookingService) RecordPayment(ctx context.Context, actor Actor, id int64, req *PaymentRequest) (*PaymentResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	ctx, span := util.StartSpan(ctx, "BookingService.RecordPayment", attribute.Int64("booking_id", id))
	defer span.End()

	if req.Amount <= 0 {
		return nil, validationError("amount must be positive")
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return nil, validationError("method is required")
	}

	b, err := s.store.GetBookingByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if b.Status != models.BookingStatusInvoiced {
		return nil, fmt.Errorf("%w: payments need an INVOICED booking, booking %d is %s", ErrInvalidTransition, id, b.Status)
	}

	inv, err := s.store.GetInvoiceByBookingID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if req.Amount > inv.BalanceDue {
		return nil, validationError("amount %d exceeds balance due %d", req.Amount, inv.BalanceDue)
	}

	payment := &models.Payment{
		BookingID: id,
		Amount:    req.Amount,
		Method:    method,
		Reference: strings.TrimSpace(req.Reference),
	}
	inv, err = s.store.RecordPayment(ctx, payment)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: invoice of booking %d changed concurrently", ErrInvalidTransition, id)
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	settled := inv.BalanceDue == 0
	if settled {
		b.Status = models.BookingStatusPaid
		util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusInvoiced, models.BookingStatusPaid).Inc()
	}
	util.PaymentsReceivedTotal.Inc()
	util.PaymentAmountTotal.Add(float64(payment.Amount))
	s.logger.Info("Payment recorded",
		zap.Int64("booking_id", id),
		zap.Int64("amount", payment.Amount),
		zap.Int64("balance_due", inv.BalanceDue))

	event := &models.PaymentReceivedEvent{
		BaseEvent:  newBaseEvent(models.EventTypePaymentReceived),
		BookingID:  id,
		CustomerID: b.CustomerID,
		PaymentID:  payment.ID,
		Amount:     payment.Amount,
		BalanceDue: inv.BalanceDue,
		Settled:    settled,
	}
	if err := s.events.PublishPaymentReceived(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentReceived event", zap.Int64("booking_id", id), zap.Error(err))
	}

	toStatus := ""
	if settled {
		toStatus = models.BookingStatusPaid
	}
	s.record(ctx, actor, b, "payment", models.BookingStatusInvoiced, toStatus, map[string]interface{}{
		"amount":      payment.Amount,
		"method":      payment.Method,
		"balance_due": inv.BalanceDue,
	})
	s.pushUpdate(ctx, b)

	return &PaymentResult{Payment: payment, Invoice: inv, Booking: b}, nil
}

// RecordDeposit credits a deposit before the rental is completed
func (s *BookingService) RecordDeposit(ctx context.Context, actor Actor, id, amount int64) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	ctx, span := util.StartSpan(ctx, "BookingService.RecordDeposit", attribute.Int64("booking_id", id))
	defer span.End()

	if amount <= 0 {
		return nil, validationError("amount must be positive")
	}

	b, err := s.store.AddDeposit(ctx, id, amount, []string{
		models.BookingStatusPending,
		models.BookingStatusConfirmed,
		models.BookingStatusCollected,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			current, gerr := s.store.GetBookingByID(ctx, id)
			if gerr != nil {
				return nil, translateStoreError(gerr)
			}
			return nil, fmt.Errorf("%w: deposits are not accepted for %s bookings", ErrInvalidTransition, current.Status)
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	s.logger.Info("Deposit recorded", zap.Int64("booking_id", id), zap.Int64("amount", amount))
	s.record(ctx, actor, b, "deposit", "", "", map[string]interface{}{
		"amount":       amount,
		"deposit_paid": b.DepositPaid,
	})
	s.pushUpdate(ctx, b)
	return b, nil
}

// Get returns a booking visible to the actor
func (s *BookingService) Get(ctx context.Context, actor Actor, id int64) (*models.Booking, error) {
	b, err := s.store.GetBookingByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !actor.IsAdmin() && b.CustomerID != actor.UserID {
		return nil, ErrForbidden
	}
	return b, nil
}

// List returns bookings; customers only ever see their own
func (s *BookingService) List(ctx context.Context, actor Actor, f store.BookingFilter) ([]models.Booking, error) {
	if !actor.IsAdmin() {
		f.CustomerID = actor.UserID
	}
	if f.Status != "" && !models.IsBookingStatus(f.Status) {
		return nil, validationError("unknown status %q", f.Status)
	}
	return s.store.ListBookings(ctx, f)
}

// GetInvoice returns the invoice of a booking with its payments
func (s *BookingService) GetInvoice(ctx context.Context, actor Actor, id int64) (*InvoiceResult, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	inv, err := s.store.GetInvoiceByBookingID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	payments, err := s.store.ListPaymentsByBookingID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Booking: b, Invoice: inv, Payments: payments}, nil
}

// History returns the audit trail of a booking
func (s *BookingService) History(ctx context.Context, actor Actor, id int64) ([]audit.Entry, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.auditor.History(ctx, id)
}

func (s *BookingService) record(ctx context.Context, actor Actor, b *models.Booking, action, from, to string, details map[string]interface{}) {
	err := s.auditor.Record(ctx, audit.Entry{
		BookingID:  b.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Details:    details,
		At:         s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("Failed to record audit entry",
			zap.Int64("booking_id", b.ID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// pushUpdate tells the customer and the admins that a booking changed
func (s *BookingService) pushUpdate(ctx context.Context, b *models.Booking) {
	payload := map[string]interface{}{
		"booking_id": b.ID,
		"status":     b.Status,
		"updated_at": b.UpdatedAt,
	}
	_ = s.realtime.Publish(ctx, realtime.UserChannel(b.CustomerID), realtime.EventBookingUpdated, payload)
	_ = s.realtime.Publish(ctx, realtime.AdminChannel, realtime.EventBookingUpdated, payload)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func invoiceNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", at.Format("20060102"), suffix)
}
