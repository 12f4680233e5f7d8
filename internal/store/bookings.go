package store

import (
	"context"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BookingFilter narrows booking listings; zero values match everything
type BookingFilter struct {
	CustomerID int64
	VehicleID  int64
	Status     string
	Limit      int
	Offset     int
}

// Transition describes a guarded booking status change
type Transition struct {
	// Booking carries the new status and derived fields to persist
	Booking *models.Booking
	From    string
	// SyncVehicle recomputes the vehicle status from its active bookings
	SyncVehicle bool
	// VehicleOdometer, when set, updates the vehicle odometer
	VehicleOdometer *int64
}

// CreateBooking creates a new booking
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (customer_id, vehicle_id, package_id, start_at, end_at, rental_days,
			base_amount, km_allowance, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		b.CustomerID, b.VehicleID, b.PackageID, b.StartAt, b.EndAt, b.RentalDays,
		b.BaseAmount, b.KmAllowance, b.Status, b.IdempotencyKey)
	return translate(row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt))
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE id = $1", id); err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// GetBookingByIdempotencyKey retrieves a booking by idempotency key
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE idempotency_key = $1", key)
	if err != nil {
		if translate(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ListBookings retrieves bookings matching the filter, newest first
func (s *Store) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE ($1 = 0 OR customer_id = $1)
		AND ($2 = 0 OR vehicle_id = $2)
		AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		f.CustomerID, f.VehicleID, f.Status, f.Limit, f.Offset)
	return bookings, err
}

// HasOverlappingBooking reports whether an active booking overlaps the period
func (s *Store) HasOverlappingBooking(ctx context.Context, vehicleID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE vehicle_id = $1 AND status IN ('PENDING', 'CONFIRMED', 'COLLECTED')
			AND start_at < $3 AND end_at > $2
		)`, vehicleID, start, end)
	return exists, err
}

// ApplyTransition persists a status change only if the booking is still in t.From
func (s *Store) ApplyTransition(ctx context.Context, t Transition) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateBookingGuardedTx(ctx, tx, t.Booking, t.From); err != nil {
			return err
		}

		b := t.Booking
		if t.VehicleOdometer != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE vehicles SET odometer = GREATEST(odometer, $1), updated_at = NOW() WHERE id = $2",
				*t.VehicleOdometer, b.VehicleID); err != nil {
				return fmt.Errorf("failed to update odometer: %w", err)
			}
		}
		if t.SyncVehicle {
			return syncVehicleStatusTx(ctx, tx, b.VehicleID)
		}
		return nil
	})
}

// updateBookingGuardedTx writes the lifecycle columns of b when the row is still in from.
// deposit_paid is owned by AddDeposit and only read back here.
func updateBookingGuardedTx(ctx context.Context, tx *sqlx.Tx, b *models.Booking, from string) error {
	row := tx.QueryRowxContext(ctx, `
		UPDATE bookings SET
			status = $1,
			odometer_start = $2,
			odometer_end = $3,
			km_driven = $4,
			extra_km = $5,
			extra_mileage_cost = $6,
			additional_charges = $7,
			cancel_reason = $8,
			cancelled_by = $9,
			confirmed_at = $10,
			collected_at = $11,
			completed_at = $12,
			cancelled_at = $13,
			updated_at = NOW()
		WHERE id = $14 AND status = $15
		RETURNING updated_at, deposit_paid`,
		b.Status, b.OdometerStart, b.OdometerEnd, b.KmDriven, b.ExtraKm, b.ExtraMileageCost,
		b.AdditionalCharges, b.CancelReason, b.CancelledBy,
		b.ConfirmedAt, b.CollectedAt, b.CompletedAt, b.CancelledAt,
		b.ID, from)

	err := row.Scan(&b.UpdatedAt, &b.DepositPaid)
	if err != nil {
		if translate(err) == ErrNotFound {
			return ErrConflict
		}
		return err
	}
	return nil
}

// syncVehicleStatusTx derives the vehicle status from its bookings: RENTED while one is
// collected, RESERVED while one is confirmed, AVAILABLE otherwise. MAINTENANCE is left alone.
func syncVehicleStatusTx(ctx context.Context, tx *sqlx.Tx, vehicleID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE vehicles SET
			status = CASE
				WHEN EXISTS (SELECT 1 FROM bookings WHERE vehicle_id = $1 AND status = 'COLLECTED') THEN 'RENTED'
				WHEN EXISTS (SELECT 1 FROM bookings WHERE vehicle_id = $1 AND status = 'CONFIRMED') THEN 'RESERVED'
				ELSE 'AVAILABLE'
			END,
			updated_at = NOW()
		WHERE id = $1 AND status <> 'MAINTENANCE'`,
		vehicleID)
	if err != nil {
		return fmt.Errorf("failed to sync vehicle status: %w", err)
	}
	return nil
}

// AddDeposit credits a deposit while the booking is in one of the given statuses
func (s *Store) AddDeposit(ctx context.Context, bookingID, amount int64, statuses []string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, `
		UPDATE bookings SET deposit_paid = deposit_paid + $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING *`, amount, bookingID, pq.Array(statuses))
	if err != nil {
		if translate(err) == ErrNotFound {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &b, nil
}

// IssueInvoice moves a completed booking to INVOICED and inserts its invoice atomically.
// When settle is true the booking continues to PAID in the same transaction.
func (s *Store) IssueInvoice(ctx context.Context, inv *models.Invoice, b *models.Booking, settle bool) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		b.Status = models.BookingStatusInvoiced
		if err := updateBookingGuardedTx(ctx, tx, b, models.BookingStatusCompleted); err != nil {
			return err
		}

		row := tx.QueryRowxContext(ctx, `
			INSERT INTO invoices (booking_id, invoice_number, subtotal, discount_amount, tax_rate_bps,
				tax_amount, total, amount_paid, balance_due, status, notes, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, issued_at`,
			inv.BookingID, inv.InvoiceNumber, inv.Subtotal, inv.DiscountAmount, inv.TaxRateBPS,
			inv.TaxAmount, inv.Total, inv.AmountPaid, inv.BalanceDue, inv.Status, inv.Notes, inv.PaidAt)
		if err := row.Scan(&inv.ID, &inv.IssuedAt); err != nil {
			return translate(err)
		}

		if settle {
			b.Status = models.BookingStatusPaid
			return updateBookingGuardedTx(ctx, tx, b, models.BookingStatusInvoiced)
		}
		return nil
	})
}

// GetInvoiceByBookingID retrieves the invoice of a booking
func (s *Store) GetInvoiceByBookingID(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.GetContext(ctx, &inv, "SELECT * FROM invoices WHERE booking_id = $1", bookingID); err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

// RecordPayment applies a payment to an open invoice of an INVOICED booking.
// The booking moves to PAID when the balance reaches zero.
func (s *Store) RecordPayment(ctx context.Context, p *models.Payment) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &inv, `
			UPDATE invoices SET
				amount_paid = amount_paid + $1,
				balance_due = balance_due - $1,
				status = CASE WHEN balance_due - $1 = 0 THEN 'PAID' ELSE status END,
				paid_at = CASE WHEN balance_due - $1 = 0 THEN NOW() ELSE paid_at END
			WHERE booking_id = $2 AND status = 'OPEN' AND balance_due >= $1
			AND EXISTS (SELECT 1 FROM bookings WHERE id = $2 AND status = 'INVOICED')
			RETURNING *`, p.Amount, p.BookingID)
		if err != nil {
			if translate(err) == ErrNotFound {
				return ErrConflict
			}
			return err
		}

		p.InvoiceID = inv.ID
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO payments (booking_id, invoice_id, amount, method, reference)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			p.BookingID, p.InvoiceID, p.Amount, p.Method, p.Reference)
		if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
			return err
		}

		if inv.BalanceDue == 0 {
			res, err := tx.ExecContext(ctx,
				"UPDATE bookings SET status = 'PAID', updated_at = NOW() WHERE id = $1 AND status = 'INVOICED'",
				p.BookingID)
			if err != nil {
				return err
			}
			return expectOneRow(res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListPaymentsByBookingID retrieves payments for a booking
func (s *Store) ListPaymentsByBookingID(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE booking_id = $1 ORDER BY created_at", bookingID)
	return payments, err
}
