package models

import "time"

// Event types
const (
	EventTypeBookingCreated   = "BOOKING_CREATED"
	EventTypeBookingConfirmed = "BOOKING_CONFIRMED"
	EventTypeBookingCollected = "BOOKING_COLLECTED"
	EventTypeBookingCompleted = "BOOKING_COMPLETED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
	EventTypeInvoiceIssued    = "INVOICE_ISSUED"
	EventTypePaymentReceived  = "PAYMENT_RECEIVED"
)

// StatusEventTypes maps a booking status to the event emitted on entering it
var StatusEventTypes = map[string]string{
	BookingStatusConfirmed: EventTypeBookingConfirmed,
	BookingStatusCollected: EventTypeBookingCollected,
	BookingStatusCompleted: EventTypeBookingCompleted,
	BookingStatusCancelled: EventTypeBookingCancelled,
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a customer places a booking
type BookingCreatedEvent struct {
	BaseEvent
	BookingID  int64     `json:"booking_id"`
	CustomerID int64     `json:"customer_id"`
	VehicleID  int64     `json:"vehicle_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	BaseAmount int64     `json:"base_amount"`
}

// BookingStatusChangedEvent published on confirm, collect, complete and cancel
type BookingStatusChangedEvent struct {
	BaseEvent
	BookingID  int64  `json:"booking_id"`
	CustomerID int64  `json:"customer_id"`
	VehicleID  int64  `json:"vehicle_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    int64  `json:"actor_id"`
	Reason     string `json:"reason,omitempty"`
}

// InvoiceIssuedEvent published when a completed booking is invoiced
type InvoiceIssuedEvent struct {
	BaseEvent
	BookingID     int64  `json:"booking_id"`
	CustomerID    int64  `json:"customer_id"`
	InvoiceID     int64  `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	Total         int64  `json:"total"`
	BalanceDue    int64  `json:"balance_due"`
}

// PaymentReceivedEvent published for every recorded payment
type PaymentReceivedEvent struct {
	BaseEvent
	BookingID  int64 `json:"booking_id"`
	CustomerID int64 `json:"customer_id"`
	PaymentID  int64 `json:"payment_id"`
	Amount     int64 `json:"amount"`
	BalanceDue int64 `json:"balance_due"`
	Settled    bool  `json:"settled"`
}
