package models

import "time"

// Vehicle represents a rentable vehicle in the fleet
type Vehicle struct {
	ID               int64     `db:"id" json:"id"`
	PlateNumber      string    `db:"plate_number" json:"plate_number"`
	Make             string    `db:"make" json:"make"`
	Model            string    `db:"model" json:"model"`
	Category         string    `db:"category" json:"category"`
	Seats            int       `db:"seats" json:"seats"`
	DailyRate        int64     `db:"daily_rate" json:"daily_rate"`
	DailyKmAllowance int64     `db:"daily_km_allowance" json:"daily_km_allowance"`
	ExtraKmRate      int64     `db:"extra_km_rate" json:"extra_km_rate"`
	Odometer         int64     `db:"odometer" json:"odometer"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Package is a bundled pricing offer, optionally scoped to specific vehicles
type Package struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	Price        int64     `db:"price" json:"price"`
	IncludedKm   int64     `db:"included_km" json:"included_km"`
	DurationDays int       `db:"duration_days" json:"duration_days"`
	Active       bool      `db:"active" json:"active"`
	VehicleIDs   []int64   `db:"-" json:"vehicle_ids"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Booking is a rental reservation moving through the status lifecycle
type Booking struct {
	ID                int64      `db:"id" json:"id"`
	CustomerID        int64      `db:"customer_id" json:"customer_id"`
	VehicleID         int64      `db:"vehicle_id" json:"vehicle_id"`
	PackageID         *int64     `db:"package_id" json:"package_id,omitempty"`
	StartAt           time.Time  `db:"start_at" json:"start_at"`
	EndAt             time.Time  `db:"end_at" json:"end_at"`
	RentalDays        int        `db:"rental_days" json:"rental_days"`
	BaseAmount        int64      `db:"base_amount" json:"base_amount"`
	KmAllowance       int64      `db:"km_allowance" json:"km_allowance"`
	Status            string     `db:"status" json:"status"`
	OdometerStart     *int64     `db:"odometer_start" json:"odometer_start,omitempty"`
	OdometerEnd       *int64     `db:"odometer_end" json:"odometer_end,omitempty"`
	KmDriven          int64      `db:"km_driven" json:"km_driven"`
	ExtraKm           int64      `db:"extra_km" json:"extra_km"`
	ExtraMileageCost  int64      `db:"extra_mileage_cost" json:"extra_mileage_cost"`
	AdditionalCharges int64      `db:"additional_charges" json:"additional_charges"`
	DepositPaid       int64      `db:"deposit_paid" json:"deposit_paid"`
	IdempotencyKey    string     `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CancelReason      string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy       *int64     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	ConfirmedAt       *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CollectedAt       *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Invoice is issued at most once per booking
type Invoice struct {
	ID             int64      `db:"id" json:"id"`
	BookingID      int64      `db:"booking_id" json:"booking_id"`
	InvoiceNumber  string     `db:"invoice_number" json:"invoice_number"`
	Subtotal       int64      `db:"subtotal" json:"subtotal"`
	DiscountAmount int64      `db:"discount_amount" json:"discount_amount"`
	TaxRateBPS     int64      `db:"tax_rate_bps" json:"tax_rate_bps"`
	TaxAmount      int64      `db:"tax_amount" json:"tax_amount"`
	Total          int64      `db:"total" json:"total"`
	AmountPaid     int64      `db:"amount_paid" json:"amount_paid"`
	BalanceDue     int64      `db:"balance_due" json:"balance_due"`
	Status         string     `db:"status" json:"status"`
	Notes          string     `db:"notes" json:"notes,omitempty"`
	IssuedAt       time.Time  `db:"issued_at" json:"issued_at"`
	PaidAt         *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}

// Payment records money received against an invoice
type Payment struct {
	ID        int64     `db:"id" json:"id"`
	BookingID int64     `db:"booking_id" json:"booking_id"`
	InvoiceID int64     `db:"invoice_id" json:"invoice_id"`
	Amount    int64     `db:"amount" json:"amount"`
	Method    string    `db:"method" json:"method"`
	Reference string    `db:"reference" json:"reference,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a support chat thread
type Conversation struct {
	ID            int64      `db:"id" json:"id"`
	CustomerID    int64      `db:"customer_id" json:"customer_id"`
	BookingID     *int64     `db:"booking_id" json:"booking_id,omitempty"`
	Subject       string     `db:"subject" json:"subject"`
	Status        string     `db:"status" json:"status"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UnreadCount   int64      `db:"unread_count" json:"unread_count"`
}

// Participant tracks a user's read position in a conversation
type Participant struct {
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	LastReadAt     time.Time `db:"last_read_at" json:"last_read_at"`
}

// Message is a single chat entry
type Message struct {
	ID              int64     `db:"id" json:"id"`
	ConversationID  int64     `db:"conversation_id" json:"conversation_id"`
	SenderID        int64     `db:"sender_id" json:"sender_id"`
	SenderRole      string    `db:"sender_role" json:"sender_role"`
	Body            string    `db:"body" json:"body"`
	ClientMessageID *string   `db:"client_message_id" json:"client_message_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Notification is a persisted per-user notice
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	BookingID *int64    `db:"booking_id" json:"booking_id,omitempty"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Vehicle statuses
const (
	VehicleStatusAvailable   = "AVAILABLE"
	VehicleStatusReserved    = "RESERVED"
	VehicleStatusRented      = "RENTED"
	VehicleStatusMaintenance = "MAINTENANCE"
)

// Invoice statuses
const (
	InvoiceStatusOpen = "OPEN"
	InvoiceStatusPaid = "PAID"
)

// Conversation statuses
const (
	ConversationStatusOpen   = "OPEN"
	ConversationStatusClosed = "CLOSED"
)

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Notification types
const (
	NotificationBookingReceived  = "booking_received"
	NotificationBookingNew       = "booking_new"
	NotificationBookingConfirmed = "booking_confirmed"
	NotificationBookingCollected = "booking_collected"
	NotificationBookingCompleted = "booking_completed"
	NotificationBookingCancelled = "booking_cancelled"
	NotificationInvoiceIssued    = "invoice_issued"
	NotificationPaymentReceived  = "payment_received"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
