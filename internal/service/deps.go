package service

import (
	"context"
	"errors"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
)

// Actor is the authenticated caller of a service operation
type Actor struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// CatalogStore persists vehicles and packages
type CatalogStore interface {
	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, f store.VehicleFilter) ([]models.Vehicle, error)
	SetVehicleStatus(ctx context.Context, id int64, from, to string) error
	CreatePackage(ctx context.Context, p *models.Package) error
	UpdatePackage(ctx context.Context, p *models.Package) error
	GetPackageByID(ctx context.Context, id int64) (*models.Package, error)
	ListPackages(ctx context.Context, vehicleID int64, activeOnly bool) ([]models.Package, error)
}

// BookingStore persists bookings, invoices and payments
type BookingStore interface {
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	GetPackageByID(ctx context.Context, id int64) (*models.Package, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	ListBookings(ctx context.Context, f store.BookingFilter) ([]models.Booking, error)
	HasOverlappingBooking(ctx context.Context, vehicleID int64, start, end time.Time) (bool, error)
	ApplyTransition(ctx context.Context, t store.Transition) error
	AddDeposit(ctx context.Context, bookingID, amount int64, statuses []string) (*models.Booking, error)
	IssueInvoice(ctx context.Context, inv *models.Invoice, b *models.Booking, settle bool) error
	GetInvoiceByBookingID(ctx context.Context, bookingID int64) (*models.Invoice, error)
	RecordPayment(ctx context.Context, p *models.Payment) (*models.Invoice, error)
	ListPaymentsByBookingID(ctx context.Context, bookingID int64) ([]models.Payment, error)
}

// ChatStore persists conversations, participants and messages
type ChatStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID, customerID int64, status string) ([]models.Conversation, error)
	CloseConversation(ctx context.Context, id int64) error
	EnsureParticipant(ctx context.Context, conversationID, userID int64, role string) error
	ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessageByClientID(ctx context.Context, conversationID int64, clientID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID int64, role string) error
	UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error)
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
}

// NotificationStore persists notifications and consumer idempotency markers
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID int64) (int64, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// VehicleLocker serialises booking creation per vehicle
type VehicleLocker interface {
	AcquireVehicleHold(ctx context.Context, vehicleID int64, token string, ttl time.Duration) (bool, error)
	ReleaseVehicleHold(ctx context.Context, vehicleID int64, token string) error
}

// UnreadCache caches per-conversation unread counters of a user
type UnreadCache interface {
	GetUnreadCounts(ctx context.Context, userID int64) (map[int64]int64, bool, error)
	SetUnreadCounts(ctx context.Context, userID int64, counts map[int64]int64, ttl time.Duration) error
	IncrUnread(ctx context.Context, userID, conversationID, delta int64) error
	ResetUnread(ctx context.Context, userID, conversationID int64) error
}

// BookingEvents publishes booking domain events
type BookingEvents interface {
	PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	PublishBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
	PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error
}

// Realtime pushes an event to a realtime channel
type Realtime interface {
	Publish(ctx context.Context, channel, event string, data interface{}) error
}

// translateStoreError maps store sentinels onto service errors
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrInvalidTransition
	default:
		return err
	}
}
