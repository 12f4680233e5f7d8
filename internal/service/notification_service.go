package service

import (
	"context"
	"fmt"

	"rental-service/internal/models"
	"rental-service/internal/realtime"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

const (
	defaultNotificationPage = 50
	maxNotificationPage     = 200
)

// NotificationService turns booking events into notifications and serves them to users
type NotificationService struct {
	store    NotificationStore
	realtime Realtime
	logger   *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(store NotificationStore, rt Realtime) *NotificationService {
	return &NotificationService{
		store:    store,
		realtime: rt,
		logger:   util.GetLogger(),
	}
}

// once runs fn unless the event was already handled, then marks it handled
func (s *NotificationService) once(ctx context.Context, base models.BaseEvent, fn func() error) error {
	processed, err := s.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := fn(); err != nil {
		return err
	}

	if err := s.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.String("event_id", base.EventID), zap.Error(err))
	}
	return nil
}

// HandleBookingCreated tells admins about the new booking and acknowledges it to the customer
func (s *NotificationService) HandleBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleBookingCreated")
	defer span.End()

	return s.once(ctx, event.BaseEvent, func() error {
		bookingID := event.BookingID
		_ = s.realtime.Publish(ctx, realtime.AdminChannel, realtime.EventNewNotification, &models.Notification{
			Type:      models.NotificationBookingNew,
			Title:     "New booking",
			Body:      fmt.Sprintf("Booking #%d for vehicle #%d from %s to %s", event.BookingID, event.VehicleID, event.StartAt.Format("2006-01-02"), event.EndAt.Format("2006-01-02")),
			BookingID: &bookingID,
			CreatedAt: event.Timestamp,
		})

		return s.notify(ctx, &models.Notification{
			UserID:    event.CustomerID,
			Type:      models.NotificationBookingReceived,
			Title:     "Booking received",
			Body:      fmt.Sprintf("We received your booking #%d and will confirm it shortly.", event.BookingID),
			BookingID: &bookingID,
		})
	})
}

// HandleBookingStatusChanged notifies the customer of a confirm, collect, complete or cancel
func (s *NotificationService) HandleBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleBookingStatusChanged")
	defer span.End()

	return s.once(ctx, event.BaseEvent, func() error {
		n, ok := statusNotification(event)
		if !ok {
			s.logger.Info("No notification for status", zap.String("status", event.ToStatus))
			return nil
		}
		return s.notify(ctx, n)
	})
}

func statusNotification(event *models.BookingStatusChangedEvent) (*models.Notification, bool) {
	bookingID := event.BookingID
	n := &models.Notification{UserID: event.CustomerID, BookingID: &bookingID}

	switch event.ToStatus {
	case models.BookingStatusConfirmed:
		n.Type = models.NotificationBookingConfirmed
		n.Title = "Booking confirmed"
		n.Body = fmt.Sprintf("Your booking #%d is confirmed.", bookingID)
	case models.BookingStatusCollected:
		n.Type = models.NotificationBookingCollected
		n.Title = "Vehicle collected"
		n.Body = fmt.Sprintf("Enjoy your trip. Booking #%d is now in progress.", bookingID)
	case models.BookingStatusCompleted:
		n.Type = models.NotificationBookingCompleted
		n.Title = "Rental completed"
		n.Body = fmt.Sprintf("Thanks for returning the vehicle. Booking #%d is completed.", bookingID)
	case models.BookingStatusCancelled:
		n.Type = models.NotificationBookingCancelled
		n.Title = "Booking cancelled"
		n.Body = fmt.Sprintf("Booking #%d was cancelled.", bookingID)
		if event.Reason != "" {
			n.Body = fmt.Sprintf("Booking #%d was cancelled: %s", bookingID, event.Reason)
		}
	default:
		return nil, false
	}
	return n, true
}

// HandleInvoiceIssued sends the invoice total to the customer
func (s *NotificationService) HandleInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleInvoiceIssued")
	defer span.End()

	return s.once(ctx, event.BaseEvent, func() error {
		bookingID := event.BookingID
		body := fmt.Sprintf("Invoice %s for booking #%d: total %s, balance due %s.",
			event.InvoiceNumber, bookingID, FormatMoney(event.Total), FormatMoney(event.BalanceDue))
		return s.notify(ctx, &models.Notification{
			UserID:    event.CustomerID,
			Type:      models.NotificationInvoiceIssued,
			Title:     "Invoice issued",
			Body:      body,
			BookingID: &bookingID,
		})
	})
}

// HandlePaymentReceived confirms a payment and the remaining balance to the customer
func (s *NotificationService) HandlePaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandlePaymentReceived")
	defer span.End()

	return s.once(ctx, event.BaseEvent, func() error {
		bookingID := event.BookingID
		body := fmt.Sprintf("We received %s for booking #%d. Remaining balance: %s.",
			FormatMoney(event.Amount), bookingID, FormatMoney(event.BalanceDue))
		if event.Settled {
			body = fmt.Sprintf("We received %s for booking #%d. Your booking is fully paid.",
				FormatMoney(event.Amount), bookingID)
		}
		return s.notify(ctx, &models.Notification{
			UserID:    event.CustomerID,
			Type:      models.NotificationPaymentReceived,
			Title:     "Payment received",
			Body:      body,
			BookingID: &bookingID,
		})
	})
}

// notify persists a notification and pushes it to the user's channel
func (s *NotificationService) notify(ctx context.Context, n *models.Notification) error {
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	util.NotificationsCreatedTotal.WithLabelValues(n.Type).Inc()
	s.logger.Info("Notification created",
		zap.Int64("user_id", n.UserID),
		zap.String("type", n.Type))

	_ = s.realtime.Publish(ctx, realtime.UserChannel(n.UserID), realtime.EventNewNotification, n)
	return nil
}

// List returns the actor's newest notifications
func (s *NotificationService) List(ctx context.Context, actor Actor, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if limit > maxNotificationPage {
		limit = maxNotificationPage
	}
	return s.store.ListNotifications(ctx, actor.UserID, unreadOnly, limit)
}

// UnreadCount counts the actor's unread notifications
func (s *NotificationService) UnreadCount(ctx context.Context, actor Actor) (int64, error) {
	return s.store.CountUnreadNotifications(ctx, actor.UserID)
}

// MarkRead marks one of the actor's notifications as read
func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id int64) error {
	return translateStoreError(s.store.MarkNotificationRead(ctx, id, actor.UserID))
}

// MarkAllRead marks every notification of the actor as read
func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, actor.UserID)
}

// FormatMoney renders minor units as a decimal amount
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
