package worker

import (
	"context"

	"rental-service/internal/broker"
	"rental-service/internal/models"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers Kafka messages to a handler until the context ends
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Notifier turns booking events into notifications
type Notifier interface {
	HandleBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	HandleBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error
	HandleInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
	HandlePaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error
}

// NotificationWorker consumes booking events and produces notifications
type NotificationWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer MessageSource, notifier Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnBookingCreated(notifier.HandleBookingCreated)
	eventHandler.OnBookingStatusChanged(notifier.HandleBookingStatusChanged)
	eventHandler.OnInvoiceIssued(notifier.HandleInvoiceIssued)
	eventHandler.OnPaymentReceived(notifier.HandlePaymentReceived)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
