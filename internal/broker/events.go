package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the subset of Producer used by EventPublisher
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing booking domain events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func bookingKey(bookingID int64) string {
	return fmt.Sprintf("booking-%d", bookingID)
}

// PublishBookingCreated publishes BookingCreated event
func (ep *EventPublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingStatusChanged publishes a confirm, collect, complete or cancel event
func (ep *EventPublisher) PublishBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishInvoiceIssued publishes InvoiceIssued event
func (ep *EventPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentReceived publishes PaymentReceived event
func (ep *EventPublisher) PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// EventHandler routes incoming booking events to registered callbacks
type EventHandler struct {
	onBookingCreated       func(context.Context, *models.BookingCreatedEvent) error
	onBookingStatusChanged func(context.Context, *models.BookingStatusChangedEvent) error
	onInvoiceIssued        func(context.Context, *models.InvoiceIssuedEvent) error
	onPaymentReceived      func(context.Context, *models.PaymentReceivedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnBookingCreated registers a handler for BookingCreated events
func (eh *EventHandler) OnBookingCreated(handler func(context.Context, *models.BookingCreatedEvent) error) {
	eh.onBookingCreated = handler
}

// OnBookingStatusChanged registers a handler for confirm, collect, complete and cancel events
func (eh *EventHandler) OnBookingStatusChanged(handler func(context.Context, *models.BookingStatusChangedEvent) error) {
	eh.onBookingStatusChanged = handler
}

// OnInvoiceIssued registers a handler for InvoiceIssued events
func (eh *EventHandler) OnInvoiceIssued(handler func(context.Context, *models.InvoiceIssuedEvent) error) {
	eh.onInvoiceIssued = handler
}

// OnPaymentReceived registers a handler for PaymentReceived events
func (eh *EventHandler) OnPaymentReceived(handler func(context.Context, *models.PaymentReceivedEvent) error) {
	eh.onPaymentReceived = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		util.EventsConsumedTotal.WithLabelValues("unknown", "malformed").Inc()
		eh.logger.Warn("Dropping malformed event", zap.Error(err))
		// malformed payloads can never succeed; let the consumer commit past them
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	err := eh.route(ctx, baseEvent.EventType, msg.Value)
	result := "ok"
	if err != nil {
		result = "error"
	}
	util.EventsConsumedTotal.WithLabelValues(baseEvent.EventType, result).Inc()
	return err
}

func (eh *EventHandler) route(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case models.EventTypeBookingCreated:
		if eh.onBookingCreated != nil {
			var event models.BookingCreatedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BookingCreated event: %w", err)
			}
			return eh.onBookingCreated(ctx, &event)
		}

	case models.EventTypeBookingConfirmed, models.EventTypeBookingCollected,
		models.EventTypeBookingCompleted, models.EventTypeBookingCancelled:
		if eh.onBookingStatusChanged != nil {
			var event models.BookingStatusChangedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BookingStatusChanged event: %w", err)
			}
			return eh.onBookingStatusChanged(ctx, &event)
		}

	case models.EventTypeInvoiceIssued:
		if eh.onInvoiceIssued != nil {
			var event models.InvoiceIssuedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InvoiceIssued event: %w", err)
			}
			return eh.onInvoiceIssued(ctx, &event)
		}

	case models.EventTypePaymentReceived:
		if eh.onPaymentReceived != nil {
			var event models.PaymentReceivedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentReceived event: %w", err)
			}
			return eh.onPaymentReceived(ctx, &event)
		}

	default:
		eh.logger.Info("Unhandled event type", zap.String("type", eventType))
	}

	return nil
}
