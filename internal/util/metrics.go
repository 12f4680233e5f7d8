package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	})

	BookingsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_rejected_total",
		Help: "Total number of booking requests rejected",
	}, []string{"reason"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Total number of booking status transitions",
	}, []string{"from", "to"})

	BookingTransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_rejected_total",
		Help: "Total number of booking transitions rejected by the status guard",
	}, []string{"to"})

	VehicleHoldLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vehicle_hold_latency_seconds",
		Help:    "Latency of acquiring the vehicle hold during booking creation",
		Buckets: prometheus.DefBuckets,
	})

	InvoicesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_issued_total",
		Help: "Total number of invoices issued",
	})

	PaymentsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_received_total",
		Help: "Total number of payments recorded",
	})

	PaymentAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_amount_minor_units_total",
		Help: "Sum of recorded payments in minor currency units",
	})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages accepted",
	}, []string{"sender_role", "result"})

	NotificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of notifications created",
	}, []string{"type"})

	RealtimePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_published_total",
		Help: "Total number of realtime events published",
	}, []string{"event", "result"})

	RealtimeDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_total",
		Help: "Total number of realtime deliveries dropped for slow subscribers",
	})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Number of open websocket connections",
	})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Total number of domain events consumed",
	}, []string{"type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
