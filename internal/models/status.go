package models

// Booking statuses
const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusCollected = "COLLECTED"
	BookingStatusCompleted = "COMPLETED"
	BookingStatusInvoiced  = "INVOICED"
	BookingStatusPaid      = "PAID"
	BookingStatusCancelled = "CANCELLED"
)

// bookingTransitions lists the allowed predecessors for every target status.
var bookingTransitions = map[string][]string{
	BookingStatusConfirmed: {BookingStatusPending},
	BookingStatusCollected: {BookingStatusConfirmed},
	BookingStatusCompleted: {BookingStatusCollected},
	BookingStatusInvoiced:  {BookingStatusCompleted},
	BookingStatusPaid:      {BookingStatusInvoiced},
	BookingStatusCancelled: {BookingStatusPending, BookingStatusConfirmed, BookingStatusCollected},
}

// CanTransition reports whether a booking may move from one status to another
func CanTransition(from, to string) bool {
	for _, s := range bookingTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses a booking must be in to move to the given status
func Predecessors(to string) []string {
	return append([]string(nil), bookingTransitions[to]...)
}

// IsTerminalBookingStatus reports whether no further transition is possible
func IsTerminalBookingStatus(status string) bool {
	return status == BookingStatusPaid || status == BookingStatusCancelled
}

// IsActiveBookingStatus reports whether the booking still occupies its vehicle
func IsActiveBookingStatus(status string) bool {
	switch status {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCollected:
		return true
	}
	return false
}

// IsBookingStatus reports whether status names a booking status
func IsBookingStatus(status string) bool {
	switch status {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCollected, BookingStatusCompleted,
		BookingStatusInvoiced, BookingStatusPaid, BookingStatusCancelled:
		return true
	}
	return false
}
