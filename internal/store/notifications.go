package store

import (
	"context"

	"rental-service/internal/models"
)

// CreateNotification inserts a notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO notifications (user_id, type, title, body, booking_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		n.UserID, n.Type, n.Title, n.Body, n.BookingID)
	return row.Scan(&n.ID, &n.CreatedAt)
}

// ListNotifications retrieves the newest notifications of a user
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT * FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, unreadOnly, limit)
	return notifications, err
}

// CountUnreadNotifications counts unread notifications of a user
func (s *Store) CountUnreadNotifications(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read", userID)
	return n, err
}

// MarkNotificationRead marks one notification of the user as read
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of the user as read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
