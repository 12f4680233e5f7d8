package store

import (
	"context"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateConversation inserts a conversation with the customer as first participant
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO conversations (customer_id, booking_id, subject, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			c.CustomerID, c.BookingID, c.Subject, c.Status)
		if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
			return translate(err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, last_read_at)
			VALUES ($1, $2, $3, NOW())`,
			c.ID, c.CustomerID, models.RoleCustomer)
		return err
	})
}

// GetConversationByID retrieves a conversation by ID
func (s *Store) GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM conversations WHERE id = $1", id); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListConversations returns conversations visible to the user with their unread counts.
// customerID scopes the listing to one customer; zero lists every conversation.
func (s *Store) ListConversations(ctx context.Context, userID, customerID int64, status string) ([]models.Conversation, error) {
	conversations := []models.Conversation{}
	err := s.db.SelectContext(ctx, &conversations, `
		SELECT c.*,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.sender_id <> $1
			 AND m.created_at > COALESCE(p.last_read_at, 'epoch')) AS unread_count
		FROM conversations c
		LEFT JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1
		WHERE ($2 = 0 OR c.customer_id = $2)
		AND ($3 = '' OR c.status = $3)
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`,
		userID, customerID, status)
	return conversations, err
}

// CloseConversation closes an open conversation
func (s *Store) CloseConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET status = 'CLOSED' WHERE id = $1 AND status = 'OPEN'", id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// EnsureParticipant adds the user to the conversation if not already present
func (s *Store) EnsureParticipant(ctx context.Context, conversationID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID, role)
	return err
}

// ListParticipants retrieves the participants of a conversation
func (s *Store) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	participants := []models.Participant{}
	err := s.db.SelectContext(ctx, &participants,
		"SELECT * FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id", conversationID)
	return participants, err
}

// CreateMessage inserts a message and advances the conversation and sender read markers
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO messages (conversation_id, sender_id, sender_role, body, client_message_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			m.ConversationID, m.SenderID, m.SenderRole, m.Body, m.ClientMessageID)
		if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
			return translate(err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET last_message_at = $1 WHERE id = $2",
			m.CreatedAt, m.ConversationID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, last_read_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = EXCLUDED.last_read_at`,
			m.ConversationID, m.SenderID, m.SenderRole, m.CreatedAt)
		return err
	})
}

// GetMessageByClientID returns the message sent with the given client ID, or nil
func (s *Store) GetMessageByClientID(ctx context.Context, conversationID int64, clientID string) (*models.Message, error) {
	var m models.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM messages WHERE conversation_id = $1 AND client_message_id = $2",
		conversationID, clientID)
	if err != nil {
		if translate(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMessages returns up to limit messages older than beforeID, in ascending order
func (s *Store) ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.SelectContext(ctx, &messages, `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND ($2 = 0 OR id < $2)
			ORDER BY id DESC
			LIMIT $3
		) page ORDER BY id ASC`,
		conversationID, beforeID, limit)
	return messages, err
}

// MarkConversationRead moves the user's read marker to now
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, role, last_read_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = NOW()`,
		conversationID, userID, role)
	return err
}

// UnreadCounts returns unread message counts per conversation the user participates in
func (s *Store) UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error) {
	var rows []struct {
		ConversationID int64 `db:"conversation_id"`
		Unread         int64 `db:"unread"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.conversation_id, COUNT(m.id) AS unread
		FROM conversation_participants p
		LEFT JOIN messages m ON m.conversation_id = p.conversation_id
			AND m.created_at > p.last_read_at AND m.sender_id <> p.user_id
		WHERE p.user_id = $1
		GROUP BY p.conversation_id`, userID)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int64, len(rows))
	for _, r := range rows {
		counts[r.ConversationID] = r.Unread
	}
	return counts, nil
}
