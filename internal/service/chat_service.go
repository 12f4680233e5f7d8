package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"rental-service/internal/models"
	"rental-service/internal/realtime"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	maxMessageLength    = 4000
	defaultMessagePage  = 50
	maxMessagePage      = 200
	defaultConversation = "Support"
)

// ChatService runs support conversations
type ChatService struct {
	store    ChatStore
	cache    UnreadCache
	realtime Realtime
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(store ChatStore, cache UnreadCache, rt Realtime, cacheTTL time.Duration) *ChatService {
	return &ChatService{
		store:    store,
		cache:    cache,
		realtime: rt,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// StartConversationRequest opens a conversation, optionally with a first message
type StartConversationRequest struct {
	Subject         string `json:"subject"`
	BookingID       *int64 `json:"booking_id,omitempty"`
	Message         string `json:"message"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	// CustomerID lets an admin open a conversation with a customer
	CustomerID int64 `json:"customer_id,omitempty"`
}

// SendMessageRequest is a chat message from a client
type SendMessageRequest struct {
	Body            string `json:"body" binding:"required"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// SendResult is a stored message; Duplicate is set when the client ID had been seen before
type SendResult struct {
	Message   *models.Message `json:"message"`
	Duplicate bool            `json:"duplicate"`
}

// StartResult is a new conversation and its first message, if any
type StartResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Message      *models.Message      `json:"message,omitempty"`
}

// UnreadSummary holds unread message counts per conversation
type UnreadSummary struct {
	Conversations map[int64]int64 `json:"conversations"`
	Total         int64           `json:"total"`
}

// StartConversation opens a conversation for a customer
func (s *ChatService) StartConversation(ctx context.Context, actor Actor, req *StartConversationRequest) (*StartResult, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.StartConversation")
	defer span.End()

	customerID := actor.UserID
	if actor.IsAdmin() {
		if req.CustomerID <= 0 {
			return nil, validationError("customer_id is required")
		}
		customerID = req.CustomerID
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = defaultConversation
	}

	if req.BookingID != nil {
		b, err := s.store.GetBookingByID(ctx, *req.BookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, validationError("booking %d does not exist", *req.BookingID)
			}
			return nil, err
		}
		if b.CustomerID != customerID {
			return nil, ErrForbidden
		}
	}

	conv := &models.Conversation{
		CustomerID: customerID,
		BookingID:  req.BookingID,
		Subject:    subject,
		Status:     models.ConversationStatusOpen,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if actor.IsAdmin() {
		if err := s.store.EnsureParticipant(ctx, conv.ID, actor.UserID, actor.Role); err != nil {
			return nil, fmt.Errorf("failed to join conversation: %w", err)
		}
	}

	s.logger.Info("Conversation started",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("customer_id", customerID))

	result := &StartResult{Conversation: conv}
	if strings.TrimSpace(req.Message) == "" {
		return result, nil
	}

	sent, err := s.SendMessage(ctx, actor, conv.ID, &SendMessageRequest{
		Body:            req.Message,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return nil, err
	}
	result.Message = sent.Message
	return result, nil
}

// access loads a conversation the actor may use. Admins join it as participants.
func (s *ChatService) access(ctx context.Context, actor Actor, conversationID int64) (*models.Conversation, error) {
	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if actor.IsAdmin() {
		if err := s.store.EnsureParticipant(ctx, conv.ID, actor.UserID, actor.Role); err != nil {
			return nil, fmt.Errorf("failed to join conversation: %w", err)
		}
		return conv, nil
	}
	if conv.CustomerID != actor.UserID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// CanAccessConversation reports whether a user may follow a conversation channel
func (s *ChatService) CanAccessConversation(ctx context.Context, conversationID, userID int64, role string) (bool, error) {
	if role == models.RoleAdmin {
		return true, nil
	}
	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conv.CustomerID == userID, nil
}

// GetConversation returns a conversation visible to the actor
func (s *ChatService) GetConversation(ctx context.Context, actor Actor, id int64) (*models.Conversation, error) {
	return s.access(ctx, actor, id)
}

// ListConversations returns the actor's conversations, or every conversation for admins
func (s *ChatService) ListConversations(ctx context.Context, actor Actor, status string) ([]models.Conversation, error) {
	if status != "" && status != models.ConversationStatusOpen && status != models.ConversationStatusClosed {
		return nil, validationError("unknown status %q", status)
	}
	customerID := actor.UserID
	if actor.IsAdmin() {
		customerID = 0
	}
	return s.store.ListConversations(ctx, actor.UserID, customerID, status)
}

// SendMessage stores a message and fans it out. A client_message_id seen before in the
// conversation returns the stored message with Duplicate set.
func (s *ChatService) SendMessage(ctx context.Context, actor Actor, conversationID int64, req *SendMessageRequest) (*SendResult, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.SendMessage", attribute.Int64("conversation_id", conversationID))
	defer span.End()

	body := strings.TrimSpace(req.Body)
	if body == "" {
		util.ChatMessagesTotal.WithLabelValues(actor.Role, "rejected").Inc()
		return nil, validationError("message body is empty")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		util.ChatMessagesTotal.WithLabelValues(actor.Role, "rejected").Inc()
		return nil, validationError("message body exceeds %d characters", maxMessageLength)
	}

	conv, err := s.access(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.ConversationStatusClosed {
		util.ChatMessagesTotal.WithLabelValues(actor.Role, "rejected").Inc()
		return nil, ErrConversationClosed
	}

	var clientID *string
	if id := strings.TrimSpace(req.ClientMessageID); id != "" {
		clientID = &id
		if prior, err := s.store.GetMessageByClientID(ctx, conv.ID, id); err != nil {
			return nil, err
		} else if prior != nil {
			util.ChatMessagesTotal.WithLabelValues(actor.Role, "duplicate").Inc()
			return &SendResult{Message: prior, Duplicate: true}, nil
		}
	}

	msg := &models.Message{
		ConversationID:  conv.ID,
		SenderID:        actor.UserID,
		SenderRole:      actor.Role,
		Body:            body,
		ClientMessageID: clientID,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) && clientID != nil {
			prior, ferr := s.store.GetMessageByClientID(ctx, conv.ID, *clientID)
			if ferr == nil && prior != nil {
				util.ChatMessagesTotal.WithLabelValues(actor.Role, "duplicate").Inc()
				return &SendResult{Message: prior, Duplicate: true}, nil
			}
		}
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	util.ChatMessagesTotal.WithLabelValues(actor.Role, "ok").Inc()

	s.fanOut(ctx, conv, msg)
	return &SendResult{Message: msg}, nil
}

// fanOut bumps the unread counters of the other participants and pushes the message
func (s *ChatService) fanOut(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	participants, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("Failed to list participants", zap.Int64("conversation_id", conv.ID), zap.Error(err))
	}

	_ = s.realtime.Publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventNewMessage, msg)
	if msg.SenderRole != models.RoleAdmin {
		_ = s.realtime.Publish(ctx, realtime.AdminChannel, realtime.EventNewMessage, map[string]interface{}{
			"conversation_id": conv.ID,
			"customer_id":     conv.CustomerID,
			"subject":         conv.Subject,
			"message":         msg,
		})
	}

	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		if err := s.cache.IncrUnread(ctx, p.UserID, conv.ID, 1); err != nil {
			s.logger.Warn("Failed to bump unread counter", zap.Int64("user_id", p.UserID), zap.Error(err))
		}
		s.pushUnread(ctx, p.UserID)
	}
}

// ListMessages returns a page of messages older than beforeID in ascending order
func (s *ChatService) ListMessages(ctx context.Context, actor Actor, conversationID, beforeID int64, limit int) ([]models.Message, error) {
	if _, err := s.access(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	return s.store.ListMessages(ctx, conversationID, beforeID, limit)
}

// MarkRead moves the actor's read marker to now and clears the cached counter
func (s *ChatService) MarkRead(ctx context.Context, actor Actor, conversationID int64) error {
	if _, err := s.access(ctx, actor, conversationID); err != nil {
		return err
	}
	if err := s.store.MarkConversationRead(ctx, conversationID, actor.UserID, actor.Role); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	if err := s.cache.ResetUnread(ctx, actor.UserID, conversationID); err != nil {
		s.logger.Warn("Failed to reset unread counter", zap.Int64("user_id", actor.UserID), zap.Error(err))
	}

	_ = s.realtime.Publish(ctx, realtime.ConversationChannel(conversationID), realtime.EventMessageRead, map[string]interface{}{
		"conversation_id": conversationID,
		"user_id":         actor.UserID,
		"read_at":         time.Now().UTC(),
	})
	s.pushUnread(ctx, actor.UserID)
	return nil
}

// UnreadCounts returns the actor's unread counts, rebuilding the cache on a miss
func (s *ChatService) UnreadCounts(ctx context.Context, actor Actor) (*UnreadSummary, error) {
	return s.unreadFor(ctx, actor.UserID)
}

func (s *ChatService) unreadFor(ctx context.Context, userID int64) (*UnreadSummary, error) {
	counts, found, err := s.cache.GetUnreadCounts(ctx, userID)
	if err != nil {
		s.logger.Warn("Unread cache read failed, using database", zap.Int64("user_id", userID), zap.Error(err))
		found = false
	}

	if !found {
		counts, err = s.store.UnreadCounts(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}
		if err := s.cache.SetUnreadCounts(ctx, userID, counts, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to warm unread cache", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	summary := &UnreadSummary{Conversations: make(map[int64]int64, len(counts))}
	for convID, n := range counts {
		if n <= 0 {
			continue
		}
		summary.Conversations[convID] = n
		summary.Total += n
	}
	return summary, nil
}

func (s *ChatService) pushUnread(ctx context.Context, userID int64) {
	summary, err := s.unreadFor(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to compute unread counts", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	_ = s.realtime.Publish(ctx, realtime.UserChannel(userID), realtime.EventUnreadCount, summary)
}

// Close closes a conversation; only admins may close
func (s *ChatService) Close(ctx context.Context, actor Actor, conversationID int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.store.CloseConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			if _, gerr := s.store.GetConversationByID(ctx, conversationID); gerr != nil {
				return translateStoreError(gerr)
			}
			return ErrConversationClosed
		}
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	s.logger.Info("Conversation closed",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("admin_id", actor.UserID))
	return nil
}
