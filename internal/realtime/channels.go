package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Events delivered to clients
const (
	EventNewMessage      = "new-message"
	EventMessageRead     = "message-read"
	EventUnreadCount     = "unread-count"
	EventNewNotification = "new-notification"
	EventBookingUpdated  = "booking-updated"
)

// AdminChannel receives announcements for every admin
const AdminChannel = "admin"

// redisPrefix namespaces realtime channels on the shared Redis pub/sub
const redisPrefix = "rt:"

const (
	userChannelPrefix         = "user-"
	conversationChannelPrefix = "conversation-"
)

// UserChannel is the private channel of a user
func UserChannel(userID int64) string {
	return fmt.Sprintf("%s%d", userChannelPrefix, userID)
}

// ConversationChannel is the channel of a chat conversation
func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("%s%d", conversationChannelPrefix, conversationID)
}

// Envelope is the JSON frame pushed to subscribers
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// ChannelKind classifies a channel name
type ChannelKind int

const (
	ChannelInvalid ChannelKind = iota
	ChannelUser
	ChannelConversation
	ChannelAdmin
)

// ParseChannel returns the kind of a channel and its numeric id, if any
func ParseChannel(name string) (ChannelKind, int64) {
	if name == AdminChannel {
		return ChannelAdmin, 0
	}

	var kind ChannelKind
	var rest string
	switch {
	case strings.HasPrefix(name, userChannelPrefix):
		kind, rest = ChannelUser, strings.TrimPrefix(name, userChannelPrefix)
	case strings.HasPrefix(name, conversationChannelPrefix):
		kind, rest = ChannelConversation, strings.TrimPrefix(name, conversationChannelPrefix)
	default:
		return ChannelInvalid, 0
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return ChannelInvalid, 0
	}
	return kind, id
}
