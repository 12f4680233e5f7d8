package api

import (
	"context"
	"net/http"

	"rental-service/internal/models"
	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatAPI serves support conversations
type ChatAPI interface {
	StartConversation(ctx context.Context, actor service.Actor, req *service.StartConversationRequest) (*service.StartResult, error)
	GetConversation(ctx context.Context, actor service.Actor, id int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, actor service.Actor, status string) ([]models.Conversation, error)
	SendMessage(ctx context.Context, actor service.Actor, conversationID int64, req *service.SendMessageRequest) (*service.SendResult, error)
	ListMessages(ctx context.Context, actor service.Actor, conversationID, beforeID int64, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, actor service.Actor, conversationID int64) error
	UnreadCounts(ctx context.Context, actor service.Actor) (*service.UnreadSummary, error)
	Close(ctx context.Context, actor service.Actor, conversationID int64) error
}

func (h *Handler) startConversation(c *gin.Context) {
	var req service.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	result, err := h.chat.StartConversation(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listConversations(c *gin.Context) {
	conversations, err := h.chat.ListConversations(c.Request.Context(), actorFrom(c), c.Query("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *Handler) getConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conv, err := h.chat.GetConversation(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) listMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	before, ok := queryInt64(c, "before")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}

	messages, err := h.chat.ListMessages(c.Request.Context(), actorFrom(c), id, before, int(limit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// sendMessage answers 201 for a new message and 200 for a repeated client_message_id
func (h *Handler) sendMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.chat.SendMessage(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	code := http.StatusCreated
	if result.Duplicate {
		code = http.StatusOK
	}
	c.JSON(code, result)
}

func (h *Handler) markConversationRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.chat.MarkRead(c.Request.Context(), actorFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) closeConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.chat.Close(c.Request.Context(), actorFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unreadCounts(c *gin.Context) {
	summary, err := h.chat.UnreadCounts(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
