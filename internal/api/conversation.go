package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/middleware"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/repository"
	"go.uber.org/zap"
)

// ConversationHandler exposes the caller's direct-message ledger.
type ConversationHandler struct {
	repo   repository.ConversationRepository
	logger *zap.Logger
}

func NewConversationHandler(repo repository.ConversationRepository, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{repo: repo, logger: logger}
}

// List handles GET /v1/chat/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.repo.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

// MarkRead handles POST /v1/chat/read/:peerId
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), middleware.GetUserID(c), peerID); err != nil {
		h.logger.Error("failed to mark conversation read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /v1/chat/conversations/:peerId
//
// Only the caller's row goes; the peer keeps theirs and the messages stay.
func (h *ConversationHandler) Delete(c *gin.Context) {
	peerID, ok := peerParam(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), middleware.GetUserID(c), peerID); err != nil {
		h.logger.Error("failed to delete conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

type unreadResponse struct {
	Total  int               `json:"total"`
	ByPeer map[uuid.UUID]int `json:"by_peer"`
}

// Unread handles GET /v1/chat/unread
func (h *ConversationHandler) Unread(c *gin.Context) {
	total, byPeer, err := h.repo.Unread(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to count unread", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread"})
		return
	}
	if byPeer == nil {
		byPeer = map[uuid.UUID]int{}
	}
	c.JSON(http.StatusOK, unreadResponse{Total: total, ByPeer: byPeer})
}

func peerParam(c *gin.Context) (uuid.UUID, bool) {
	peerID, err := uuid.Parse(c.Param("peerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer ID"})
		return uuid.Nil, false
	}
	return peerID, true
}
