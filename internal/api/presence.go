package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/repository"
	"go.uber.org/zap"
)

const maxPresenceLookup = 200

type PresenceHandler struct {
	repo   repository.PresenceRepository
	logger *zap.Logger
}

func NewPresenceHandler(repo repository.PresenceRepository, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{repo: repo, logger: logger}
}

type onlineStatusRequest struct {
	UserIDs []uuid.UUID `json:"userIds" binding:"required"`
}

type onlineStatus struct {
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// OnlineStatus handles POST /v1/chat/online-status
//
// Every requested id appears in the response; users never seen online
// come back as offline with no last_seen.
func (h *PresenceHandler) OnlineStatus(c *gin.Context) {
	var req onlineStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.UserIDs) > maxPresenceLookup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many user IDs"})
		return
	}

	rows, err := h.repo.GetMany(c.Request.Context(), req.UserIDs)
	if err != nil {
		h.logger.Error("failed to load presence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}

	out := make(map[uuid.UUID]onlineStatus, len(req.UserIDs))
	for _, id := range req.UserIDs {
		row, ok := rows[id]
		if !ok {
			out[id] = onlineStatus{}
			continue
		}
		lastSeen := row.LastSeen
		out[id] = onlineStatus{Online: row.Online, LastSeen: &lastSeen}
	}
	c.JSON(http.StatusOK, out)
}
