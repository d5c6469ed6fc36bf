package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/middleware"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/repository"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// HistoryHandler serves stored messages for the three scopes. The live
// channel never replays history; clients page through it here.
type HistoryHandler struct {
	repo   repository.MessageRepository
	logger *zap.Logger
}

func NewHistoryHandler(repo repository.MessageRepository, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{repo: repo, logger: logger}
}

type page struct {
	before string
	limit  int
}

// parsePage reads ?before=<message id>&limit=N.
//
//   - before: a message id; only older messages are returned. Empty = latest.
//   - limit:  default 50, capped at 100.
func parsePage(c *gin.Context) (page, bool) {
	p := page{limit: 50}

	if b := c.Query("before"); b != "" {
		if _, err := ulid.ParseStrict(b); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return p, false
		}
		p.before = b
	}

	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return p, false
		}
		p.limit = min(limit, 100)
	}
	return p, true
}

// Branch handles GET /v1/chat/branch
func (h *HistoryHandler) Branch(c *gin.Context) {
	p, ok := parsePage(c)
	if !ok {
		return
	}
	messages, err := h.repo.ListBranch(c.Request.Context(), middleware.GetBranchID(c), p.before, p.limit)
	h.respond(c, messages, err, "branch")
}

// World handles GET /v1/chat/world
func (h *HistoryHandler) World(c *gin.Context) {
	p, ok := parsePage(c)
	if !ok {
		return
	}
	messages, err := h.repo.ListWorld(c.Request.Context(), p.before, p.limit)
	h.respond(c, messages, err, "world")
}

// Private handles GET /v1/chat/private/:peerId
func (h *HistoryHandler) Private(c *gin.Context) {
	peerID, err := uuid.Parse(c.Param("peerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer ID"})
		return
	}
	p, ok := parsePage(c)
	if !ok {
		return
	}
	messages, err := h.repo.ListDirect(c.Request.Context(), middleware.GetUserID(c), peerID, p.before, p.limit)
	h.respond(c, messages, err, "direct")
}

func (h *HistoryHandler) respond(c *gin.Context, messages []models.Message, err error, scope string) {
	if err != nil {
		h.logger.Error("failed to list messages", zap.String("scope", scope), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}
