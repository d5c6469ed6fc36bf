package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/stationchat/internal/middleware"
	"github.com/lalith-99/stationchat/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Returns the caller's display profile as the chat sees it (nickname,
// avatar, branch). Accounts are owned by the game's login service; a token
// for a user with no row here is a 404, not a 500.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
